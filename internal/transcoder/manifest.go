package transcoder

import (
	"fmt"
	"os"
	"strings"

	"github.com/hszk-dev/vodforge/internal/planner"
)

// WriteMasterPlaylist creates the master.m3u8 that references every rendition playlist.
// Entries keep the order of presets.
func WriteMasterPlaylist(path string, presets []planner.Preset) error {
	if len(presets) == 0 {
		return fmt.Errorf("at least one rendition is required")
	}

	var sb strings.Builder
	sb.WriteString("#EXTM3U\n")
	sb.WriteString("#EXT-X-VERSION:3\n\n")

	for _, p := range presets {
		fmt.Fprintf(&sb, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s\n", p.Bandwidth(), p.Resolution())
		fmt.Fprintf(&sb, "%s/playlist.m3u8\n\n", p.Quality)
	}

	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write master playlist: %w", err)
	}

	return nil
}
