package transcoder

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hszk-dev/vodforge/internal/planner"
)

func TestManifest_WriteMasterPlaylist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.m3u8")

	if err := WriteMasterPlaylist(path, planner.Plan(1080)); err != nil {
		t.Fatalf("WriteMasterPlaylist() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read playlist: %v", err)
	}
	got := string(data)

	if !strings.HasPrefix(got, "#EXTM3U\n") {
		t.Errorf("playlist must start with #EXTM3U, got %q", got)
	}

	wantInOrder := []string{
		"#EXT-X-STREAM-INF:BANDWIDTH=5192000,RESOLUTION=1920x1080\n1080p/playlist.m3u8",
		"#EXT-X-STREAM-INF:BANDWIDTH=1096000,RESOLUTION=854x480\n480p/playlist.m3u8",
	}
	last := -1
	for _, want := range wantInOrder {
		idx := strings.Index(got, want)
		if idx < 0 {
			t.Fatalf("playlist missing %q:\n%s", want, got)
		}
		if idx < last {
			t.Errorf("entry %q out of order", want)
		}
		last = idx
	}
}

func TestWriteMasterPlaylist_NoRenditions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.m3u8")

	if err := WriteMasterPlaylist(path, nil); err == nil {
		t.Fatal("expected error for empty rendition list")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("playlist should not be written, stat err = %v", err)
	}
}
