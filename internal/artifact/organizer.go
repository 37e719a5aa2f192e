// Package artifact owns the on-disk layout of an episode's source and outputs.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

const (
	sourceBaseName  = "original"
	manifestName    = "master.m3u8"
	playlistName    = "playlist.m3u8"
	thumbnailName   = "thumbnail.jpg"
	subtitleDirName = "subtitles"
	segmentPattern  = "segment_%03d.ts"
	subtitleFileExt = ".vtt"
)

var (
	ErrInvalidEpisodeID = errors.New("invalid episode id")
	ErrEmptySource      = errors.New("source file is empty")
)

// Layout is the set of paths derived from one episode's working root.
type Layout struct {
	Root          string
	ManifestPath  string
	ThumbnailPath string
	SubtitleDir   string
}

func (l Layout) RenditionDir(quality string) string {
	return filepath.Join(l.Root, quality)
}

func (l Layout) RenditionPlaylist(quality string) string {
	return filepath.Join(l.Root, quality, playlistName)
}

func (l Layout) SegmentPattern(quality string) string {
	return filepath.Join(l.Root, quality, segmentPattern)
}

func (l Layout) SubtitlePath(language string) string {
	return filepath.Join(l.SubtitleDir, language+subtitleFileExt)
}

// Organizer places sources and cleans up outputs under a base directory.
type Organizer struct {
	baseDir    string
	scratchDir string
}

func NewOrganizer(baseDir, scratchDir string) *Organizer {
	return &Organizer{
		baseDir:    filepath.Clean(baseDir),
		scratchDir: filepath.Clean(scratchDir),
	}
}

// LayoutFor derives the paths for an episode. It does not touch the filesystem.
func (o *Organizer) LayoutFor(episodeID string) Layout {
	root := filepath.Join(o.baseDir, episodeID)
	return Layout{
		Root:          root,
		ManifestPath:  filepath.Join(root, manifestName),
		ThumbnailPath: filepath.Join(root, thumbnailName),
		SubtitleDir:   filepath.Join(root, subtitleDirName),
	}
}

// ScratchDir is the per-episode working directory outside the published tree.
func (o *Organizer) ScratchDir(episodeID string) string {
	return filepath.Join(o.scratchDir, episodeID)
}

// AdoptSource moves an uploaded file to {root}/original<ext>.
// Any previously adopted source is replaced.
func (o *Organizer) AdoptSource(episodeID, uploadedPath string) (string, error) {
	if err := ValidateEpisodeID(episodeID); err != nil {
		return "", err
	}

	info, err := os.Stat(uploadedPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat uploaded file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("uploaded path is a directory: %s", uploadedPath)
	}
	if info.Size() == 0 {
		return "", ErrEmptySource
	}

	layout := o.LayoutFor(episodeID)
	if err := os.MkdirAll(layout.Root, 0o755); err != nil {
		return "", fmt.Errorf("failed to create episode root: %w", err)
	}

	dest := filepath.Join(layout.Root, sourceBaseName+strings.ToLower(filepath.Ext(uploadedPath)))
	if samePath(uploadedPath, dest) {
		return dest, nil
	}

	if err := o.removeSources(layout.Root); err != nil {
		return "", err
	}

	if err := moveFile(uploadedPath, dest); err != nil {
		return "", fmt.Errorf("failed to move source into place: %w", err)
	}

	return dest, nil
}

// Purge removes the episode's whole working root. A missing root is not an error.
func (o *Organizer) Purge(episodeID string) error {
	if err := ValidateEpisodeID(episodeID); err != nil {
		return err
	}
	if err := os.RemoveAll(o.LayoutFor(episodeID).Root); err != nil {
		return fmt.Errorf("failed to purge episode root: %w", err)
	}
	return nil
}

// PurgeScratch removes the episode's scratch directory.
func (o *Organizer) PurgeScratch(episodeID string) error {
	if err := ValidateEpisodeID(episodeID); err != nil {
		return err
	}
	if err := os.RemoveAll(o.ScratchDir(episodeID)); err != nil {
		return fmt.Errorf("failed to purge scratch dir: %w", err)
	}
	return nil
}

// ResetOutputs deletes everything under the episode root except the adopted source,
// so a new attempt starts from an empty output tree.
func (o *Organizer) ResetOutputs(episodeID string) error {
	if err := ValidateEpisodeID(episodeID); err != nil {
		return err
	}

	root := o.LayoutFor(episodeID).Root
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return os.MkdirAll(root, 0o755)
	}
	if err != nil {
		return fmt.Errorf("failed to read episode root: %w", err)
	}

	for _, entry := range entries {
		if isSource(entry.Name()) && !entry.IsDir() {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, entry.Name())); err != nil {
			return fmt.Errorf("failed to remove %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// RemoveSource deletes a source file after it is no longer needed.
func (o *Organizer) RemoveSource(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove source: %w", err)
	}
	return nil
}

// Relative converts a path under the base directory to the slash-separated
// form stored on content records, e.g. "ep1/master.m3u8".
func (o *Organizer) Relative(path string) string {
	rel, err := filepath.Rel(o.baseDir, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// ValidateEpisodeID rejects IDs that would escape the base directory.
func ValidateEpisodeID(episodeID string) error {
	switch {
	case episodeID == "", episodeID == ".", episodeID == "..":
		return fmt.Errorf("%w: %q", ErrInvalidEpisodeID, episodeID)
	case strings.ContainsAny(episodeID, `/\`), strings.ContainsRune(episodeID, 0):
		return fmt.Errorf("%w: %q", ErrInvalidEpisodeID, episodeID)
	}
	return nil
}

func (o *Organizer) removeSources(root string) error {
	matches, err := filepath.Glob(filepath.Join(root, sourceBaseName+".*"))
	if err != nil {
		return fmt.Errorf("failed to list previous sources: %w", err)
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove previous source: %w", err)
		}
	}
	// A source without an extension.
	if err := os.Remove(filepath.Join(root, sourceBaseName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove previous source: %w", err)
	}
	return nil
}

func isSource(name string) bool {
	return name == sourceBaseName || strings.HasPrefix(name, sourceBaseName+".")
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

// moveFile renames src to dst, copying across filesystems when rename cannot.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}

	if err := copyFile(src, dst); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
