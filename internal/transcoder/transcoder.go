package transcoder

import (
	"context"
	"errors"
	"time"

	"github.com/hszk-dev/vodforge/internal/planner"
)

var ErrNoVideoStream = errors.New("source has no video stream")

// SubtitleTrack is an embedded subtitle stream found by Probe.
type SubtitleTrack struct {
	// Ordinal is the position among subtitle streams, as used by -map 0:s:N.
	Ordinal  int
	Codec    string
	Language string
	Title    string
}

// SourceInfo holds the characteristics of a source file.
type SourceInfo struct {
	Duration   float64 // seconds
	Width      int
	Height     int
	VideoCodec string
	Subtitles  []SubtitleTrack
}

// EncodeRequest describes one rendition to produce.
type EncodeRequest struct {
	SourcePath     string
	Preset         planner.Preset
	PlaylistPath   string
	SegmentPattern string
	// Duration of the source in seconds, used to turn encoder timestamps into a fraction.
	Duration float64
}

// ProgressFunc receives the completed fraction (0..1) of a running encode.
type ProgressFunc func(fraction float64)

// MediaToolRunner drives the external media tool.
// Every method blocks until the subprocess has exited, including on cancellation.
type MediaToolRunner interface {
	// Probe reads duration, resolution, codec and subtitle tracks of a source.
	Probe(ctx context.Context, sourcePath string) (*SourceInfo, error)

	// ExtractFrame writes a single JPEG frame taken at offset.
	ExtractFrame(ctx context.Context, sourcePath, destPath string, offset time.Duration) error

	// ExtractSubtitleTrack converts one embedded subtitle stream to WebVTT.
	ExtractSubtitleTrack(ctx context.Context, sourcePath string, ordinal int, destPath string) error

	// EncodeRendition produces a segmented HLS rendition.
	// The output directory of the playlist must exist.
	EncodeRendition(ctx context.Context, req EncodeRequest, onProgress ProgressFunc) error
}
