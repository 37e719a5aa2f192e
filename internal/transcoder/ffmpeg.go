package transcoder

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FFmpegConfig holds configuration for the FFmpeg runner.
type FFmpegConfig struct {
	// FFmpegPath is the path to the ffmpeg binary.
	// If empty, "ffmpeg" will be used (assumes it's in PATH).
	FFmpegPath string

	// FFprobePath is the path to the ffprobe binary.
	FFprobePath string

	// VideoCodec is the video codec to use.
	// Default: libx264
	VideoCodec string

	// Tune is passed to -tune when set.
	// Default: animation
	Tune string

	// AudioCodec is the audio codec to use.
	// Default: aac
	AudioCodec string

	// GOPSize is the keyframe interval in frames.
	GOPSize int

	// HLSSegmentDuration is the target duration of each HLS segment in seconds.
	// Default: 6
	HLSSegmentDuration int

	// HLSPlaylistType sets the playlist type.
	// Default: vod
	HLSPlaylistType string

	// KillGracePeriod is how long to keep reading output after a cancelled
	// process group was killed before the pipes are closed.
	KillGracePeriod time.Duration
}

// DefaultFFmpegConfig returns an FFmpegConfig with production-ready defaults.
func DefaultFFmpegConfig() FFmpegConfig {
	return FFmpegConfig{
		FFmpegPath:         "ffmpeg",
		FFprobePath:        "ffprobe",
		VideoCodec:         "libx264",
		Tune:               "animation",
		AudioCodec:         "aac",
		GOPSize:            48,
		HLSSegmentDuration: 6,
		HLSPlaylistType:    "vod",
		KillGracePeriod:    5 * time.Second,
	}
}

// FFmpegRunner implements MediaToolRunner with the ffmpeg and ffprobe CLIs.
type FFmpegRunner struct {
	config FFmpegConfig
}

// Compile-time verification that FFmpegRunner implements MediaToolRunner.
var _ MediaToolRunner = (*FFmpegRunner)(nil)

func NewFFmpegRunner(cfg FFmpegConfig) *FFmpegRunner {
	return &FFmpegRunner{
		config: cfg,
	}
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

type ffprobeStream struct {
	Index     int               `json:"index"`
	CodecName string            `json:"codec_name"`
	CodecType string            `json:"codec_type"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Duration  string            `json:"duration"`
	Tags      map[string]string `json:"tags"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

// Probe runs ffprobe against the source and decodes its JSON report.
func (r *FFmpegRunner) Probe(ctx context.Context, sourcePath string) (*SourceInfo, error) {
	if err := validateInput(sourcePath); err != nil {
		return nil, err
	}

	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"--", sourcePath,
	}

	var stdout strings.Builder
	if err := r.run(ctx, r.config.FFprobePath, args, &stdout); err != nil {
		return nil, err
	}

	return parseProbeOutput([]byte(stdout.String()))
}

func parseProbeOutput(data []byte) (*SourceInfo, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := &SourceInfo{
		Duration: parseSeconds(out.Format.Duration),
	}

	subtitleOrdinal := 0
	foundVideo := false
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if foundVideo || s.CodecName == "mjpeg" || s.CodecName == "png" {
				continue
			}
			foundVideo = true
			info.Width = s.Width
			info.Height = s.Height
			info.VideoCodec = s.CodecName
			if info.Duration == 0 {
				info.Duration = parseSeconds(s.Duration)
			}
		case "subtitle":
			info.Subtitles = append(info.Subtitles, SubtitleTrack{
				Ordinal:  subtitleOrdinal,
				Codec:    s.CodecName,
				Language: tagValue(s.Tags, "language"),
				Title:    tagValue(s.Tags, "title"),
			})
			subtitleOrdinal++
		}
	}

	if !foundVideo {
		return nil, ErrNoVideoStream
	}
	if info.Duration <= 0 {
		return nil, fmt.Errorf("source duration unavailable")
	}

	return info, nil
}

// ExtractFrame writes one frame scaled to fit 1280x720.
func (r *FFmpegRunner) ExtractFrame(ctx context.Context, sourcePath, destPath string, offset time.Duration) error {
	args := []string{
		"-y",
		"-ss", formatSeconds(offset.Seconds()),
		"-i", sourcePath,
		"-vframes", "1",
		"-vf", "scale=1280:720:force_original_aspect_ratio=decrease",
		"-q:v", "2",
		destPath,
	}
	if err := r.run(ctx, r.config.FFmpegPath, args, nil); err != nil {
		return err
	}
	return requireNonEmpty(destPath)
}

// ExtractSubtitleTrack converts the ordinal-th subtitle stream to WebVTT.
func (r *FFmpegRunner) ExtractSubtitleTrack(ctx context.Context, sourcePath string, ordinal int, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create subtitle directory: %w", err)
	}
	args := []string{
		"-y",
		"-i", sourcePath,
		"-map", fmt.Sprintf("0:s:%d", ordinal),
		"-f", "webvtt",
		destPath,
	}
	if err := r.run(ctx, r.config.FFmpegPath, args, nil); err != nil {
		return err
	}
	return requireNonEmpty(destPath)
}

// EncodeRendition encodes one HLS rendition, reporting progress parsed from -progress output.
func (r *FFmpegRunner) EncodeRendition(ctx context.Context, req EncodeRequest, onProgress ProgressFunc) error {
	if err := validateInput(req.SourcePath); err != nil {
		return err
	}
	if err := validateOutputDir(filepath.Dir(req.PlaylistPath)); err != nil {
		return err
	}

	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		readProgress(pr, req.Duration, onProgress)
	}()

	err := r.run(ctx, r.config.FFmpegPath, r.buildEncodeArgs(req), pw)
	pw.Close()
	<-done

	if err != nil {
		return err
	}
	if onProgress != nil {
		onProgress(1)
	}
	return requireNonEmpty(req.PlaylistPath)
}

// buildEncodeArgs constructs the ffmpeg arguments for a rendition.
func (r *FFmpegRunner) buildEncodeArgs(req EncodeRequest) []string {
	p := req.Preset
	scaleFilter := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=ceil(iw/2)*2:ceil(ih/2)*2",
		p.Width, p.Height,
	)

	args := []string{
		"-y",
		"-i", req.SourcePath,
		"-c:v", r.config.VideoCodec,
		"-preset", p.EncodePreset,
	}
	if r.config.Tune != "" {
		args = append(args, "-tune", r.config.Tune)
	}
	args = append(args,
		"-b:v", fmt.Sprintf("%dk", p.VideoBitrate),
		"-maxrate", fmt.Sprintf("%dk", p.VideoBitrate),
		"-bufsize", fmt.Sprintf("%dk", p.VideoBitrate*2),
		"-vf", scaleFilter,
		"-pix_fmt", "yuv420p",
		"-g", strconv.Itoa(r.config.GOPSize),
		"-sc_threshold", "0",
		"-c:a", r.config.AudioCodec,
		"-b:a", fmt.Sprintf("%dk", p.AudioBitrate),
		"-ac", "2",
		"-f", "hls",
		"-hls_time", strconv.Itoa(r.config.HLSSegmentDuration),
		"-hls_list_size", "0",
		"-hls_playlist_type", r.config.HLSPlaylistType,
		"-hls_segment_filename", req.SegmentPattern,
		"-progress", "pipe:1",
		"-nostats",
		req.PlaylistPath,
	)
	return args
}

// readProgress consumes ffmpeg -progress key=value lines until EOF.
func readProgress(r io.Reader, duration float64, onProgress ProgressFunc) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok || onProgress == nil || duration <= 0 {
			continue
		}
		switch key {
		// out_time_ms is reported in microseconds as well.
		case "out_time_us", "out_time_ms":
			us, err := strconv.ParseInt(value, 10, 64)
			if err != nil || us < 0 {
				continue
			}
			fraction := float64(us) / 1e6 / duration
			onProgress(min(fraction, 1))
		case "progress":
			if value == "end" {
				onProgress(1)
			}
		}
	}
	// Drain so the writer never blocks after a scan error.
	_, _ = io.Copy(io.Discard, r)
}

// validateInput checks if the input file exists and is readable.
func validateInput(inputPath string) error {
	info, err := os.Stat(inputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input file does not exist: %s", inputPath)
		}
		return fmt.Errorf("failed to access input file: %w", err)
	}

	if info.IsDir() {
		return fmt.Errorf("input path is a directory, expected a file: %s", inputPath)
	}

	return nil
}

// validateOutputDir checks if the output directory exists.
func validateOutputDir(outputDir string) error {
	info, err := os.Stat(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("output directory does not exist: %s", outputDir)
		}
		return fmt.Errorf("failed to access output directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("output path is not a directory: %s", outputDir)
	}

	return nil
}

func requireNonEmpty(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("expected output %s: %w", filepath.Base(path), err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("output %s is empty", filepath.Base(path))
	}
	return nil
}

func tagValue(tags map[string]string, key string) string {
	for k, v := range tags {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func parseSeconds(value string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
