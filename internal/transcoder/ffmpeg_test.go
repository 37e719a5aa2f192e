package transcoder

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/hszk-dev/vodforge/internal/planner"
)

func TestDefaultFFmpegConfig(t *testing.T) {
	cfg := DefaultFFmpegConfig()

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"FFmpegPath", cfg.FFmpegPath, "ffmpeg"},
		{"FFprobePath", cfg.FFprobePath, "ffprobe"},
		{"VideoCodec", cfg.VideoCodec, "libx264"},
		{"Tune", cfg.Tune, "animation"},
		{"AudioCodec", cfg.AudioCodec, "aac"},
		{"GOPSize", cfg.GOPSize, 48},
		{"HLSSegmentDuration", cfg.HLSSegmentDuration, 6},
		{"HLSPlaylistType", cfg.HLSPlaylistType, "vod"},
		{"KillGracePeriod", cfg.KillGracePeriod, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %v, expected %v", tt.got, tt.expected)
			}
		})
	}
}

func TestValidateInput(t *testing.T) {
	t.Run("non-existent file returns error", func(t *testing.T) {
		if err := validateInput("/non/existent/file.mp4"); err == nil {
			t.Error("expected error for non-existent file")
		}
	})

	t.Run("directory returns error", func(t *testing.T) {
		if err := validateInput(t.TempDir()); err == nil {
			t.Error("expected error when input is a directory")
		}
	})

	t.Run("existing file succeeds", func(t *testing.T) {
		tmpFile := filepath.Join(t.TempDir(), "test.mp4")
		if err := os.WriteFile(tmpFile, []byte("dummy"), 0o644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}
		if err := validateInput(tmpFile); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestValidateOutputDir(t *testing.T) {
	t.Run("missing directory returns error", func(t *testing.T) {
		if err := validateOutputDir(filepath.Join(t.TempDir(), "missing")); err == nil {
			t.Error("expected error for missing directory")
		}
	})

	t.Run("file returns error", func(t *testing.T) {
		f := filepath.Join(t.TempDir(), "file")
		os.WriteFile(f, []byte("x"), 0o644)
		if err := validateOutputDir(f); err == nil {
			t.Error("expected error when output is a file")
		}
	})

	t.Run("directory succeeds", func(t *testing.T) {
		if err := validateOutputDir(t.TempDir()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestFFmpegRunner_BuildEncodeArgs(t *testing.T) {
	runner := NewFFmpegRunner(DefaultFFmpegConfig())

	args := runner.buildEncodeArgs(EncodeRequest{
		SourcePath:     "/videos/ep1/original.mkv",
		Preset:         planner.HD,
		PlaylistPath:   "/videos/ep1/1080p/playlist.m3u8",
		SegmentPattern: "/videos/ep1/1080p/segment_%03d.ts",
		Duration:       1440,
	})

	pairs := map[string]string{
		"-i":                    "/videos/ep1/original.mkv",
		"-c:v":                  "libx264",
		"-preset":               "slow",
		"-tune":                 "animation",
		"-b:v":                  "5000k",
		"-maxrate":              "5000k",
		"-bufsize":              "10000k",
		"-vf":                   "scale=1920:1080:force_original_aspect_ratio=decrease,pad=ceil(iw/2)*2:ceil(ih/2)*2",
		"-pix_fmt":              "yuv420p",
		"-g":                    "48",
		"-sc_threshold":         "0",
		"-c:a":                  "aac",
		"-b:a":                  "192k",
		"-ac":                   "2",
		"-f":                    "hls",
		"-hls_time":             "6",
		"-hls_list_size":        "0",
		"-hls_playlist_type":    "vod",
		"-hls_segment_filename": "/videos/ep1/1080p/segment_%03d.ts",
		"-progress":             "pipe:1",
	}

	for flag, want := range pairs {
		idx := slices.Index(args, flag)
		if idx < 0 || idx+1 >= len(args) {
			t.Errorf("missing flag %s", flag)
			continue
		}
		if args[idx+1] != want {
			t.Errorf("%s = %q, want %q", flag, args[idx+1], want)
		}
	}

	if args[len(args)-1] != "/videos/ep1/1080p/playlist.m3u8" {
		t.Errorf("last arg = %q, want playlist path", args[len(args)-1])
	}
	if !slices.Contains(args, "-y") {
		t.Error("missing -y overwrite flag")
	}
}

func TestFFmpegRunner_BuildEncodeArgs_NoTune(t *testing.T) {
	cfg := DefaultFFmpegConfig()
	cfg.Tune = ""
	runner := NewFFmpegRunner(cfg)

	args := runner.buildEncodeArgs(EncodeRequest{Preset: planner.Baseline})
	if slices.Contains(args, "-tune") {
		t.Error("-tune should be omitted when Tune is empty")
	}
}

func TestParseProbeOutput(t *testing.T) {
	t.Run("video with subtitles", func(t *testing.T) {
		data := []byte(`{
			"streams": [
				{"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080},
				{"index": 1, "codec_name": "aac", "codec_type": "audio", "tags": {"language": "jpn"}},
				{"index": 2, "codec_name": "ass", "codec_type": "subtitle", "tags": {"language": "eng", "title": "Full"}},
				{"index": 3, "codec_name": "subrip", "codec_type": "subtitle"},
				{"index": 4, "codec_name": "mjpeg", "codec_type": "video", "width": 600, "height": 600}
			],
			"format": {"duration": "1425.120000"}
		}`)

		info, err := parseProbeOutput(data)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if info.Duration != 1425.12 {
			t.Errorf("Duration = %v, want 1425.12", info.Duration)
		}
		if info.Width != 1920 || info.Height != 1080 {
			t.Errorf("resolution = %dx%d, want 1920x1080", info.Width, info.Height)
		}
		if info.VideoCodec != "h264" {
			t.Errorf("VideoCodec = %q, want h264", info.VideoCodec)
		}
		if len(info.Subtitles) != 2 {
			t.Fatalf("subtitle count = %d, want 2", len(info.Subtitles))
		}
		if info.Subtitles[0].Ordinal != 0 || info.Subtitles[0].Language != "eng" || info.Subtitles[0].Title != "Full" {
			t.Errorf("first subtitle = %+v", info.Subtitles[0])
		}
		if info.Subtitles[1].Ordinal != 1 || info.Subtitles[1].Language != "" {
			t.Errorf("second subtitle = %+v", info.Subtitles[1])
		}
	})

	t.Run("duration falls back to stream", func(t *testing.T) {
		data := []byte(`{"streams":[{"codec_type":"video","codec_name":"hevc","width":1280,"height":720,"duration":"60.5"}],"format":{}}`)

		info, err := parseProbeOutput(data)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if info.Duration != 60.5 {
			t.Errorf("Duration = %v, want 60.5", info.Duration)
		}
	})

	t.Run("no video stream", func(t *testing.T) {
		data := []byte(`{"streams":[{"codec_type":"audio"}],"format":{"duration":"10"}}`)

		if _, err := parseProbeOutput(data); !errors.Is(err, ErrNoVideoStream) {
			t.Errorf("error = %v, want ErrNoVideoStream", err)
		}
	})

	t.Run("missing duration", func(t *testing.T) {
		data := []byte(`{"streams":[{"codec_type":"video","width":640,"height":360}],"format":{"duration":"N/A"}}`)

		if _, err := parseProbeOutput(data); err == nil {
			t.Error("expected error for missing duration")
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		if _, err := parseProbeOutput([]byte("not json")); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestReadProgress(t *testing.T) {
	input := strings.Join([]string{
		"frame=10",
		"out_time_us=2500000",
		"progress=continue",
		"out_time_ms=5000000",
		"out_time_us=N/A",
		"out_time_us=20000000",
		"progress=end",
	}, "\n")

	var got []float64
	readProgress(strings.NewReader(input), 10, func(f float64) {
		got = append(got, f)
	})

	want := []float64{0.25, 0.5, 1, 1}
	if !slices.Equal(got, want) {
		t.Errorf("progress = %v, want %v", got, want)
	}
}

func TestReadProgress_UnknownDuration(t *testing.T) {
	called := false
	readProgress(strings.NewReader("out_time_us=1000\n"), 0, func(float64) { called = true })

	if called {
		t.Error("progress callback should not fire without a duration")
	}
}

func TestWriteMasterPlaylist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.m3u8")

	if err := WriteMasterPlaylist(path, []planner.Preset{planner.HD, planner.Baseline}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read master playlist: %v", err)
	}

	want := "#EXTM3U\n#EXT-X-VERSION:3\n\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=5192000,RESOLUTION=1920x1080\n1080p/playlist.m3u8\n\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=1096000,RESOLUTION=854x480\n480p/playlist.m3u8\n\n"
	if string(content) != want {
		t.Errorf("playlist =\n%s\nwant\n%s", content, want)
	}
}

func TestWriteMasterPlaylist_Empty(t *testing.T) {
	if err := WriteMasterPlaylist(filepath.Join(t.TempDir(), "m.m3u8"), nil); err == nil {
		t.Error("expected error for empty rendition list")
	}
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{max: 8}
	b.Write([]byte("hello "))
	b.Write([]byte("world!"))

	if got := b.String(); got != "o world!" {
		t.Errorf("String() = %q, want %q", got, "o world!")
	}
}
