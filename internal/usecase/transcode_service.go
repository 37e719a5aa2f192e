package usecase

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/hszk-dev/vodforge/internal/artifact"
	"github.com/hszk-dev/vodforge/internal/domain/model"
	"github.com/hszk-dev/vodforge/internal/domain/repository"
	"github.com/hszk-dev/vodforge/internal/infrastructure/metrics"
	"github.com/hszk-dev/vodforge/internal/planner"
	"github.com/hszk-dev/vodforge/internal/transcoder"
)

var (
	// ErrProbeFailed is returned when the source cannot be inspected.
	ErrProbeFailed = errors.New("probe failed")

	// ErrRenditionFailed is returned when any rendition fails to encode.
	ErrRenditionFailed = errors.New("rendition failed")

	// ErrJobAborted is the cancellation cause of a job stopped by an operator.
	ErrJobAborted = errors.New("job aborted")
)

// Stage progress bounds.
const (
	probeEnd     = 10
	thumbnailEnd = 20
	subtitlesEnd = 30
	transcodeEnd = 90
)

// TranscodeServiceConfig holds configuration for TranscodeService.
type TranscodeServiceConfig struct {
	// ThumbnailOffset is where the thumbnail frame is taken, capped at half the duration.
	ThumbnailOffset time.Duration
	// MirrorPrefix is the object key prefix for mirrored renditions, e.g. "hls".
	MirrorPrefix string
}

// DefaultTranscodeServiceConfig returns the default configuration.
func DefaultTranscodeServiceConfig() TranscodeServiceConfig {
	return TranscodeServiceConfig{
		ThumbnailOffset: 10 * time.Second,
		MirrorPrefix:    "hls",
	}
}

// TranscodeService runs one attempt of a job's pipeline.
type TranscodeService interface {
	// Process runs probe, thumbnail, subtitles, transcode, package and finalize.
	// A returned error means the attempt failed; the caller decides about retries.
	Process(ctx context.Context, job *model.Job, progress *ProgressReporter) error
}

type transcodeService struct {
	runner    transcoder.MediaToolRunner
	organizer *artifact.Organizer
	status    *StatusController
	mirror    repository.ObjectStorage

	thumbnailOffset time.Duration
	mirrorPrefix    string
}

// NewTranscodeService creates a new TranscodeService instance.
// mirror may be nil when renditions are served from local disk only.
func NewTranscodeService(
	runner transcoder.MediaToolRunner,
	organizer *artifact.Organizer,
	status *StatusController,
	mirror repository.ObjectStorage,
	cfg TranscodeServiceConfig,
) TranscodeService {
	return &transcodeService{
		runner:          runner,
		organizer:       organizer,
		status:          status,
		mirror:          mirror,
		thumbnailOffset: cfg.ThumbnailOffset,
		mirrorPrefix:    cfg.MirrorPrefix,
	}
}

func (s *transcodeService) Process(ctx context.Context, job *model.Job, progress *ProgressReporter) error {
	logger := slog.With(
		slog.String("job_id", job.ID),
		slog.String("episode_id", job.EpisodeID),
		slog.Int("attempt", job.Attempt+1),
	)
	layout := s.organizer.LayoutFor(job.EpisodeID)

	// Outputs of an earlier attempt are disposable.
	if err := s.organizer.ResetOutputs(job.EpisodeID); err != nil {
		return fmt.Errorf("reset outputs: %w", err)
	}

	// Probe
	if err := s.enterStage(ctx, job, model.StageProbing, progress, 0); err != nil {
		return err
	}
	started := time.Now()
	info, err := s.runner.Probe(ctx, job.SourcePath)
	observeStage(model.StageProbing, started)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}
	logger.Info("probed source",
		slog.Float64("duration", info.Duration),
		slog.Int("width", info.Width),
		slog.Int("height", info.Height),
		slog.String("codec", info.VideoCodec),
		slog.Int("subtitle_tracks", len(info.Subtitles)),
	)
	progress.Report(ctx, model.StageProbing, probeEnd)

	// Thumbnail
	if err := s.enterStage(ctx, job, model.StageThumbnail, progress, probeEnd); err != nil {
		return err
	}
	thumbnail := s.extractThumbnail(ctx, logger, job, layout, info)
	if err := interrupted(ctx, model.StageThumbnail); err != nil {
		return err
	}
	progress.Report(ctx, model.StageThumbnail, thumbnailEnd)

	// Subtitles
	if err := s.enterStage(ctx, job, model.StageSubtitles, progress, thumbnailEnd); err != nil {
		return err
	}
	subtitles, err := s.extractSubtitles(ctx, logger, job, layout, info, progress)
	if err != nil {
		return err
	}
	progress.Report(ctx, model.StageSubtitles, subtitlesEnd)

	// Transcode
	if err := s.enterStage(ctx, job, model.StageTranscoding, progress, subtitlesEnd); err != nil {
		return err
	}
	presets := planner.Plan(info.Height)
	renditions, err := s.encodeRenditions(ctx, logger, job, layout, info, presets, progress)
	if err != nil {
		return err
	}
	progress.Report(ctx, model.StageTranscoding, transcodeEnd)

	// Package
	if err := s.enterStage(ctx, job, model.StagePackaging, progress, transcodeEnd); err != nil {
		return err
	}
	started = time.Now()
	if err := transcoder.WriteMasterPlaylist(layout.ManifestPath, presets); err != nil {
		return fmt.Errorf("package: %w", err)
	}
	if err := s.mirrorOutputs(ctx, job.EpisodeID, layout); err != nil {
		return fmt.Errorf("package: %w", err)
	}
	observeStage(model.StagePackaging, started)

	// Finalize
	if err := interrupted(ctx, model.StagePackaging); err != nil {
		return err
	}
	record, err := s.status.Transition(ctx, job.EpisodeID, model.StateCompleted, StatusFields{
		Stage:     model.StageCompleted,
		HLSPath:   s.organizer.Relative(layout.ManifestPath),
		Qualities: renditions,
		Subtitles: subtitles,
		Duration:  info.Duration,
		Thumbnail: thumbnail,
	})
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}

	if err := s.organizer.RemoveSource(job.SourcePath); err != nil {
		logger.Warn("failed to remove source after completion", slog.String("error", err.Error()))
	}

	logger.Info("episode processed", slog.Any("qualities", record.QualityNames()))
	return nil
}

// enterStage records the stage on the content record and announces it.
func (s *transcodeService) enterStage(ctx context.Context, job *model.Job, stage model.Stage, progress *ProgressReporter, percent float64) error {
	if err := interrupted(ctx, stage); err != nil {
		return err
	}
	if _, err := s.status.Transition(ctx, job.EpisodeID, model.StateProcessing, StatusFields{Stage: stage}); err != nil {
		return fmt.Errorf("enter stage %s: %w", stage, err)
	}
	progress.Report(ctx, stage, percent)
	return nil
}

// extractThumbnail returns the stored thumbnail path, or "" when extraction failed.
func (s *transcodeService) extractThumbnail(ctx context.Context, logger *slog.Logger, job *model.Job, layout artifact.Layout, info *transcoder.SourceInfo) string {
	defer observeStage(model.StageThumbnail, time.Now())

	offset := s.thumbnailOffset
	if half := time.Duration(info.Duration / 2 * float64(time.Second)); half < offset {
		offset = half
	}

	if err := s.runner.ExtractFrame(ctx, job.SourcePath, layout.ThumbnailPath, offset); err != nil {
		logger.Warn("thumbnail extraction failed, continuing without thumbnail",
			slog.String("error", err.Error()),
		)
		_ = os.Remove(layout.ThumbnailPath)
		return ""
	}
	return s.organizer.Relative(layout.ThumbnailPath)
}

// extractSubtitles converts every embedded track it can. A failing track is skipped.
func (s *transcodeService) extractSubtitles(ctx context.Context, logger *slog.Logger, job *model.Job, layout artifact.Layout, info *transcoder.SourceInfo, progress *ProgressReporter) ([]model.Subtitle, error) {
	defer observeStage(model.StageSubtitles, time.Now())

	var subtitles []model.Subtitle
	total := len(info.Subtitles)
	for i, track := range info.Subtitles {
		if err := interrupted(ctx, model.StageSubtitles); err != nil {
			return nil, err
		}

		language := transcoder.SubtitleLanguage(track)
		dest := layout.SubtitlePath(language)
		if err := s.runner.ExtractSubtitleTrack(ctx, job.SourcePath, track.Ordinal, dest); err != nil {
			logger.Warn("subtitle extraction failed, skipping track",
				slog.Int("track", track.Ordinal),
				slog.String("language", language),
				slog.String("error", err.Error()),
			)
			_ = os.Remove(dest)
			continue
		}

		subtitles = model.MergeSubtitles(subtitles, []model.Subtitle{{
			Language:     language,
			Label:        transcoder.LanguageLabel(language),
			RelativePath: s.organizer.Relative(dest),
			Origin:       model.SubtitleEmbedded,
		}})
		progress.Report(ctx, model.StageSubtitles, thumbnailEnd+float64(subtitlesEnd-thumbnailEnd)*float64(i+1)/float64(total))
	}

	if err := interrupted(ctx, model.StageSubtitles); err != nil {
		return nil, err
	}
	return subtitles, nil
}

// encodeRenditions encodes every planned preset; any failure fails the attempt.
func (s *transcodeService) encodeRenditions(ctx context.Context, logger *slog.Logger, job *model.Job, layout artifact.Layout, info *transcoder.SourceInfo, presets []planner.Preset, progress *ProgressReporter) ([]model.Rendition, error) {
	defer observeStage(model.StageTranscoding, time.Now())

	renditions := make([]model.Rendition, 0, len(presets))
	n := float64(len(presets))
	span := float64(transcodeEnd - subtitlesEnd)

	for i, preset := range presets {
		dir := layout.RenditionDir(preset.Quality)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %s: create directory: %w", ErrRenditionFailed, preset.Quality, err)
		}

		logger.Info("encoding rendition", slog.String("quality", preset.Quality))

		req := transcoder.EncodeRequest{
			SourcePath:     job.SourcePath,
			Preset:         preset,
			PlaylistPath:   layout.RenditionPlaylist(preset.Quality),
			SegmentPattern: layout.SegmentPattern(preset.Quality),
			Duration:       info.Duration,
		}
		index := float64(i)
		err := s.runner.EncodeRendition(ctx, req, func(fraction float64) {
			progress.Report(ctx, model.StageTranscoding, subtitlesEnd+span*(index+fraction)/n)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrRenditionFailed, preset.Quality, err)
		}

		renditions = append(renditions, model.Rendition{
			Quality:      preset.Quality,
			RelativePath: s.organizer.Relative(req.PlaylistPath),
		})
	}

	return renditions, nil
}

// mirrorOutputs replaces the episode's objects in the mirror with the local tree.
func (s *transcodeService) mirrorOutputs(ctx context.Context, episodeID string, layout artifact.Layout) error {
	if s.mirror == nil {
		return nil
	}

	prefix := path.Join(s.mirrorPrefix, episodeID) + "/"
	if err := s.mirror.DeletePrefix(ctx, prefix); err != nil {
		return fmt.Errorf("clear mirror: %w", err)
	}

	return filepath.WalkDir(layout.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(layout.Root, p)
		if err != nil {
			return err
		}
		if strings.HasPrefix(rel, "original") && !strings.Contains(rel, string(filepath.Separator)) {
			return nil
		}
		return s.uploadFile(ctx, p, prefix+filepath.ToSlash(rel))
	})
}

// uploadFile uploads a single file to object storage.
func (s *transcodeService) uploadFile(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if err := s.mirror.Upload(ctx, key, file, contentType(localPath)); err != nil {
		return fmt.Errorf("storage upload %s: %w", key, err)
	}

	return nil
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".vtt":
		return "text/vtt"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

// interrupted reports the cancellation cause if ctx is done.
func interrupted(ctx context.Context, stage model.Stage) error {
	if ctx.Err() == nil {
		return nil
	}
	return fmt.Errorf("stage %s interrupted: %w", stage, context.Cause(ctx))
}

func observeStage(stage model.Stage, started time.Time) {
	metrics.StageDurationSeconds.WithLabelValues(stage.String()).Observe(time.Since(started).Seconds())
}
