package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hszk-dev/vodforge/internal/domain/model"
	"github.com/hszk-dev/vodforge/internal/domain/repository"
	"github.com/hszk-dev/vodforge/internal/infrastructure/cache"
	"github.com/hszk-dev/vodforge/internal/infrastructure/metrics"
)

// ProgressService answers "how far along is this episode" for operators.
type ProgressService interface {
	GetProgress(ctx context.Context, episodeID string) (*model.ProgressEvent, error)
}

// ProgressServiceConfig holds configuration for ProgressService.
type ProgressServiceConfig struct {
	// CacheTTL is the TTL for snapshots rebuilt from the record store.
	CacheTTL time.Duration
}

// DefaultProgressServiceConfig returns the default configuration.
func DefaultProgressServiceConfig() ProgressServiceConfig {
	return ProgressServiceConfig{
		CacheTTL: 30 * time.Second,
	}
}

// progressService reads the latest published event from cache and falls back
// to the content record plus the episode's pending job.
type progressService struct {
	cache   cache.ProgressCache
	records repository.ContentRecordStore
	queue   repository.JobQueue
	sfGroup singleflight.Group

	cacheTTL time.Duration
}

// NewProgressService creates a new ProgressService.
func NewProgressService(
	progressCache cache.ProgressCache,
	records repository.ContentRecordStore,
	queue repository.JobQueue,
	cfg ProgressServiceConfig,
) ProgressService {
	return &progressService{
		cache:    progressCache,
		records:  records,
		queue:    queue,
		cacheTTL: cfg.CacheTTL,
	}
}

// GetProgress uses singleflight to coalesce concurrent lookups of one episode.
func (s *progressService) GetProgress(ctx context.Context, episodeID string) (*model.ProgressEvent, error) {
	result, err, shared := s.sfGroup.Do(episodeID, func() (any, error) {
		return s.getProgressWithCache(ctx, episodeID)
	})

	if shared {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightShared).Inc()
	} else {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightInitiated).Inc()
	}

	if err != nil {
		return nil, err
	}

	event := *result.(*model.ProgressEvent)
	return &event, nil
}

func (s *progressService) getProgressWithCache(ctx context.Context, episodeID string) (*model.ProgressEvent, error) {
	cached, err := s.cache.Get(ctx, episodeID)
	if err != nil {
		slog.Warn("progress cache get failed, falling back to record store",
			slog.String("episode_id", episodeID),
			slog.String("error", err.Error()),
		)
	}
	if cached != nil {
		return cached, nil
	}

	event, err := s.buildFromRecord(ctx, episodeID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, event, s.cacheTTL); err != nil {
		slog.Warn("failed to cache progress snapshot",
			slog.String("episode_id", episodeID),
			slog.String("error", err.Error()),
		)
	}

	return event, nil
}

func (s *progressService) buildFromRecord(ctx context.Context, episodeID string) (*model.ProgressEvent, error) {
	record, err := s.records.Get(ctx, episodeID)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get content record: %w", err)
	}

	event := &model.ProgressEvent{
		EpisodeID:    episodeID,
		Status:       record.Status,
		CurrentStage: record.Stage,
		Error:        record.LastError,
		Timestamp:    record.UpdatedAt,
	}
	if record.Status == model.StateCompleted {
		event.Progress = 100
	}

	job, err := s.queue.FindByEpisode(ctx, episodeID)
	if err != nil {
		slog.Warn("job lookup failed while building progress",
			slog.String("episode_id", episodeID),
			slog.String("error", err.Error()),
		)
	}
	if job != nil {
		event.JobID = job.ID
		event.Progress = job.Progress
	}

	return event, nil
}
