package usecase

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hszk-dev/vodforge/internal/artifact"
	"github.com/hszk-dev/vodforge/internal/domain/repository"
	"github.com/hszk-dev/vodforge/internal/infrastructure/metrics"
)

// Cancellation steps, used as log and metric labels.
const (
	stepAbort        = "abort"
	stepRemove       = "remove"
	stepPurge        = "purge"
	stepScratch      = "scratch"
	stepMirror       = "mirror"
	stepRecord       = "record"
	stepNotification = "notification"
)

// CancelServiceConfig holds configuration for CancelService.
type CancelServiceConfig struct {
	// AbortTimeout bounds how long Cancel waits for a worker to stop an active job.
	AbortTimeout time.Duration
	// MirrorPrefix is the object key prefix of mirrored renditions.
	MirrorPrefix string
}

// DefaultCancelServiceConfig returns the default configuration.
func DefaultCancelServiceConfig() CancelServiceConfig {
	return CancelServiceConfig{
		AbortTimeout: 30 * time.Second,
		MirrorPrefix: "hls",
	}
}

// CancelService undoes a submission: the job, every artifact and the record disappear.
type CancelService struct {
	queue         repository.JobQueue
	aborter       repository.AbortChannel
	organizer     *artifact.Organizer
	records       repository.ContentRecordStore
	notifications repository.NotificationStore
	mirror        repository.ObjectStorage
	sfGroup       singleflight.Group
	wg            sync.WaitGroup

	abortTimeout time.Duration
	mirrorPrefix string
}

// NewCancelService creates a CancelService. notifications and mirror may be nil.
func NewCancelService(
	queue repository.JobQueue,
	aborter repository.AbortChannel,
	organizer *artifact.Organizer,
	records repository.ContentRecordStore,
	notifications repository.NotificationStore,
	mirror repository.ObjectStorage,
	cfg CancelServiceConfig,
) *CancelService {
	return &CancelService{
		queue:         queue,
		aborter:       aborter,
		organizer:     organizer,
		records:       records,
		notifications: notifications,
		mirror:        mirror,
		abortTimeout:  cfg.AbortTimeout,
		mirrorPrefix:  cfg.MirrorPrefix,
	}
}

// Cancel stops and removes the episode's pending job, then deletes its artifacts
// and record. Every step is attempted; failures are logged, never returned.
// An episode without a pending job is left untouched.
// Concurrent calls for the same episode share one execution.
func (s *CancelService) Cancel(ctx context.Context, episodeID string) error {
	if err := artifact.ValidateEpisodeID(episodeID); err != nil {
		return err
	}

	_, _, shared := s.sfGroup.Do(episodeID, func() (any, error) {
		s.cancel(ctx, episodeID)
		return nil, nil
	})

	if shared {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightShared).Inc()
	} else {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightInitiated).Inc()
	}

	return nil
}

// CancelAsync starts Cancel detached from ctx's cancellation and returns immediately.
func (s *CancelService) CancelAsync(ctx context.Context, episodeID string) error {
	if err := artifact.ValidateEpisodeID(episodeID); err != nil {
		return err
	}

	detached := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.Cancel(detached, episodeID)
	}()
	return nil
}

// Wait blocks until every cancellation started by CancelAsync has finished.
func (s *CancelService) Wait() {
	s.wg.Wait()
}

func (s *CancelService) cancel(ctx context.Context, episodeID string) {
	logger := slog.With(slog.String("episode_id", episodeID))

	job, err := s.queue.FindByEpisode(ctx, episodeID)
	if err != nil {
		s.stepFailed(logger, "lookup", err)
		return
	}
	if job == nil {
		logger.Info("no pending job to cancel")
		return
	}
	logger = logger.With(slog.String("job_id", job.ID), slog.String("job_state", job.State.String()))

	// Any state: a waiting job may be claimed between lookup and removal.
	abortCtx, cancel := context.WithTimeout(ctx, s.abortTimeout)
	if err := s.aborter.Abort(abortCtx, job.ID); err != nil {
		s.stepFailed(logger, stepAbort, err)
	}
	cancel()

	if err := s.queue.Remove(ctx, job.ID); err != nil && !errors.Is(err, repository.ErrJobNotFound) {
		s.stepFailed(logger, stepRemove, err)
	}

	if err := s.organizer.Purge(episodeID); err != nil {
		s.stepFailed(logger, stepPurge, err)
	}
	if err := s.organizer.PurgeScratch(episodeID); err != nil {
		s.stepFailed(logger, stepScratch, err)
	}
	if s.mirror != nil {
		if err := s.mirror.DeletePrefix(ctx, path.Join(s.mirrorPrefix, episodeID)+"/"); err != nil {
			s.stepFailed(logger, stepMirror, err)
		}
	}

	if err := s.records.Delete(ctx, episodeID); err != nil && !errors.Is(err, repository.ErrRecordNotFound) {
		s.stepFailed(logger, stepRecord, err)
	}
	if s.notifications != nil {
		if err := s.notifications.DeleteUploadNotifications(ctx, episodeID); err != nil {
			s.stepFailed(logger, stepNotification, err)
		}
	}

	logger.Info("processing cancelled")
}

func (s *CancelService) stepFailed(logger *slog.Logger, step string, err error) {
	metrics.CancellationStepFailuresTotal.WithLabelValues(step).Inc()
	logger.Warn("cancellation step failed",
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
}
