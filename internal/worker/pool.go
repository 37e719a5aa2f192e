// Package worker runs transcode jobs claimed from the job queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hszk-dev/vodforge/internal/artifact"
	"github.com/hszk-dev/vodforge/internal/domain/model"
	"github.com/hszk-dev/vodforge/internal/domain/repository"
	"github.com/hszk-dev/vodforge/internal/infrastructure/metrics"
	"github.com/hszk-dev/vodforge/internal/usecase"
)

// errShutdown is the cancellation cause of jobs interrupted by pool shutdown.
var errShutdown = errors.New("worker shutting down")

const maxPollBackoff = 30 * time.Second

// Config holds configuration for Pool.
type Config struct {
	Concurrency       int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	StalledAfter      time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:       2,
		PollInterval:      time.Second,
		HeartbeatInterval: 10 * time.Second,
		StalledAfter:      60 * time.Second,
	}
}

// Pool claims jobs from the queue and runs each attempt through the transcode service.
// Nack is the only place a failed attempt turns into a retry or a terminal failure.
type Pool struct {
	id        string
	queue     repository.JobQueue
	lease     repository.JobLease
	aborts    repository.AbortChannel
	transcode usecase.TranscodeService
	status    *usecase.StatusController
	organizer *artifact.Organizer
	sink      repository.ProgressSink
	cfg       Config

	mu      sync.Mutex
	running map[string]context.CancelCauseFunc
}

// NewPool creates a new Pool. sink may be nil.
func NewPool(
	queue repository.JobQueue,
	lease repository.JobLease,
	aborts repository.AbortChannel,
	transcode usecase.TranscodeService,
	status *usecase.StatusController,
	organizer *artifact.Organizer,
	sink repository.ProgressSink,
	cfg Config,
) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Pool{
		id:        uuid.NewString(),
		queue:     queue,
		lease:     lease,
		aborts:    aborts,
		transcode: transcode,
		status:    status,
		organizer: organizer,
		sink:      sink,
		cfg:       cfg,
		running:   make(map[string]context.CancelCauseFunc),
	}
}

// ID returns the pool's identity, the prefix of every worker ID it claims jobs with.
func (p *Pool) ID() string {
	return p.id
}

// Run starts the workers and blocks until ctx is done and every worker has
// returned. Jobs still running at that point are released back to the queue.
func (p *Pool) Run(ctx context.Context) error {
	signals, err := p.aborts.AbortSignals(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to abort signals: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		p.listenAborts(signals)
		return nil
	})
	g.Go(func() error {
		p.recoverStalled(gctx)
		return nil
	})
	for i := range p.cfg.Concurrency {
		workerID := fmt.Sprintf("%s-%d", p.id, i)
		g.Go(func() error {
			p.work(gctx, workerID)
			return nil
		})
	}

	slog.Info("worker pool started",
		slog.String("pool_id", p.id),
		slog.Int("concurrency", p.cfg.Concurrency),
	)

	return g.Wait()
}

// work claims and runs jobs one at a time until ctx is done.
func (p *Pool) work(ctx context.Context, workerID string) {
	delay := p.cfg.PollInterval
	for ctx.Err() == nil {
		job, err := p.queue.Dequeue(ctx, workerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("failed to dequeue job, backing off",
				slog.String("worker_id", workerID),
				slog.Duration("retry_in", delay),
				slog.String("error", err.Error()),
			)
			sleep(ctx, delay)
			delay = min(delay*2, maxPollBackoff)
			continue
		}
		delay = p.cfg.PollInterval

		if job == nil {
			sleep(ctx, p.cfg.PollInterval)
			continue
		}

		p.runJob(ctx, workerID, job)
	}
}

// runJob runs one attempt of job and settles it with the queue.
func (p *Pool) runJob(ctx context.Context, workerID string, job *model.Job) {
	logger := slog.With(
		slog.String("job_id", job.ID),
		slog.String("episode_id", job.EpisodeID),
		slog.String("worker_id", workerID),
		slog.Int("attempt", job.Attempt+1),
	)
	logger.Info("processing job")

	// The job outlives ctx so that shutdown can be told apart from an abort.
	jobCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	defer cancel(nil)
	stop := context.AfterFunc(ctx, func() { cancel(errShutdown) })
	defer stop()

	p.register(job.ID, cancel)
	defer p.unregister(job.ID)

	metrics.ActiveJobs.Inc()
	defer metrics.ActiveJobs.Dec()

	hbCtx, hbStop := context.WithCancel(jobCtx)
	var hb sync.WaitGroup
	hb.Go(func() { p.heartbeat(hbCtx, job.ID, cancel) })

	reporter := usecase.NewProgressReporter(job, p.sink, p.lease)
	err := p.transcode.Process(jobCtx, job, reporter)

	hbStop()
	hb.Wait()

	settleCtx := context.WithoutCancel(ctx)
	cause := context.Cause(jobCtx)
	switch {
	case err == nil:
		p.complete(settleCtx, logger, job, reporter)
	case errors.Is(cause, usecase.ErrJobAborted):
		p.aborted(settleCtx, logger, job)
	case errors.Is(cause, errShutdown):
		p.release(settleCtx, logger, job)
	default:
		p.fail(settleCtx, logger, job, reporter, err)
	}
}

func (p *Pool) complete(ctx context.Context, logger *slog.Logger, job *model.Job, reporter *usecase.ProgressReporter) {
	if err := p.queue.Ack(ctx, job.ID); err != nil {
		logger.Warn("failed to ack job", slog.String("error", err.Error()))
	}
	reporter.Complete(ctx)
	p.purgeScratch(logger, job.EpisodeID)

	metrics.JobsProcessedTotal.WithLabelValues(metrics.OutcomeCompleted).Inc()
	logger.Info("job completed")
}

// aborted drops the job and whatever the attempt left on disk.
// The canceller waits for the job to leave the active set, so removal comes last.
func (p *Pool) aborted(ctx context.Context, logger *slog.Logger, job *model.Job) {
	if err := p.organizer.Purge(job.EpisodeID); err != nil {
		logger.Warn("failed to purge aborted episode", slog.String("error", err.Error()))
	}
	p.purgeScratch(logger, job.EpisodeID)

	if err := p.queue.Remove(ctx, job.ID); err != nil && !errors.Is(err, repository.ErrJobNotFound) {
		logger.Warn("failed to remove aborted job", slog.String("error", err.Error()))
	}

	metrics.JobsProcessedTotal.WithLabelValues(metrics.OutcomeAborted).Inc()
	logger.Info("job aborted")
}

func (p *Pool) release(ctx context.Context, logger *slog.Logger, job *model.Job) {
	if err := p.lease.Release(ctx, job.ID); err != nil && !errors.Is(err, repository.ErrJobNotFound) {
		logger.Warn("failed to release job", slog.String("error", err.Error()))
	}

	metrics.JobsProcessedTotal.WithLabelValues(metrics.OutcomeReleased).Inc()
	logger.Info("job released for another worker")
}

func (p *Pool) fail(ctx context.Context, logger *slog.Logger, job *model.Job, reporter *usecase.ProgressReporter, cause error) {
	logger.Error("job attempt failed", slog.String("error", cause.Error()))

	result, err := p.queue.Nack(ctx, job.ID, cause)
	if err != nil {
		logger.Warn("failed to nack job", slog.String("error", err.Error()))
		return
	}

	if !result.Terminal {
		metrics.JobsProcessedTotal.WithLabelValues(metrics.OutcomeRetried).Inc()
		logger.Info("job scheduled for retry",
			slog.Int("failed_attempts", result.Attempt),
			slog.Duration("retry_in", result.RetryIn),
		)
		return
	}

	// The failed record keeps the stage it reached.
	if _, err := p.status.Transition(ctx, job.EpisodeID, model.StateFailed, usecase.StatusFields{
		LastError: cause.Error(),
	}); err != nil {
		logger.Error("failed to mark episode failed", slog.String("error", err.Error()))
	}
	reporter.Fail(ctx, cause)
	p.purgeScratch(logger, job.EpisodeID)

	metrics.JobsProcessedTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
	logger.Error("job failed permanently", slog.Int("attempts", result.Attempt))
}

// heartbeat keeps the lease alive. A job that vanished from the queue was
// removed by a canceller whose signal this process may have missed.
func (p *Pool) heartbeat(ctx context.Context, jobID string, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := p.lease.Heartbeat(ctx, jobID)
		switch {
		case err == nil:
		case errors.Is(err, repository.ErrJobNotFound):
			slog.Warn("job lost its lease, aborting", slog.String("job_id", jobID))
			cancel(usecase.ErrJobAborted)
			return
		case ctx.Err() == nil:
			slog.Warn("heartbeat failed",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// listenAborts cancels running jobs named by abort signals until the channel closes.
func (p *Pool) listenAborts(signals <-chan string) {
	for jobID := range signals {
		if p.abort(jobID) {
			slog.Info("abort signal received", slog.String("job_id", jobID))
		}
	}
}

// abort cancels jobID if this pool is running it.
func (p *Pool) abort(jobID string) bool {
	p.mu.Lock()
	cancel, ok := p.running[jobID]
	p.mu.Unlock()

	if ok {
		cancel(usecase.ErrJobAborted)
	}
	return ok
}

// recoverStalled periodically returns jobs of crashed workers to the queue.
func (p *Pool) recoverStalled(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.StalledAfter / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := p.lease.RecoverStalled(ctx, p.cfg.StalledAfter); err != nil && ctx.Err() == nil {
			slog.Warn("failed to recover stalled jobs", slog.String("error", err.Error()))
		}
	}
}

func (p *Pool) register(jobID string, cancel context.CancelCauseFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running[jobID] = cancel
}

func (p *Pool) unregister(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, jobID)
}

func (p *Pool) purgeScratch(logger *slog.Logger, episodeID string) {
	if err := p.organizer.PurgeScratch(episodeID); err != nil {
		logger.Warn("failed to purge scratch dir", slog.String("error", err.Error()))
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
