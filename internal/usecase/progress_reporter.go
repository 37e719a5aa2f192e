package usecase

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/hszk-dev/vodforge/internal/domain/model"
	"github.com/hszk-dev/vodforge/internal/domain/repository"
)

// ProgressReporter publishes a job's progress in non-decreasing order.
// It starts from the high-water mark stored on the job, so a retry never
// reports less than an earlier attempt did.
type ProgressReporter struct {
	mu      sync.Mutex
	job     *model.Job
	sink    repository.ProgressSink
	lease   repository.JobLease
	last    int
	stage   model.Stage
	emitted bool
	now     func() time.Time
}

// NewProgressReporter creates a reporter for job. lease may be nil.
func NewProgressReporter(job *model.Job, sink repository.ProgressSink, lease repository.JobLease) *ProgressReporter {
	return &ProgressReporter{
		job:   job,
		sink:  sink,
		lease: lease,
		last:  clampPercent(job.Progress),
		now:   time.Now,
	}
}

// Report publishes stage progress. Values below the current mark are raised to it;
// a report that changes neither the percentage nor the stage is dropped.
func (r *ProgressReporter) Report(ctx context.Context, stage model.Stage, percent float64) {
	p := clampPercent(int(math.Floor(percent)))

	r.mu.Lock()
	defer r.mu.Unlock()

	if p < r.last {
		p = r.last
	}
	if r.emitted && p == r.last && stage == r.stage {
		return
	}
	advanced := p > r.last
	r.last = p
	r.stage = stage
	r.emitted = true

	r.publish(ctx, model.StateProcessing, "")

	if advanced && r.lease != nil {
		if err := r.lease.UpdateProgress(ctx, r.job.ID, p); err != nil {
			slog.Warn("failed to store job progress",
				slog.String("job_id", r.job.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Complete publishes the terminal success event at 100%.
func (r *ProgressReporter) Complete(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.last = 100
	r.stage = model.StageCompleted
	r.emitted = true
	r.publish(ctx, model.StateCompleted, "")
}

// Fail publishes the terminal failure event, keeping the last stage reached.
func (r *ProgressReporter) Fail(ctx context.Context, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.emitted = true
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	r.publish(ctx, model.StateFailed, msg)
}

// publish must be called with mu held so events leave in order.
func (r *ProgressReporter) publish(ctx context.Context, status model.ProcessingState, errMsg string) {
	if r.sink == nil {
		return
	}
	r.sink.Publish(ctx, model.ProgressEvent{
		EpisodeID:    r.job.EpisodeID,
		JobID:        r.job.ID,
		Status:       status,
		Progress:     r.last,
		CurrentStage: r.stage,
		Error:        errMsg,
		Timestamp:    r.now(),
	})
}

func clampPercent(p int) int {
	return max(0, min(p, 100))
}
