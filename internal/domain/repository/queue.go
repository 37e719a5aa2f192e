package repository

import (
	"context"
	"time"

	"github.com/hszk-dev/vodforge/internal/domain/model"
)

// NackResult describes what the queue did with a failed job.
type NackResult struct {
	Attempt  int
	Terminal bool
	RetryIn  time.Duration
}

// JobQueue defines the durable, priority-ordered store of transcode jobs.
// Implementations should be provided by the infrastructure layer (e.g., Redis).
type JobQueue interface {
	// Reserve claims the episode for a submission and returns the ID its job will use.
	// The claim expires unless Enqueue makes it permanent.
	// Returns ErrDuplicateActiveJob if the episode is already claimed,
	// and ErrQueueUnavailable if the broker cannot be reached.
	Reserve(ctx context.Context, episodeID string) (string, error)

	// Unreserve drops a claim made by Reserve whose job was never enqueued.
	Unreserve(ctx context.Context, episodeID, jobID string) error

	// Enqueue adds the reserved job for the episode.
	// Returns ErrDuplicateActiveJob if another job holds the episode,
	// and ErrQueueUnavailable if the broker cannot be reached.
	Enqueue(ctx context.Context, jobID, episodeID, sourcePath string, priority int) error

	// FindByEpisode returns the waiting, delayed or active job of an episode,
	// or nil if it has none.
	FindByEpisode(ctx context.Context, episodeID string) (*model.Job, error)

	// Dequeue claims the next eligible job for workerID.
	// Higher priority first, FIFO within a priority. Returns nil, nil when nothing is ready.
	Dequeue(ctx context.Context, workerID string) (*model.Job, error)

	// Ack marks an active job completed and moves it to bounded history.
	Ack(ctx context.Context, jobID string) error

	// Nack records a failed attempt. The job is delayed by exponential backoff
	// or, once attempts are exhausted, moved to failed history.
	Nack(ctx context.Context, jobID string, cause error) (NackResult, error)

	// Remove deletes a job in any state and signals its worker to abort.
	// Returns ErrJobNotFound if the job does not exist.
	Remove(ctx context.Context, jobID string) error

	// ListByState returns the jobs in the given state.
	ListByState(ctx context.Context, state model.JobState) ([]*model.Job, error)

	// Get returns a single job or ErrJobNotFound.
	Get(ctx context.Context, jobID string) (*model.Job, error)

	Close() error
}

// JobLease holds the worker-side operations on a claimed job.
type JobLease interface {
	// Heartbeat extends the claim. Returns ErrJobNotFound if the job is gone.
	Heartbeat(ctx context.Context, jobID string) error

	// Release returns an active job to waiting without spending an attempt.
	Release(ctx context.Context, jobID string) error

	// UpdateProgress stores the progress high-water mark on the job.
	UpdateProgress(ctx context.Context, jobID string, progress int) error

	// RecoverStalled moves active jobs without a heartbeat since olderThan back to waiting.
	RecoverStalled(ctx context.Context, olderThan time.Duration) ([]string, error)
}

// AbortChannel carries cancellation signals from cancelling callers to workers.
type AbortChannel interface {
	// Abort asks the worker holding jobID to stop, and waits until the job is no longer active.
	Abort(ctx context.Context, jobID string) error

	// AbortSignals streams job IDs to abort until ctx is done.
	AbortSignals(ctx context.Context) (<-chan string, error)
}
