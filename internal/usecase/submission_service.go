package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hszk-dev/vodforge/internal/artifact"
	"github.com/hszk-dev/vodforge/internal/domain/model"
	"github.com/hszk-dev/vodforge/internal/domain/repository"
)

// ErrInvalidInput is returned for malformed submissions.
var ErrInvalidInput = errors.New("invalid input")

// DefaultPriority is used when a submission does not set one.
const DefaultPriority = 1

// SubmitInput contains the parameters of a processing request.
type SubmitInput struct {
	EpisodeID  string
	SourcePath string
	Priority   int
}

// SubmitOutput contains the result of a submission.
type SubmitOutput struct {
	JobID      string
	SourcePath string
}

// SubmissionService accepts uploads for processing and exposes the queue to operators.
type SubmissionService interface {
	// Submit adopts the uploaded file and enqueues a job for the episode.
	// Returns repository.ErrDuplicateActiveJob while another job for the episode is pending.
	Submit(ctx context.Context, input SubmitInput) (*SubmitOutput, error)

	// GetJob returns a job by ID.
	GetJob(ctx context.Context, jobID string) (*model.Job, error)

	// ListJobs returns the jobs in a queue state.
	ListJobs(ctx context.Context, state model.JobState) ([]*model.Job, error)
}

type submissionService struct {
	queue     repository.JobQueue
	organizer *artifact.Organizer
	status    *StatusController
}

// NewSubmissionService creates a new SubmissionService instance.
func NewSubmissionService(
	queue repository.JobQueue,
	organizer *artifact.Organizer,
	status *StatusController,
) SubmissionService {
	return &submissionService{
		queue:     queue,
		organizer: organizer,
		status:    status,
	}
}

func (s *submissionService) Submit(ctx context.Context, input SubmitInput) (*SubmitOutput, error) {
	if err := artifact.ValidateEpisodeID(input.EpisodeID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if input.SourcePath == "" {
		return nil, fmt.Errorf("%w: source path is required", ErrInvalidInput)
	}
	if input.Priority < 0 || input.Priority > model.MaxPriority {
		return nil, fmt.Errorf("%w: priority must be between 0 and %d", ErrInvalidInput, model.MaxPriority)
	}
	if input.Priority == 0 {
		input.Priority = DefaultPriority
	}

	// The reservation refuses a duplicate before the record or the episode root is touched.
	jobID, err := s.queue.Reserve(ctx, input.EpisodeID)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateActiveJob) {
			return nil, err
		}
		return nil, fmt.Errorf("reserve episode: %w", err)
	}

	if _, err := s.status.Transition(ctx, input.EpisodeID, model.StatePending, StatusFields{Stage: model.StageUploading}); err != nil {
		s.unreserve(ctx, input.EpisodeID, jobID)
		return nil, fmt.Errorf("reset processing status: %w", err)
	}

	sourcePath, err := s.organizer.AdoptSource(input.EpisodeID, input.SourcePath)
	if err != nil {
		s.markFailed(ctx, input.EpisodeID, err)
		s.unreserve(ctx, input.EpisodeID, jobID)
		if errors.Is(err, artifact.ErrEmptySource) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("adopt source: %w", err)
	}

	if err := s.queue.Enqueue(ctx, jobID, input.EpisodeID, sourcePath, input.Priority); err != nil {
		if errors.Is(err, repository.ErrDuplicateActiveJob) {
			return nil, err
		}
		s.markFailed(ctx, input.EpisodeID, err)
		s.unreserve(ctx, input.EpisodeID, jobID)
		return nil, fmt.Errorf("enqueue: %w", err)
	}

	slog.Info("job submitted",
		slog.String("job_id", jobID),
		slog.String("episode_id", input.EpisodeID),
		slog.Int("priority", input.Priority),
	)

	return &SubmitOutput{
		JobID:      jobID,
		SourcePath: sourcePath,
	}, nil
}

func (s *submissionService) unreserve(ctx context.Context, episodeID, jobID string) {
	if err := s.queue.Unreserve(context.WithoutCancel(ctx), episodeID, jobID); err != nil {
		slog.Warn("failed to release episode reservation",
			slog.String("episode_id", episodeID),
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// markFailed leaves the episode visible as failed when a submission could not be queued.
func (s *submissionService) markFailed(ctx context.Context, episodeID string, cause error) {
	_, err := s.status.Transition(ctx, episodeID, model.StateFailed, StatusFields{
		Stage:     model.StageUploading,
		LastError: cause.Error(),
	})
	if err != nil {
		slog.Error("failed to mark episode failed after submission error",
			slog.String("episode_id", episodeID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *submissionService) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	return s.queue.Get(ctx, jobID)
}

func (s *submissionService) ListJobs(ctx context.Context, state model.JobState) ([]*model.Job, error) {
	if !state.IsValid() {
		return nil, fmt.Errorf("%w: unknown job state %q", ErrInvalidInput, state)
	}
	return s.queue.ListByState(ctx, state)
}
