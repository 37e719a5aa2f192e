package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hszk-dev/vodforge/internal/domain/model"
	"github.com/hszk-dev/vodforge/internal/domain/repository"
)

// ErrCompletedWithoutRenditions is returned for a completed transition lacking playable output.
// Reaching it means the caller has a bug.
var ErrCompletedWithoutRenditions = errors.New("completed transition requires hls path and at least one rendition")

// StatusFields carries the values a transition writes alongside the new state.
// Zero values leave the stored field untouched, except where the state forbids it.
type StatusFields struct {
	Stage     model.Stage
	HLSPath   string
	Qualities []model.Rendition
	Subtitles []model.Subtitle
	Duration  float64
	Thumbnail string
	LastError string
}

// StatusController is the only writer of processing fields on content records.
type StatusController struct {
	records repository.ContentRecordStore
	now     func() time.Time
}

func NewStatusController(records repository.ContentRecordStore) *StatusController {
	return &StatusController{
		records: records,
		now:     time.Now,
	}
}

// Transition moves an episode to next and persists the result.
//
// Entering pending or processing from another state discards every playable
// pointer of the previous run. Only a completed record carries hlsPath and qualities.
func (c *StatusController) Transition(ctx context.Context, episodeID string, next model.ProcessingState, fields StatusFields) (*model.ContentRecord, error) {
	if !next.IsValid() {
		return nil, fmt.Errorf("%w: unknown state %q", model.ErrInvalidTransition, next)
	}

	current, err := c.records.Get(ctx, episodeID)
	if err != nil {
		return nil, fmt.Errorf("get content record: %w", err)
	}

	if !current.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, current.Status, next)
	}

	if next == model.StateCompleted && (fields.HLSPath == "" || len(fields.Qualities) == 0) {
		return nil, ErrCompletedWithoutRenditions
	}

	updated := *current
	if (next == model.StatePending || next == model.StateProcessing) && current.Status != next {
		updated.HLSPath = ""
		updated.Qualities = nil
		updated.Subtitles = nil
		updated.Thumbnail = ""
		updated.Duration = 0
		updated.LastError = ""
	}

	updated.Status = next
	switch {
	case fields.Stage != "":
		updated.Stage = fields.Stage
	case next == model.StateFailed && updated.Stage != "":
		// keep the last stage reached
	default:
		updated.Stage = defaultStage(next)
	}

	if fields.Duration > 0 {
		updated.Duration = fields.Duration
	}
	if fields.Thumbnail != "" {
		updated.Thumbnail = fields.Thumbnail
	}
	if len(fields.Subtitles) > 0 {
		updated.Subtitles = model.MergeSubtitles(updated.Subtitles, fields.Subtitles)
	}

	switch next {
	case model.StateCompleted:
		updated.HLSPath = fields.HLSPath
		updated.Qualities = append([]model.Rendition(nil), fields.Qualities...)
		updated.LastError = ""
	case model.StateFailed:
		updated.HLSPath = ""
		updated.Qualities = nil
		updated.LastError = fields.LastError
	default:
		updated.HLSPath = ""
		updated.Qualities = nil
	}

	updated.UpdatedAt = c.now()

	if err := c.records.UpdateProcessingStatus(ctx, &updated); err != nil {
		return nil, fmt.Errorf("update processing status: %w", err)
	}

	return &updated, nil
}

func defaultStage(state model.ProcessingState) model.Stage {
	switch state {
	case model.StatePending:
		return model.StageUploading
	case model.StateCompleted:
		return model.StageCompleted
	case model.StateFailed:
		return model.StageFailed
	default:
		return model.StageProbing
	}
}
