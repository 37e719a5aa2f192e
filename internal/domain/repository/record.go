package repository

import (
	"context"

	"github.com/hszk-dev/vodforge/internal/domain/model"
)

// ContentRecordStore persists the processing fields of an episode.
// Implementations should be provided by the infrastructure layer (e.g., PostgreSQL).
type ContentRecordStore interface {
	// Get returns the record or ErrRecordNotFound.
	Get(ctx context.Context, episodeID string) (*model.ContentRecord, error)

	// UpdateProcessingStatus writes status, stage, hlsPath, qualities,
	// duration, thumbnail, subtitles and last error of the record.
	// Returns ErrRecordNotFound if the episode does not exist.
	UpdateProcessingStatus(ctx context.Context, record *model.ContentRecord) error

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, episodeID string) error
}

// NotificationStore manages operator notifications tied to an upload.
type NotificationStore interface {
	DeleteUploadNotifications(ctx context.Context, episodeID string) error
}

// ProgressSink receives progress events. Delivery is fire-and-forget:
// implementations log their own failures.
type ProgressSink interface {
	Publish(ctx context.Context, event model.ProgressEvent)
}
