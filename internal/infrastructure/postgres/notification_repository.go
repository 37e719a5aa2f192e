package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hszk-dev/vodforge/internal/domain/model"
	"github.com/hszk-dev/vodforge/internal/domain/repository"
	"github.com/hszk-dev/vodforge/internal/infrastructure/metrics"
)

// notificationTypeUpload marks the notification created when an episode is uploaded.
const notificationTypeUpload = "upload"

// NotificationRepository manages the upload notifications shown to operators.
// As a progress sink it mirrors each event onto the latest upload notification.
type NotificationRepository struct {
	db DBTX
}

var (
	_ repository.NotificationStore = (*NotificationRepository)(nil)
	_ repository.ProgressSink      = (*NotificationRepository)(nil)
)

// NewNotificationRepository creates a new NotificationRepository instance.
func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// DeleteUploadNotifications removes every upload notification of the episode.
func (r *NotificationRepository) DeleteUploadNotifications(ctx context.Context, episodeID string) error {
	const query = `DELETE FROM admin_notifications WHERE episode_id = $1 AND type = $2`

	metrics.DBQueriesTotal.WithLabelValues(metrics.DBQueryDelete, metrics.TableNotifications).Inc()

	if _, err := r.db.Exec(ctx, query, episodeID, notificationTypeUpload); err != nil {
		return fmt.Errorf("failed to delete upload notifications: %w", err)
	}
	return nil
}

// notificationData is merged into the notification's data column.
type notificationData struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Stage    string `json:"stage"`
	Error    string `json:"error,omitempty"`
}

// Publish updates the newest upload notification of the episode.
// An episode without one is skipped silently.
func (r *NotificationRepository) Publish(ctx context.Context, event model.ProgressEvent) {
	if err := r.updateLatest(ctx, event); err != nil {
		metrics.ProgressEventsTotal.WithLabelValues(metrics.SinkPostgres, metrics.SinkStatusError).Inc()
		slog.Warn("failed to update upload notification",
			slog.String("episode_id", event.EpisodeID),
			slog.String("error", err.Error()),
		)
		return
	}
	metrics.ProgressEventsTotal.WithLabelValues(metrics.SinkPostgres, metrics.SinkStatusSuccess).Inc()
}

func (r *NotificationRepository) updateLatest(ctx context.Context, event model.ProgressEvent) error {
	const query = `
		UPDATE admin_notifications
		SET data = data || $3::jsonb, message = $4
		WHERE id = (
			SELECT id FROM admin_notifications
			WHERE episode_id = $1 AND type = $2
			ORDER BY created_at DESC
			LIMIT 1
		)
	`

	data, err := json.Marshal(notificationData{
		JobID:    event.JobID,
		Status:   event.Status.String(),
		Progress: event.Progress,
		Stage:    event.CurrentStage.String(),
		Error:    event.Error,
	})
	if err != nil {
		return fmt.Errorf("failed to encode notification data: %w", err)
	}

	metrics.DBQueriesTotal.WithLabelValues(metrics.DBQueryUpdate, metrics.TableNotifications).Inc()

	if _, err := r.db.Exec(ctx, query, event.EpisodeID, notificationTypeUpload, data, notificationMessage(event)); err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	return nil
}

func notificationMessage(event model.ProgressEvent) string {
	switch event.Status {
	case model.StateCompleted:
		return "Processing completed"
	case model.StateFailed:
		if event.Error != "" {
			return "Processing failed: " + event.Error
		}
		return "Processing failed"
	default:
		return fmt.Sprintf("Processing: %s (%d%%)", event.CurrentStage, event.Progress)
	}
}
