package usecase

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hszk-dev/vodforge/internal/domain/model"
	"github.com/hszk-dev/vodforge/internal/domain/repository"
)

// FanoutSink publishes every event to each sink in order.
type FanoutSink []repository.ProgressSink

var _ repository.ProgressSink = FanoutSink(nil)

func (f FanoutSink) Publish(ctx context.Context, event model.ProgressEvent) {
	for _, sink := range f {
		sink.Publish(ctx, event)
	}
}

// LogSink writes progress events to the default logger.
type LogSink struct{}

func (LogSink) Publish(_ context.Context, event model.ProgressEvent) {
	attrs := []any{
		slog.String("episode_id", event.EpisodeID),
		slog.String("job_id", event.JobID),
		slog.String("status", event.Status.String()),
		slog.Int("progress", event.Progress),
		slog.String("stage", event.CurrentStage.String()),
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	slog.Info("progress", attrs...)
}

// NotificationStores deletes upload notifications from every store.
type NotificationStores []repository.NotificationStore

var _ repository.NotificationStore = NotificationStores(nil)

func (n NotificationStores) DeleteUploadNotifications(ctx context.Context, episodeID string) error {
	var errs []error
	for _, store := range n {
		if err := store.DeleteUploadNotifications(ctx, episodeID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
