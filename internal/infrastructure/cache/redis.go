package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/vodforge/internal/domain/model"
	"github.com/hszk-dev/vodforge/internal/domain/repository"
	"github.com/hszk-dev/vodforge/internal/infrastructure/metrics"
)

const (
	// progressKeyPrefix is the prefix for progress keys in Redis.
	progressKeyPrefix = "progress:"
)

// progressJSON is the JSON representation of a ProgressEvent for caching.
// Using explicit struct avoids coupling to domain model's JSON tags.
type progressJSON struct {
	EpisodeID    string `json:"episode_id"`
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	CurrentStage string `json:"current_stage"`
	Error        string `json:"error,omitempty"`
	Timestamp    string `json:"timestamp"`
}

// RedisProgressCache implements ProgressCache using Redis as the backing store.
// It also serves as a ProgressSink that keeps the latest event per episode.
type RedisProgressCache struct {
	client *redis.Client
	ttl    time.Duration
}

var (
	_ ProgressCache                = (*RedisProgressCache)(nil)
	_ repository.ProgressSink      = (*RedisProgressCache)(nil)
	_ repository.NotificationStore = (*RedisProgressCache)(nil)
)

// NewRedisProgressCache creates a new Redis-backed progress cache.
// ttl applies to events stored through Publish.
func NewRedisProgressCache(client *redis.Client, ttl time.Duration) *RedisProgressCache {
	return &RedisProgressCache{
		client: client,
		ttl:    ttl,
	}
}

// Get retrieves the latest event from Redis.
// Returns nil, nil on cache miss.
func (c *RedisProgressCache) Get(ctx context.Context, episodeID string) (*model.ProgressEvent, error) {
	data, err := c.client.Get(ctx, c.buildKey(episodeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusMiss, metrics.CacheTypeRedis).Inc()
			return nil, nil // Cache miss
		}
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusError, metrics.CacheTypeRedis).Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}
	metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusHit, metrics.CacheTypeRedis).Inc()

	event, err := c.deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("deserialize progress: %w", err)
	}

	return event, nil
}

// Set stores an event in Redis with the specified TTL.
func (c *RedisProgressCache) Set(ctx context.Context, event *model.ProgressEvent, ttl time.Duration) error {
	data, err := c.serialize(event)
	if err != nil {
		return fmt.Errorf("serialize progress: %w", err)
	}

	if err := c.client.Set(ctx, c.buildKey(event.EpisodeID), data, ttl).Err(); err != nil {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpSet, metrics.CacheStatusError, metrics.CacheTypeRedis).Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpSet, metrics.CacheStatusSuccess, metrics.CacheTypeRedis).Inc()

	return nil
}

// Delete removes an episode's event from Redis.
func (c *RedisProgressCache) Delete(ctx context.Context, episodeID string) error {
	if err := c.client.Del(ctx, c.buildKey(episodeID)).Err(); err != nil {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpDelete, metrics.CacheStatusError, metrics.CacheTypeRedis).Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpDelete, metrics.CacheStatusSuccess, metrics.CacheTypeRedis).Inc()

	return nil
}

// Publish stores event as the episode's latest progress.
func (c *RedisProgressCache) Publish(ctx context.Context, event model.ProgressEvent) {
	if err := c.Set(ctx, &event, c.ttl); err != nil {
		metrics.ProgressEventsTotal.WithLabelValues(metrics.SinkRedis, metrics.SinkStatusError).Inc()
		slog.Warn("failed to cache progress event",
			slog.String("episode_id", event.EpisodeID),
			slog.String("error", err.Error()),
		)
		return
	}
	metrics.ProgressEventsTotal.WithLabelValues(metrics.SinkRedis, metrics.SinkStatusSuccess).Inc()
}

// DeleteUploadNotifications drops the cached progress of a cancelled upload.
func (c *RedisProgressCache) DeleteUploadNotifications(ctx context.Context, episodeID string) error {
	return c.Delete(ctx, episodeID)
}

// buildKey constructs the Redis key for an episode.
func (c *RedisProgressCache) buildKey(episodeID string) string {
	return progressKeyPrefix + episodeID
}

// serialize converts a ProgressEvent to JSON bytes.
func (c *RedisProgressCache) serialize(event *model.ProgressEvent) ([]byte, error) {
	v := progressJSON{
		EpisodeID:    event.EpisodeID,
		JobID:        event.JobID,
		Status:       string(event.Status),
		Progress:     event.Progress,
		CurrentStage: string(event.CurrentStage),
		Error:        event.Error,
		Timestamp:    event.Timestamp.Format(time.RFC3339Nano),
	}
	return json.Marshal(v)
}

// deserialize converts JSON bytes to a ProgressEvent.
func (c *RedisProgressCache) deserialize(data []byte) (*model.ProgressEvent, error) {
	var v progressJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}

	ts, err := time.Parse(time.RFC3339Nano, v.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp: %w", err)
	}

	return &model.ProgressEvent{
		EpisodeID:    v.EpisodeID,
		JobID:        v.JobID,
		Status:       model.ProcessingState(v.Status),
		Progress:     v.Progress,
		CurrentStage: model.Stage(v.CurrentStage),
		Error:        v.Error,
		Timestamp:    ts,
	}, nil
}
