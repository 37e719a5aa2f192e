package cache

import (
	"context"
	"time"

	"github.com/hszk-dev/vodforge/internal/domain/model"
)

// ProgressCache holds the latest progress event of each episode.
// Implementations should handle serialization/deserialization transparently.
type ProgressCache interface {
	// Get retrieves the latest event for an episode.
	// Returns nil, nil if nothing is cached (cache miss).
	Get(ctx context.Context, episodeID string) (*model.ProgressEvent, error)

	// Set stores an event with the specified TTL.
	Set(ctx context.Context, event *model.ProgressEvent, ttl time.Duration) error

	// Delete removes an episode's event.
	// Returns nil if nothing was cached.
	Delete(ctx context.Context, episodeID string) error
}
