package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hszk-dev/vodforge/internal/domain/model"
	"github.com/hszk-dev/vodforge/internal/domain/repository"
	"github.com/hszk-dev/vodforge/internal/infrastructure/metrics"
)

// DBTX is an interface that abstracts pgxpool.Pool and pgx.Tx for testability.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RecordRepository implements repository.ContentRecordStore on the episodes table.
// It only touches the processing columns; the rest of the catalog row belongs to others.
type RecordRepository struct {
	db DBTX
}

// Compile-time verification that RecordRepository implements repository.ContentRecordStore.
var _ repository.ContentRecordStore = (*RecordRepository)(nil)

// NewRecordRepository creates a new RecordRepository instance.
func NewRecordRepository(db DBTX) *RecordRepository {
	return &RecordRepository{db: db}
}

// Get retrieves the processing fields of an episode.
func (r *RecordRepository) Get(ctx context.Context, episodeID string) (*model.ContentRecord, error) {
	const query = `
		SELECT id, processing_status, processing_stage, hls_path, qualities, subtitles,
		       duration, thumbnail, last_error, processing_updated_at
		FROM episodes
		WHERE id = $1
	`

	metrics.DBQueriesTotal.WithLabelValues(metrics.DBQuerySelect, metrics.TableEpisodes).Inc()

	var (
		record    model.ContentRecord
		status    string
		stage     string
		hlsPath   *string
		qualities []byte
		subtitles []byte
		duration  *float64
		thumbnail *string
		lastError *string
	)

	err := r.db.QueryRow(ctx, query, episodeID).Scan(
		&record.EpisodeID,
		&status,
		&stage,
		&hlsPath,
		&qualities,
		&subtitles,
		&duration,
		&thumbnail,
		&lastError,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get content record: %w", err)
	}

	record.Status = model.ProcessingState(status)
	record.Stage = model.Stage(stage)
	record.HLSPath = deref(hlsPath)
	record.Thumbnail = deref(thumbnail)
	record.LastError = deref(lastError)
	if duration != nil {
		record.Duration = *duration
	}

	if err := unmarshalList(qualities, &record.Qualities); err != nil {
		return nil, fmt.Errorf("failed to decode qualities: %w", err)
	}
	if err := unmarshalList(subtitles, &record.Subtitles); err != nil {
		return nil, fmt.Errorf("failed to decode subtitles: %w", err)
	}

	return &record, nil
}

// UpdateProcessingStatus writes every processing column of the record.
func (r *RecordRepository) UpdateProcessingStatus(ctx context.Context, record *model.ContentRecord) error {
	const query = `
		UPDATE episodes
		SET processing_status = $2, processing_stage = $3, hls_path = $4, qualities = $5,
		    subtitles = $6, duration = $7, thumbnail = $8, last_error = $9,
		    processing_updated_at = $10
		WHERE id = $1
	`

	qualities, err := marshalList(record.Qualities)
	if err != nil {
		return fmt.Errorf("failed to encode qualities: %w", err)
	}
	subtitles, err := marshalList(record.Subtitles)
	if err != nil {
		return fmt.Errorf("failed to encode subtitles: %w", err)
	}

	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	metrics.DBQueriesTotal.WithLabelValues(metrics.DBQueryUpdate, metrics.TableEpisodes).Inc()

	tag, err := r.db.Exec(ctx, query,
		record.EpisodeID,
		record.Status.String(),
		record.Stage.String(),
		nullString(record.HLSPath),
		qualities,
		subtitles,
		nullFloat(record.Duration),
		nullString(record.Thumbnail),
		nullString(record.LastError),
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update processing status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return repository.ErrRecordNotFound
	}

	return nil
}

// Delete removes the episode row. A missing row is not an error.
func (r *RecordRepository) Delete(ctx context.Context, episodeID string) error {
	const query = `DELETE FROM episodes WHERE id = $1`

	metrics.DBQueriesTotal.WithLabelValues(metrics.DBQueryDelete, metrics.TableEpisodes).Inc()

	if _, err := r.db.Exec(ctx, query, episodeID); err != nil {
		return fmt.Errorf("failed to delete content record: %w", err)
	}
	return nil
}

// marshalList encodes a slice as a JSON array, never as null.
func marshalList[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	return json.Marshal(items)
}

func unmarshalList[T any](data []byte, dst *[]T) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

// nullString returns nil for empty strings, otherwise returns a pointer to the string.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullFloat(f float64) *float64 {
	if f == 0 {
		return nil
	}
	return &f
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
