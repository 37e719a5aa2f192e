// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vodforge"

var (
	// JobsProcessedTotal tracks finished job attempts.
	// Labels:
	//   - outcome: completed, retried, failed, aborted, released
	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Total number of processed job attempts by outcome",
		},
		[]string{"outcome"},
	)

	// ActiveJobs is the number of jobs currently running in this process.
	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Number of jobs currently being processed",
		},
	)

	// StageDurationSeconds tracks how long each pipeline stage takes.
	// Labels:
	//   - stage: probing, thumbnail, subtitles, transcoding, packaging
	StageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		},
		[]string{"stage"},
	)

	// QueueOperationsTotal tracks job queue operations.
	// Labels:
	//   - operation: enqueue, dequeue, ack, nack, remove, release, heartbeat
	//   - status: success, error, conflict, empty
	QueueOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_operations_total",
			Help:      "Total number of job queue operations",
		},
		[]string{"operation", "status"},
	)

	// ProgressEventsTotal tracks progress events delivered to sinks.
	// Labels:
	//   - sink: redis, rabbitmq, postgres
	//   - status: success, error
	ProgressEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_events_total",
			Help:      "Total number of progress events published",
		},
		[]string{"sink", "status"},
	)

	// CancellationStepFailuresTotal tracks best-effort cancellation steps that failed.
	// Labels:
	//   - step: abort, remove, purge, scratch, mirror, record, notification
	CancellationStepFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancellation_step_failures_total",
			Help:      "Total number of failed cancellation steps",
		},
		[]string{"step"},
	)

	// CacheOperationsTotal tracks cache operations (get, set, delete).
	// Labels:
	//   - operation: get, set, delete
	//   - status: hit, miss, success, error
	//   - cache_type: redis
	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Total number of cache operations",
		},
		[]string{"operation", "status", "cache_type"},
	)

	// DBQueriesTotal tracks database queries.
	// Labels:
	//   - query_type: select, update, delete
	//   - table: episodes, admin_notifications
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_queries_total",
			Help:      "Total number of database queries",
		},
		[]string{"query_type", "table"},
	)

	// HTTPRequestsTotal tracks admin API requests.
	// Labels:
	//   - method: HTTP method
	//   - route: chi route pattern, e.g. /v1/jobs/{id}
	//   - status: response status code
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDurationSeconds tracks admin API latency.
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// SingleflightRequestsTotal tracks singleflight behavior.
	// Labels:
	//   - result: initiated (new execution), shared (reused result)
	SingleflightRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "singleflight_requests_total",
			Help:      "Total number of singleflight requests",
		},
		[]string{"result"},
	)
)

// Job outcome constants.
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeAborted   = "aborted"
	OutcomeReleased  = "released"
)

// Queue operation constants.
const (
	QueueOpReserve   = "reserve"
	QueueOpEnqueue   = "enqueue"
	QueueOpDequeue   = "dequeue"
	QueueOpAck       = "ack"
	QueueOpNack      = "nack"
	QueueOpRemove    = "remove"
	QueueOpRelease   = "release"
	QueueOpHeartbeat = "heartbeat"
)

// Queue operation status constants.
const (
	QueueStatusSuccess  = "success"
	QueueStatusError    = "error"
	QueueStatusConflict = "conflict"
	QueueStatusEmpty    = "empty"
)

// Progress sink constants.
const (
	SinkRedis    = "redis"
	SinkRabbitMQ = "rabbitmq"
	SinkPostgres = "postgres"
)

// Progress sink status constants.
const (
	SinkStatusSuccess = "success"
	SinkStatusError   = "error"
)

// Cache operation status constants.
const (
	CacheStatusHit     = "hit"
	CacheStatusMiss    = "miss"
	CacheStatusSuccess = "success"
	CacheStatusError   = "error"
)

// Cache operation type constants.
const (
	CacheOpGet    = "get"
	CacheOpSet    = "set"
	CacheOpDelete = "delete"
)

// Cache type constants.
const (
	CacheTypeRedis = "redis"
)

// DB query type constants.
const (
	DBQuerySelect = "select"
	DBQueryUpdate = "update"
	DBQueryDelete = "delete"
)

// Table name constants.
const (
	TableEpisodes      = "episodes"
	TableNotifications = "admin_notifications"
)

// Singleflight result constants.
const (
	SingleflightInitiated = "initiated"
	SingleflightShared    = "shared"
)
