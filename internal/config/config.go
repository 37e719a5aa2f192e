package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server   ServerConfig
	Worker   WorkerConfig
	Queue    QueueConfig
	Media    MediaConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Redis    RedisConfig
	MinIO    MinIOConfig
	RabbitMQ RabbitMQConfig
}

type ServerConfig struct {
	Port            int           `envconfig:"API_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"API_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"API_SHUTDOWN_TIMEOUT" default:"10s"`
}

type WorkerConfig struct {
	Concurrency       int           `envconfig:"WORKER_CONCURRENCY" default:"2"`
	PollInterval      time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"1s"`
	HeartbeatInterval time.Duration `envconfig:"WORKER_HEARTBEAT_INTERVAL" default:"10s"`
	StalledAfter      time.Duration `envconfig:"WORKER_STALLED_AFTER" default:"60s"`
	ShutdownTimeout   time.Duration `envconfig:"WORKER_SHUTDOWN_TIMEOUT" default:"30s"`
	MetricsPort       int           `envconfig:"WORKER_METRICS_PORT" default:"9090"`
}

type QueueConfig struct {
	KeyPrefix          string        `envconfig:"QUEUE_KEY_PREFIX" default:"vodforge:queue"`
	MaxAttempts        int           `envconfig:"QUEUE_MAX_ATTEMPTS" default:"3"`
	BackoffBase        time.Duration `envconfig:"QUEUE_BACKOFF_BASE" default:"5s"`
	CompletedRetention time.Duration `envconfig:"QUEUE_COMPLETED_RETENTION" default:"24h"`
	CompletedKeep      int           `envconfig:"QUEUE_COMPLETED_KEEP" default:"100"`
	FailedRetention    time.Duration `envconfig:"QUEUE_FAILED_RETENTION" default:"168h"`
	AbortTimeout       time.Duration `envconfig:"QUEUE_ABORT_TIMEOUT" default:"30s"`
	ReservationTTL     time.Duration `envconfig:"QUEUE_RESERVATION_TTL" default:"10m"`
}

type MediaConfig struct {
	FFmpegPath         string        `envconfig:"FFMPEG_PATH" default:"ffmpeg"`
	FFprobePath        string        `envconfig:"FFPROBE_PATH" default:"ffprobe"`
	HLSSegmentDuration int           `envconfig:"HLS_SEGMENT_DURATION" default:"6"`
	ThumbnailOffset    time.Duration `envconfig:"THUMBNAIL_OFFSET" default:"10s"`
	KillGracePeriod    time.Duration `envconfig:"MEDIA_KILL_GRACE_PERIOD" default:"5s"`
}

type StorageConfig struct {
	VideosDir  string `envconfig:"VIDEOS_DIR" default:"./uploads/videos"`
	ScratchDir string `envconfig:"SCRATCH_DIR" default:"/tmp/vodforge"`
}

type DatabaseConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"vodforge"`
	Password string `envconfig:"POSTGRES_PASSWORD" default:"vodforge"`
	DBName   string `envconfig:"POSTGRES_DB" default:"vodforge"`
	SSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

type RedisConfig struct {
	Host        string        `envconfig:"REDIS_HOST" default:"localhost"`
	Port        int           `envconfig:"REDIS_PORT" default:"6379"`
	Password    string        `envconfig:"REDIS_PASSWORD" default:""`
	DB          int           `envconfig:"REDIS_DB" default:"0"`
	ProgressTTL time.Duration `envconfig:"REDIS_PROGRESS_TTL" default:"24h"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type MinIOConfig struct {
	Enabled      bool   `envconfig:"MINIO_ENABLED" default:"false"`
	Endpoint     string `envconfig:"MINIO_ENDPOINT" default:"localhost:9000"`
	AccessKey    string `envconfig:"MINIO_ACCESS_KEY" default:"minioadmin"`
	SecretKey    string `envconfig:"MINIO_SECRET_KEY" default:"minioadmin"`
	Bucket       string `envconfig:"MINIO_BUCKET" default:"vodforge"`
	Prefix       string `envconfig:"MINIO_PREFIX" default:"hls"`
	CreateBucket bool   `envconfig:"MINIO_CREATE_BUCKET" default:"false"`
	UseSSL       bool   `envconfig:"MINIO_USE_SSL" default:"false"`
}

type RabbitMQConfig struct {
	Enabled  bool   `envconfig:"RABBITMQ_ENABLED" default:"false"`
	Host     string `envconfig:"RABBITMQ_HOST" default:"localhost"`
	Port     int    `envconfig:"RABBITMQ_PORT" default:"5672"`
	User     string `envconfig:"RABBITMQ_USER" default:"vodforge"`
	Password string `envconfig:"RABBITMQ_PASSWORD" default:"vodforge"`
	VHost    string `envconfig:"RABBITMQ_VHOST" default:"/"`
	Exchange string `envconfig:"RABBITMQ_PROGRESS_EXCHANGE" default:"vodforge.progress"`
}

func (c RabbitMQConfig) URL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%d%s",
		c.User, c.Password, c.Host, c.Port, c.VHost,
	)
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
