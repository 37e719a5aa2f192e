package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/vodforge/internal/artifact"
	"github.com/hszk-dev/vodforge/internal/config"
	"github.com/hszk-dev/vodforge/internal/domain/repository"
	"github.com/hszk-dev/vodforge/internal/infrastructure/cache"
	"github.com/hszk-dev/vodforge/internal/infrastructure/events"
	"github.com/hszk-dev/vodforge/internal/infrastructure/postgres"
	"github.com/hszk-dev/vodforge/internal/infrastructure/queue"
	"github.com/hszk-dev/vodforge/internal/infrastructure/storage"
	"github.com/hszk-dev/vodforge/internal/transcoder"
	"github.com/hszk-dev/vodforge/internal/usecase"
	"github.com/hszk-dev/vodforge/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	for _, dir := range []string{cfg.Storage.VideosDir, cfg.Storage.ScratchDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	// Initialize infrastructure clients
	pgClient, err := postgres.NewClient(ctx, postgres.DefaultClientConfig(cfg.Database.DSN()))
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pgClient.Close()
	logger.Info("connected to PostgreSQL")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("connected to Redis")

	queueCfg := queue.DefaultConfig()
	queueCfg.KeyPrefix = cfg.Queue.KeyPrefix
	queueCfg.MaxAttempts = cfg.Queue.MaxAttempts
	queueCfg.BackoffBase = cfg.Queue.BackoffBase
	queueCfg.CompletedRetention = cfg.Queue.CompletedRetention
	queueCfg.CompletedKeep = cfg.Queue.CompletedKeep
	queueCfg.FailedRetention = cfg.Queue.FailedRetention
	jobQueue := queue.NewRedisJobQueue(redisClient, queueCfg)
	defer jobQueue.Close()

	sinks := usecase.FanoutSink{
		cache.NewRedisProgressCache(redisClient, cfg.Redis.ProgressTTL),
		postgres.NewNotificationRepository(pgClient.Pool()),
		usecase.LogSink{},
	}

	if cfg.RabbitMQ.Enabled {
		publisher, err := events.NewClient(events.ClientConfig{
			URL:            cfg.RabbitMQ.URL(),
			Exchange:       cfg.RabbitMQ.Exchange,
			PublishTimeout: events.DefaultClientConfig("").PublishTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		defer publisher.Close()
		sinks = append(sinks, publisher)
		logger.Info("connected to RabbitMQ", slog.String("exchange", cfg.RabbitMQ.Exchange))
	}

	var mirror repository.ObjectStorage
	if cfg.MinIO.Enabled {
		storageClient, err := storage.NewClient(ctx, storage.ClientConfig{
			Endpoint:     cfg.MinIO.Endpoint,
			AccessKey:    cfg.MinIO.AccessKey,
			SecretKey:    cfg.MinIO.SecretKey,
			Bucket:       cfg.MinIO.Bucket,
			UseSSL:       cfg.MinIO.UseSSL,
			CreateBucket: cfg.MinIO.CreateBucket,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to MinIO: %w", err)
		}
		mirror = storageClient
		logger.Info("connected to MinIO", slog.String("bucket", storageClient.Bucket()))
	}

	// Initialize transcoder
	ffmpegCfg := transcoder.DefaultFFmpegConfig()
	ffmpegCfg.FFmpegPath = cfg.Media.FFmpegPath
	ffmpegCfg.FFprobePath = cfg.Media.FFprobePath
	ffmpegCfg.HLSSegmentDuration = cfg.Media.HLSSegmentDuration
	ffmpegCfg.KillGracePeriod = cfg.Media.KillGracePeriod
	runner := transcoder.NewFFmpegRunner(ffmpegCfg)

	// Initialize services
	organizer := artifact.NewOrganizer(cfg.Storage.VideosDir, cfg.Storage.ScratchDir)
	status := usecase.NewStatusController(postgres.NewRecordRepository(pgClient.Pool()))
	transcodeSvc := usecase.NewTranscodeService(runner, organizer, status, mirror, usecase.TranscodeServiceConfig{
		ThumbnailOffset: cfg.Media.ThumbnailOffset,
		MirrorPrefix:    cfg.MinIO.Prefix,
	})

	pool := worker.NewPool(jobQueue, jobQueue, jobQueue, transcodeSvc, status, organizer, sinks, worker.Config{
		Concurrency:       cfg.Worker.Concurrency,
		PollInterval:      cfg.Worker.PollInterval,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		StalledAfter:      cfg.Worker.StalledAfter,
	})

	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Worker.MetricsPort),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("starting metrics server", slog.Int("port", cfg.Worker.MetricsPort))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	// The pool gets its own context so a metrics failure also stops it.
	poolCtx, cancelPool := context.WithCancel(ctx)
	defer cancelPool()

	poolDone := make(chan error, 1)
	go func() {
		poolDone <- pool.Run(poolCtx)
	}()

	select {
	case err := <-errCh:
		cancelPool()
		<-poolDone
		return err
	case err := <-poolDone:
		_ = metricsSrv.Close()
		if err != nil {
			return fmt.Errorf("worker pool error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutting down worker")
	}

	// Graceful shutdown: running jobs are released back to the queue.
	cancelPool()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	select {
	case <-poolDone:
		logger.Info("all in-flight jobs released")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, stalled jobs will be recovered by other workers")
	}

	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("worker stopped")
	return nil
}
