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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/vodforge/internal/api/handler"
	"github.com/hszk-dev/vodforge/internal/api/middleware"
	"github.com/hszk-dev/vodforge/internal/artifact"
	"github.com/hszk-dev/vodforge/internal/config"
	"github.com/hszk-dev/vodforge/internal/domain/repository"
	"github.com/hszk-dev/vodforge/internal/infrastructure/cache"
	"github.com/hszk-dev/vodforge/internal/infrastructure/postgres"
	"github.com/hszk-dev/vodforge/internal/infrastructure/queue"
	"github.com/hszk-dev/vodforge/internal/infrastructure/storage"
	"github.com/hszk-dev/vodforge/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Initialize infrastructure clients
	pgClient, err := postgres.NewClient(ctx, postgres.DefaultClientConfig(cfg.Database.DSN()))
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pgClient.Close()

	if err := pgClient.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to prepare schema: %w", err)
	}
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
	queueCfg.ReservationTTL = cfg.Queue.ReservationTTL
	jobQueue := queue.NewRedisJobQueue(redisClient, queueCfg)
	defer jobQueue.Close()

	checks := map[string]handler.Checker{
		"postgres": pgClient.Ping,
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
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
		checks["minio"] = storageClient.Ping
		logger.Info("connected to MinIO", slog.String("bucket", storageClient.Bucket()))
	}

	// Initialize repositories and services
	records := postgres.NewRecordRepository(pgClient.Pool())
	progressCache := cache.NewRedisProgressCache(redisClient, cfg.Redis.ProgressTTL)
	notifications := usecase.NotificationStores{
		postgres.NewNotificationRepository(pgClient.Pool()),
		progressCache,
	}

	organizer := artifact.NewOrganizer(cfg.Storage.VideosDir, cfg.Storage.ScratchDir)
	status := usecase.NewStatusController(records)

	submissionSvc := usecase.NewSubmissionService(jobQueue, organizer, status)
	cancelSvc := usecase.NewCancelService(jobQueue, jobQueue, organizer, records, notifications, mirror, usecase.CancelServiceConfig{
		AbortTimeout: cfg.Queue.AbortTimeout,
		MirrorPrefix: cfg.MinIO.Prefix,
	})
	progressSvc := usecase.NewProgressService(progressCache, records, jobQueue, usecase.DefaultProgressServiceConfig())

	r := setupRouter(logger, handler.NewHealthHandler(checks), handler.NewJobHandler(submissionSvc, cancelSvc, progressSvc))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	// Cancellations accepted with 202 are finished before exiting.
	done := make(chan struct{})
	go func() {
		cancelSvc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, some cancellations may be incomplete")
	}

	logger.Info("server stopped")
	return nil
}

func setupRouter(logger *slog.Logger, health *handler.HealthHandler, jobs *handler.JobHandler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))

	r.Get("/health", health.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", jobs.Routes)

	return r
}
