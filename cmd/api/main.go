package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"chapel/internal/attendance"
	"chapel/internal/cloudinary"
	"chapel/internal/config"
	"chapel/internal/directory"
	"chapel/internal/exeat"
	"chapel/internal/httpapi"
	"chapel/internal/logging"
	"chapel/internal/metrics"
	"chapel/internal/queue"
	"chapel/internal/schedule"
	"chapel/internal/store"
	"chapel/internal/warning"
	"chapel/internal/worker"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.AutoMigrate {
		if err := store.RunMigrations(db.Client, logger); err != nil {
			return err
		}
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	inProcessJobs := cfg.QueueBackend == "memory"
	if inProcessJobs {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey, logger)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	students := directory.NewRepository(db.Client)
	services := schedule.NewRepository(db.Client)
	exeats := exeat.NewRepository(db.Client)
	batches := attendance.NewRepository(db.Client)

	opts := []attendance.Option{attendance.WithMetrics(rec)}
	if cfg.CloudinaryConfigured() {
		opts = append(opts, attendance.WithArchive(cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)))
		logger.Info("manifest archive: cloudinary", zap.String("cloud", cfg.CloudinaryCloudName))
	} else {
		logger.Info("manifest archive disabled, storing content hash paths only")
	}
	att := attendance.NewService(batches, students, services, logger.Named("attendance"), opts...)

	gen := warning.NewGenerator(services, students, batches, exeats, warning.NewRepository(db.Client), logger.Named("warnings"),
		warning.WithMetrics(rec),
		warning.WithConcurrency(cfg.GeneratorConcurrency),
		warning.WithRetry(cfg.SnapshotRetryAttempts, cfg.SnapshotRetryBackoff),
		warning.WithRunLock(warning.NewRedisLock(redisClient.Client, cfg.RunLockTTL, logger)),
	)

	if inProcessJobs {
		runner := worker.New(gen, q, logger.Named("jobs"),
			worker.WithRetry(cfg.JobMaxAttempts, cfg.JobRetryBackoff),
			worker.WithMetrics(rec),
		)
		go func() {
			if err := runner.Run(ctx); err != nil {
				logger.Error("in-process job runner stopped", zap.Error(err))
			}
		}()
		logger.Info("in-memory queue: async jobs run in this process")
	}

	r := httpapi.NewRouter(httpapi.Config{
		Uploads:          att,
		Warnings:         gen,
		Coverage:         exeat.NewFilter(exeats),
		Jobs:             q,
		SigningKey:       cfg.JWTSigningKey,
		Issuer:           cfg.JWTIssuer,
		RateLimitPerMin:  cfg.RateLimitPerMin,
		CORSOrigins:      cfg.CORSOrigins,
		DefaultThreshold: cfg.WarningThreshold,
		Health: map[string]httpapi.HealthCheck{
			"db":    db.Healthy,
			"redis": redisClient.Healthy,
		},
		Gatherer: reg,
		Logger:   logger.Named("http"),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}
