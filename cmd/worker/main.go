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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"chapel/internal/attendance"
	"chapel/internal/config"
	"chapel/internal/directory"
	"chapel/internal/exeat"
	"chapel/internal/logging"
	"chapel/internal/metrics"
	"chapel/internal/queue"
	"chapel/internal/schedule"
	"chapel/internal/store"
	"chapel/internal/util"
	"chapel/internal/warning"
	"chapel/internal/worker"
)

// Worker consumes warning-generation jobs and optionally triggers the weekly pass on a schedule.
func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey, logger)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	gen := warning.NewGenerator(
		schedule.NewRepository(db.Client),
		directory.NewRepository(db.Client),
		attendance.NewRepository(db.Client),
		exeat.NewRepository(db.Client),
		warning.NewRepository(db.Client),
		logger.Named("warnings"),
		warning.WithMetrics(rec),
		warning.WithConcurrency(cfg.GeneratorConcurrency),
		warning.WithRetry(cfg.SnapshotRetryAttempts, cfg.SnapshotRetryBackoff),
		warning.WithRunLock(warning.NewRedisLock(redisClient.Client, cfg.RunLockTTL, logger)),
	)

	if cfg.WorkerMetricsEnabled() {
		srv := &http.Server{
			Addr:              ":" + cfg.WorkerMetricsPort,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("worker metrics listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("worker metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.WarningsCron != "" {
		c := cron.New(cron.WithLocation(time.UTC))
		_, err := c.AddFunc(cfg.WarningsCron, func() {
			week := util.FormatDate(util.WeekStart(time.Now().UTC().AddDate(0, 0, -7)))
			msg, err := queue.NewGenerateWarnings(week, cfg.WarningThreshold)
			if err == nil {
				err = q.Publish(ctx, msg)
			}
			if err != nil {
				logger.Error("schedule weekly warnings", zap.String("week_start", week), zap.Error(err))
				return
			}
			logger.Info("weekly warnings scheduled", zap.String("week_start", week))
		})
		if err != nil {
			logger.Fatal("invalid WARNINGS_CRON", zap.String("spec", cfg.WarningsCron), zap.Error(err))
		}
		c.Start()
		defer c.Stop()
		logger.Info("weekly trigger enabled", zap.String("spec", cfg.WarningsCron))
	}

	runner := worker.New(gen, q, logger.Named("jobs"),
		worker.WithRetry(cfg.JobMaxAttempts, cfg.JobRetryBackoff),
		worker.WithMetrics(rec),
	)
	logger.Info("worker started, waiting for jobs")
	if err := runner.Run(ctx); err != nil {
		logger.Fatal("queue consume init failed", zap.Error(err))
	}
	logger.Info("worker stopped")
}
