package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/workbay/workbay/internal/app"
	"github.com/workbay/workbay/internal/audit"
	jobmetrics "github.com/workbay/workbay/internal/jobs"
	"github.com/workbay/workbay/internal/platform/cache"
	"github.com/workbay/workbay/internal/platform/db"
	"github.com/workbay/workbay/internal/shadow"
	"github.com/workbay/workbay/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	if !cfg.ShadowEnabled {
		logger.Info("shadow audit disabled, worker has nothing to run")
		return
	}

	pool, err := db.New(ctx, cfg.PGDSN, cfg.StoreTimeout)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.StoreTimeout)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	monitor := shadow.NewMonitor(shadow.NewPgState(pool), audit.NewRepository(pool), shadow.NewRepository(pool),
		shadow.NewRedisCursor(redisClient),
		shadow.NewRedisLocker(redisClient, cfg.ShadowLockTTL),
		shadow.WithLogger(logger),
		shadow.WithMetrics(metrics),
		shadow.WithSources(shadow.DefaultSources(cfg.ShadowKnownSources...)),
	)
	scanJob := jobs.NewShadowScanJob(monitor, logger, metrics)

	scanTask, err := jobs.NewShadowScanTask(jobs.ShadowScanPayload{}, cfg.ShadowPollInterval)
	if err != nil {
		logger.Error("build shadow scan task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskShadowScan, Handler: scanJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ShadowCronSpec(), Task: scanTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started", slog.String("shadow_schedule", cfg.ShadowCronSpec()))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
