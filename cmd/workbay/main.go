package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/workbay/workbay/internal/app"
	"github.com/workbay/workbay/internal/audit"
	audithttp "github.com/workbay/workbay/internal/audit/http"
	"github.com/workbay/workbay/internal/jobcard"
	jobcardhttp "github.com/workbay/workbay/internal/jobcard/http"
	jobmetrics "github.com/workbay/workbay/internal/jobs"
	"github.com/workbay/workbay/internal/observability"
	"github.com/workbay/workbay/internal/platform/cache"
	"github.com/workbay/workbay/internal/platform/db"
	"github.com/workbay/workbay/internal/reconcile"
	reconcilehttp "github.com/workbay/workbay/internal/reconcile/http"
	"github.com/workbay/workbay/internal/restore"
	"github.com/workbay/workbay/internal/review"
	"github.com/workbay/workbay/internal/settings"
	settingshttp "github.com/workbay/workbay/internal/settings/http"
	"github.com/workbay/workbay/internal/shadow"
	shadowhttp "github.com/workbay/workbay/internal/shadow/http"
	"github.com/workbay/workbay/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.StoreTimeout)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
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

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	jobRepo := jobcard.NewRepository(pool)
	jobService := jobcard.NewService(jobRepo,
		jobcard.WithTimeout(cfg.StoreTimeout),
		jobcard.WithLogger(logger.With(slog.String("component", "jobcard"))),
		jobcard.WithObserver(metrics),
	)

	auditRepo := audit.NewRepository(pool)
	auditService := audit.NewService(auditRepo)
	reviewService := review.NewService(auditRepo, jobService, logger.With(slog.String("component", "review")))
	restoreService := restore.NewService(auditRepo, jobService, logger.With(slog.String("component", "restore")))

	shadowRepo := shadow.NewRepository(pool)
	monitor := shadow.NewMonitor(shadow.NewPgState(pool), auditRepo, shadowRepo,
		shadow.NewRedisCursor(redisClient),
		shadow.NewRedisLocker(redisClient, cfg.ShadowLockTTL),
		shadow.WithLogger(logger),
		shadow.WithMetrics(jobMetrics),
		shadow.WithSources(shadow.DefaultSources(cfg.ShadowKnownSources...)),
	)
	shadowService := shadow.NewService(shadowRepo, monitor, logger.With(slog.String("component", "shadow")))

	settingsService := settings.NewService(settings.NewPgBackend(pool), redisClient, cfg.SettingsCacheTTL, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		JobHandler:       jobcardhttp.NewHandler(logger, jobService),
		AuditHandler:     audithttp.NewHandler(logger, auditService, reviewService, restoreService),
		ShadowHandler:    shadowhttp.NewHandler(logger, shadowService),
		ReconcileHandler: reconcilehttp.NewHandler(logger, reconcile.NewEngine(jobService, logger)),
		SettingsHandler:  settingshttp.NewHandler(logger, settingsService),
		QueueHandler:     jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
