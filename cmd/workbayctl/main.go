package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/workbay/workbay/cmd/workbayctl/cli"
	"github.com/workbay/workbay/internal/app"
	"github.com/workbay/workbay/internal/jobcard"
	"github.com/workbay/workbay/internal/platform/db"
	"github.com/workbay/workbay/internal/shadow"
	"github.com/workbay/workbay/jobs"
)

type pgStore struct {
	pool      *pgxpool.Pool
	jobs      *jobcard.Service
	anomalies shadow.Repository
}

func (s *pgStore) ListLinkages(ctx context.Context) ([]jobcard.Linkage, error) {
	return s.jobs.ListLinkages(ctx)
}

func (s *pgStore) ListAnomalies(ctx context.Context, filters shadow.Filters) ([]shadow.Anomaly, error) {
	return s.anomalies.List(ctx, filters)
}

func (s *pgStore) Close() {
	s.pool.Close()
}

type asynqQueue struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

func (q *asynqQueue) EnqueueShadowScan(ctx context.Context, requestedBy string) (string, error) {
	info, err := q.client.EnqueueShadowScan(ctx, requestedBy)
	if err != nil || info == nil {
		return "", err
	}
	return info.ID, nil
}

func (q *asynqQueue) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return q.inspector.GetQueueInfo(queue)
}

func (q *asynqQueue) Close() error {
	err := q.client.Close()
	if inspErr := q.inspector.Close(); err == nil {
		err = inspErr
	}
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(cli.ExitCommandError)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	deps := cli.Deps{
		Logger: logger,
		OpenStore: func(ctx context.Context) (cli.Store, error) {
			pool, err := db.New(ctx, cfg.PGDSN, cfg.StoreTimeout)
			if err != nil {
				return nil, err
			}
			service := jobcard.NewService(jobcard.NewRepository(pool),
				jobcard.WithTimeout(cfg.StoreTimeout),
				jobcard.WithLogger(logger),
			)
			return &pgStore{pool: pool, jobs: service, anomalies: shadow.NewRepository(pool)}, nil
		},
		OpenQueue: func(ctx context.Context) (cli.Queue, error) {
			opts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
			client, err := jobs.NewClient(opts, cfg.ShadowPollInterval)
			if err != nil {
				return nil, err
			}
			return &asynqQueue{client: client, inspector: asynq.NewInspector(opts)}, nil
		},
	}

	root := cli.NewRootCommand(deps)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "workbayctl:", err)
		os.Exit(cli.ExitCode(err))
	}
}
