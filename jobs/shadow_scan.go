package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/workbay/workbay/internal/jobs"
	"github.com/workbay/workbay/internal/shadow"
	"github.com/workbay/workbay/internal/shared"
)

// Scanner runs one shadow audit pass.
type Scanner interface {
	Scan(ctx context.Context) (shadow.ScanReport, error)
}

// ShadowScanJob executes shadow scans pulled from the queue.
type ShadowScanJob struct {
	Scanner Scanner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewShadowScanJob initialises the scan handler.
func NewShadowScanJob(scanner Scanner, logger *slog.Logger, metrics *jobmetrics.Metrics) *ShadowScanJob {
	return &ShadowScanJob{Scanner: scanner, Logger: logger, Metrics: metrics}
}

// Handle executes a scan. A scan already holding the lock is not an error:
// the running pass covers the same entries.
func (j *ShadowScanJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Scanner == nil {
		return errors.New("shadow scan: handler not configured")
	}
	var payload ShadowScanPayload
	if raw := t.Payload(); len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskShadowScan)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger()
	if payload.RequestedBy != "" {
		logger = logger.With(slog.String("requested_by", payload.RequestedBy))
	}
	start := time.Now()
	report, err := j.Scanner.Scan(ctx)
	if errors.Is(err, shared.ErrScanInProgress) {
		logger.Info("shadow scan skipped, another scan holds the lock")
		return nil
	}
	if err != nil {
		logger.Error("shadow scan failed", slog.Any("error", err))
		return err
	}
	logger.Info("shadow scan task finished",
		slog.Int("inserted", report.Inserted),
		slog.Int64("cursor", report.Cursor),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *ShadowScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskShadowScan))
	}
	return slog.Default().With(slog.String("job", TaskShadowScan))
}

func (j *ShadowScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
