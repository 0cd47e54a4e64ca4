package shadow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// Scanner runs one detection pass.
type Scanner interface {
	Scan(ctx context.Context) (ScanReport, error)
}

// Service exposes the anomaly feed and on-demand scans.
type Service struct {
	repo    Repository
	scanner Scanner
	logger  *slog.Logger
	group   singleflight.Group
	now     func() time.Time
}

// NewService constructs the shadow service.
func NewService(repo Repository, scanner Scanner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default().With(slog.String("component", "shadow"))
	}
	return &Service{repo: repo, scanner: scanner, logger: logger, now: time.Now}
}

// List returns anomalies newest first.
func (s *Service) List(ctx context.Context, filters Filters) ([]Anomaly, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("shadow: service not configured")
	}
	if filters.State == "" {
		filters.State = StateOpen
	}
	return s.repo.List(ctx, filters)
}

// Resolve acknowledges an anomaly. It never touches the job it describes.
func (s *Service) Resolve(ctx context.Context, id int64, actor string) (Anomaly, error) {
	if s == nil || s.repo == nil {
		return Anomaly{}, errors.New("shadow: service not configured")
	}
	a, err := s.repo.Resolve(ctx, id, strings.TrimSpace(actor), s.now().UTC())
	if err != nil {
		return Anomaly{}, err
	}
	s.logger.Info("shadow anomaly resolved",
		slog.Int64("anomaly_id", id),
		slog.String("kind", string(a.Kind)),
		slog.String("actor", actor),
	)
	return a, nil
}

// ScanNow runs a scan on behalf of a caller. Concurrent callers in this
// process share one run.
func (s *Service) ScanNow(ctx context.Context) (ScanReport, error) {
	if s == nil || s.scanner == nil {
		return ScanReport{}, errors.New("shadow: scanner not configured")
	}
	ch := s.group.DoChan("scan", func() (any, error) {
		return s.scanner.Scan(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return ScanReport{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return ScanReport{}, res.Err
		}
		return res.Val.(ScanReport), nil
	}
}
