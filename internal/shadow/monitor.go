package shadow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/workbay/workbay/internal/audit"
	jobmetrics "github.com/workbay/workbay/internal/jobs"
	"github.com/workbay/workbay/internal/jobcard"
)

const sinceBatch = 500

// History reads audit entries appended after a sequence id.
type History interface {
	Since(ctx context.Context, afterID int64, limit int) ([]audit.Entry, error)
}

// Cursor persists the last audit sequence id a scan examined.
type Cursor interface {
	Load(ctx context.Context) (int64, error)
	Save(ctx context.Context, id int64) error
}

// Locker serialises scans across processes.
type Locker interface {
	Acquire(ctx context.Context) (release func(context.Context), err error)
}

// Monitor runs the detectors and stores what they find.
type Monitor struct {
	state   StateReader
	history History
	store   Repository
	cursor  Cursor
	locker  Locker
	sources Sources
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	now     func() time.Time
}

// MonitorOption customises a Monitor.
type MonitorOption func(*Monitor)

// WithLogger sets the monitor logger.
func WithLogger(logger *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records anomaly counts.
func WithMetrics(metrics *jobmetrics.Metrics) MonitorOption {
	return func(m *Monitor) { m.metrics = metrics }
}

// WithSources overrides the recognised source tags.
func WithSources(sources Sources) MonitorOption {
	return func(m *Monitor) { m.sources = sources }
}

// WithClock overrides the detection clock.
func WithClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor wires a Monitor.
func NewMonitor(state StateReader, history History, store Repository, cursor Cursor, locker Locker, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		state:   state,
		history: history,
		store:   store,
		cursor:  cursor,
		locker:  locker,
		sources: DefaultSources(),
		logger:  slog.Default().With(slog.String("component", "shadow")),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Scan performs one detection pass. Only one scan runs at a time; a held
// lock yields shared.ErrScanInProgress.
func (m *Monitor) Scan(ctx context.Context) (ScanReport, error) {
	if m == nil || m.state == nil || m.history == nil || m.store == nil {
		return ScanReport{}, errors.New("shadow: monitor not configured")
	}
	if m.locker != nil {
		release, err := m.locker.Acquire(ctx)
		if err != nil {
			return ScanReport{}, err
		}
		defer release(context.WithoutCancel(ctx))
	}

	report := ScanReport{StartedAt: m.now()}
	after, err := m.loadCursor(ctx)
	if err != nil {
		return ScanReport{}, err
	}

	var (
		jobs    []jobcard.Job
		latest  []audit.Entry
		entries []audit.Entry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		jobs, latest, err = m.state.ReadState(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		entries, err = m.entriesSince(gctx, after)
		return err
	})
	if err := g.Wait(); err != nil {
		return ScanReport{}, fmt.Errorf("shadow: load observation: %w", err)
	}

	obs := Observation{Jobs: jobs, Latest: make(map[string]audit.Entry, len(latest)), Entries: entries}
	for _, entry := range latest {
		obs.Latest[entry.RecordID] = entry
	}
	detected := Detect(obs, m.sources, report.StartedAt)

	report.JobsScanned = len(jobs)
	report.EntriesScanned = len(entries)
	report.Detected = len(detected)
	report.Anomalies = make([]Anomaly, 0)
	for _, anomaly := range detected {
		stored, inserted, err := m.store.Insert(ctx, anomaly)
		if err != nil {
			return ScanReport{}, err
		}
		if !inserted {
			continue
		}
		report.Inserted++
		report.Anomalies = append(report.Anomalies, stored)
		m.metrics.AddAnomalies(string(stored.Kind), string(stored.Severity), 1)
		m.logger.Warn("shadow anomaly detected",
			slog.Int64("anomaly_id", stored.ID),
			slog.String("kind", string(stored.Kind)),
			slog.String("severity", string(stored.Severity)),
			slog.String("job_number", stored.JobNumber),
			slog.String("detail", stored.Detail),
		)
	}

	report.Cursor = after
	if n := len(entries); n > 0 {
		report.Cursor = entries[n-1].ID
	}
	if m.cursor != nil && report.Cursor != after {
		if err := m.cursor.Save(ctx, report.Cursor); err != nil {
			return ScanReport{}, err
		}
	}
	report.FinishedAt = m.now()
	m.logger.Info("shadow scan completed",
		slog.Int("jobs", report.JobsScanned),
		slog.Int("entries", report.EntriesScanned),
		slog.Int("detected", report.Detected),
		slog.Int("inserted", report.Inserted),
		slog.Int64("cursor", report.Cursor),
	)
	return report, nil
}

func (m *Monitor) loadCursor(ctx context.Context) (int64, error) {
	if m.cursor == nil {
		return 0, nil
	}
	return m.cursor.Load(ctx)
}

func (m *Monitor) entriesSince(ctx context.Context, after int64) ([]audit.Entry, error) {
	var all []audit.Entry
	for {
		batch, err := m.history.Since(ctx, after, sinceBatch)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < sinceBatch {
			return all, nil
		}
		after = batch[len(batch)-1].ID
	}
}
