package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/workbay/workbay/internal/jobcard"
)

// LinkageSource lists live, non-deleted job linkages ordered by job number.
type LinkageSource interface {
	ListLinkages(ctx context.Context) ([]jobcard.Linkage, error)
}

// Engine runs reconciliation against the live store. It only reads.
type Engine struct {
	source LinkageSource
	logger *slog.Logger
}

// NewEngine constructs an Engine.
func NewEngine(source LinkageSource, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default().With(slog.String("component", "reconcile"))
	}
	return &Engine{source: source, logger: logger}
}

// Analyze loads live linkages and compares them with baseline.
func (e *Engine) Analyze(ctx context.Context, baseline []BaselineEntry) (Report, error) {
	if e == nil || e.source == nil {
		return Report{}, errors.New("reconcile: engine not configured")
	}
	if len(baseline) == 0 {
		return Report{}, invalid("baseline is empty")
	}
	live, err := e.source.ListLinkages(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("reconcile: load live linkages: %w", err)
	}
	mismatches := Analyze(baseline, live)
	report := Report{Summary: Summarise(baseline, live, mismatches), Mismatches: mismatches}
	e.logger.Info("reconciliation completed",
		slog.Int("baseline", report.Summary.Baseline),
		slog.Int("live", report.Summary.Live),
		slog.Int("missing", report.Summary.Missing),
		slog.Int("mismatched", report.Summary.Mismatched),
		slog.Int("extra", report.Summary.Extra),
	)
	return report, nil
}
