package reconcilehttp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/workbay/workbay/internal/platform/httpx"
	"github.com/workbay/workbay/internal/reconcile"
	"github.com/workbay/workbay/internal/shared"
)

const maxBaselineBytes = 16 << 20

// Analyzer runs reconciliation.
type Analyzer interface {
	Analyze(ctx context.Context, baseline []reconcile.BaselineEntry) (reconcile.Report, error)
}

// Handler serves reconciliation requests.
type Handler struct {
	logger   *slog.Logger
	analyzer Analyzer
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, analyzer Analyzer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, analyzer: analyzer}
}

// MountRoutes registers reconciliation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(httprate.LimitByIP(10, time.Minute)).Post("/reconcile", h.analyze)
}

func (h *Handler) analyze(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	switch format {
	case "", "json", "csv", "xlsx":
	default:
		httpx.RespondError(w, shared.NewValidationError("format", "must be json, csv or xlsx"))
		return
	}
	baseline, err := reconcile.ParseBaseline(http.MaxBytesReader(w, r.Body, maxBaselineBytes))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.analyzer.Analyze(r.Context(), baseline)
	if err != nil {
		if shared.IsUnexpected(err) {
			h.logger.Error("reconcile", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}

	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", "attachment; filename=\"reconciliation.csv\"")
		if err := reconcile.WriteCSV(w, report.Mismatches); err != nil {
			h.logger.Warn("write csv", slog.Any("error", err))
		}
	case "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", "attachment; filename=\"reconciliation.xlsx\"")
		if err := reconcile.WriteXLSX(w, report.Mismatches); err != nil {
			h.logger.Warn("write xlsx", slog.Any("error", err))
		}
	default:
		httpx.JSON(w, http.StatusOK, report)
	}
}
