package shadowhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/workbay/workbay/internal/platform/httpx"
	"github.com/workbay/workbay/internal/shadow"
	"github.com/workbay/workbay/internal/shared"
)

const maxListLimit = 500

// AnomalyService is the shadow monitor contract used by the handler.
type AnomalyService interface {
	List(ctx context.Context, filters shadow.Filters) ([]shadow.Anomaly, error)
	Resolve(ctx context.Context, id int64, actor string) (shadow.Anomaly, error)
	ScanNow(ctx context.Context) (shadow.ScanReport, error)
}

// Handler serves the anomaly feed.
type Handler struct {
	logger  *slog.Logger
	service AnomalyService
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service AnomalyService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers shadow routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/shadow/anomalies", h.list)
	r.Post("/shadow/anomalies/{id}/resolve", h.resolve)
	r.With(httprate.LimitByIP(2, time.Minute)).Post("/shadow/scan", h.scan)
}

type listResponse struct {
	Anomalies []shadow.Anomaly `json:"anomalies"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.fail(w, "list anomalies", err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{Anomalies: items})
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.NewValidationError("id", "must be a positive integer"))
		return
	}
	a, err := h.service.Resolve(r.Context(), id, shared.ActorFromContext(r.Context()))
	if errors.Is(err, shadow.ErrAlreadyResolved) {
		httpx.Problem(w, http.StatusConflict, "Already Resolved", err.Error())
		return
	}
	if err != nil {
		h.fail(w, "resolve anomaly", err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) scan(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.ScanNow(r.Context())
	if err != nil {
		h.fail(w, "shadow scan", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if shared.IsUnexpected(err) {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseFilters(r *http.Request) (shadow.Filters, error) {
	q := r.URL.Query()
	verr := &shared.ValidationError{}
	var f shadow.Filters
	if raw := strings.TrimSpace(q.Get("kind")); raw != "" {
		f.Kind = shadow.Kind(strings.ToLower(raw))
		if !f.Kind.Valid() {
			verr.Add("kind", "is not a known anomaly kind")
		}
	}
	if raw := strings.TrimSpace(q.Get("severity")); raw != "" {
		f.Severity = shadow.Severity(strings.ToLower(raw))
		if !f.Severity.Valid() {
			verr.Add("severity", "must be critical, warning or info")
		}
	}
	state, err := shadow.ParseState(q.Get("state"))
	if err != nil {
		verr.Add("state", "must be open, resolved or all")
	}
	f.State = state
	f.JobNumber = strings.TrimSpace(q.Get("q"))
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			verr.Add("limit", "must be a positive integer")
		}
		f.Limit = min(n, maxListLimit)
	}
	if err := verr.Err(); err != nil {
		return shadow.Filters{}, err
	}
	return f, nil
}
