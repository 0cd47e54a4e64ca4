package audithttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/workbay/workbay/internal/audit"
	"github.com/workbay/workbay/internal/jobcard"
	"github.com/workbay/workbay/internal/platform/httpx"
	"github.com/workbay/workbay/internal/restore"
	"github.com/workbay/workbay/internal/review"
	"github.com/workbay/workbay/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
	dateLayout      = "2006-01-02"
)

// LogService defines the read contract for the audit log.
type LogService interface {
	List(ctx context.Context, filters audit.Filters) (audit.Result, error)
	Get(ctx context.Context, id int64) (audit.Entry, error)
	Export(ctx context.Context, filters audit.Filters) ([]audit.Entry, error)
}

// ReviewService accepts or rejects entries.
type ReviewService interface {
	Accept(ctx context.Context, id int64, reviewer string) (audit.Entry, error)
	Reject(ctx context.Context, id int64, reviewer string) (review.RejectResult, error)
}

// RestoreService previews and applies corrective writes.
type RestoreService interface {
	Preview(ctx context.Context, jobNumber string, at time.Time) (restore.Preview, error)
	CommitAt(ctx context.Context, jobID uuid.UUID, at time.Time, reason, actor string, expectedVersion int) (jobcard.UpdateResult, error)
	Rebuild(ctx context.Context, in restore.RebuildInput) (jobcard.UpdateResult, error)
}

// Handler menangani permintaan audit log, review dan restore.
type Handler struct {
	logger   *slog.Logger
	log      LogService
	reviews  ReviewService
	restores RestoreService
}

// NewHandler membuat handler audit baru.
func NewHandler(logger *slog.Logger, log LogService, reviews ReviewService, restores RestoreService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		log:      log,
		reviews:  reviews,
		restores: restores,
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.log.List(r.Context(), filters)
	if err != nil {
		h.fail(w, "list audit entries", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseEntryID(w, r)
	if !ok {
		return
	}
	entry, err := h.log.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get audit entry", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if strings.TrimSpace(r.URL.Query().Get("review_state")) == "" {
		filters.ReviewState = audit.ReviewAny
	}
	entries, err := h.log.Export(r.Context(), filters)
	if err != nil {
		h.fail(w, "export audit entries", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-log.csv\"")
	if err := audit.WriteCSV(w, entries); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
	id, ok := parseEntryID(w, r)
	if !ok {
		return
	}
	entry, err := h.reviews.Accept(r.Context(), id, shared.ActorFromContext(r.Context()))
	if errors.Is(err, shared.ErrAlreadyReviewed) && entry.ReviewState == audit.ReviewAccepted {
		// accepting twice is a no-op
		httpx.JSON(w, http.StatusOK, entry)
		return
	}
	if err != nil {
		h.fail(w, "accept audit entry", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	id, ok := parseEntryID(w, r)
	if !ok {
		return
	}
	res, err := h.reviews.Reject(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "reject audit entry", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

type previewRequest struct {
	JobNumber string    `json:"job_number"`
	At        time.Time `json:"at"`
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !decode(w, r, &req) {
		return
	}
	preview, err := h.restores.Preview(r.Context(), req.JobNumber, req.At)
	if err != nil {
		h.fail(w, "preview restore", err)
		return
	}
	httpx.JSON(w, http.StatusOK, preview)
}

type commitRequest struct {
	JobID           uuid.UUID `json:"job_id"`
	At              time.Time `json:"at"`
	Reason          string    `json:"reason"`
	ExpectedVersion int       `json:"expected_version"`
}

func (h *Handler) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if !decode(w, r, &req) {
		return
	}
	verr := &shared.ValidationError{}
	if req.JobID == uuid.Nil {
		verr.Add("job_id", "is required")
	}
	if req.At.IsZero() {
		verr.Add("at", "is required")
	}
	if err := verr.Err(); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.restores.CommitAt(r.Context(), req.JobID, req.At, req.Reason, shared.ActorFromContext(r.Context()), req.ExpectedVersion)
	if err != nil {
		h.fail(w, "commit restore", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

type rebuildRequest struct {
	JobNumber         string                  `json:"job_number"`
	Reason            string                  `json:"reason"`
	ExpectedVersion   int                     `json:"expected_version"`
	LineItems         []jobcard.LineItemInput `json:"line_items"`
	LabourHours       *decimal.Decimal        `json:"labour_hours"`
	LabourRate        *decimal.Decimal        `json:"labour_rate"`
	TransportCharge   *decimal.Decimal        `json:"transport_charge"`
	SharpeningCharge  *decimal.Decimal        `json:"sharpening_charge"`
	SmallRepairCharge *decimal.Decimal        `json:"small_repair_charge"`
	DepositPaid       *decimal.Decimal        `json:"deposit_paid"`
	DiscountType      *jobcard.DiscountType   `json:"discount_type"`
	DiscountValue     *decimal.Decimal        `json:"discount_value"`
}

func (h *Handler) handleRebuild(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.restores.Rebuild(r.Context(), restore.RebuildInput{
		JobNumber:         req.JobNumber,
		Reason:            req.Reason,
		Actor:             shared.ActorFromContext(r.Context()),
		LineItems:         req.LineItems,
		LabourHours:       req.LabourHours,
		LabourRate:        req.LabourRate,
		TransportCharge:   req.TransportCharge,
		SharpeningCharge:  req.SharpeningCharge,
		SmallRepairCharge: req.SmallRepairCharge,
		DepositPaid:       req.DepositPaid,
		DiscountType:      req.DiscountType,
		DiscountValue:     req.DiscountValue,
		ExpectedVersion:   req.ExpectedVersion,
	})
	if err != nil {
		h.fail(w, "rebuild job", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) parseFilters(r *http.Request) (audit.Filters, error) {
	q := r.URL.Query()
	verr := &shared.ValidationError{}
	var filters audit.Filters

	from, err := parseTime(q.Get("from"), false)
	if err != nil {
		verr.Add("from", "must be a date or RFC3339 timestamp")
	}
	to, err := parseTime(q.Get("to"), true)
	if err != nil {
		verr.Add("to", "must be a date or RFC3339 timestamp")
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		verr.Add("from", "must not be after to")
	}
	filters.From, filters.To = from, to

	if raw := strings.TrimSpace(q.Get("operation")); raw != "" {
		op, err := audit.ParseOperation(raw)
		if err != nil {
			verr.Add("operation", "is not a known operation")
		}
		filters.Operation = op
	}
	state, err := audit.ParseReviewState(q.Get("review_state"))
	if err != nil {
		verr.Add("review_state", "must be unreviewed, accepted, rejected or all")
	}
	filters.ReviewState = state
	filters.Query = strings.TrimSpace(q.Get("q"))

	filters.Page = 1
	if v := strings.TrimSpace(q.Get("page")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			verr.Add("page", "must be a positive integer")
		}
		filters.Page = parsed
	}
	filters.PageSize = defaultPageSize
	if v := strings.TrimSpace(q.Get("page_size")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			verr.Add("page_size", "must be a positive integer")
		}
		filters.PageSize = min(parsed, maxPageSize)
	}
	if err := verr.Err(); err != nil {
		return audit.Filters{}, err
	}
	return filters, nil
}

// parseTime accepts RFC3339 or a bare date. A bare upper bound covers the
// whole day.
func parseTime(raw string, upper bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	day, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, err
	}
	if upper {
		day = day.Add(24 * time.Hour)
	}
	return day, nil
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if shared.IsUnexpected(err) {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return false
	}
	return true
}

func parseEntryID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.NewValidationError("id", "must be a positive integer"))
		return 0, false
	}
	return id, true
}
