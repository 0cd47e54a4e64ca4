package jobcardhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/workbay/workbay/internal/jobcard"
	"github.com/workbay/workbay/internal/platform/httpx"
	"github.com/workbay/workbay/internal/shared"
)

// JobService is the store contract used by the handler.
type JobService interface {
	Create(ctx context.Context, in jobcard.CreateInput) (*jobcard.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*jobcard.Job, error)
	GetByNumber(ctx context.Context, number string) (*jobcard.Job, error)
	Update(ctx context.Context, in jobcard.UpdateInput) (jobcard.UpdateResult, error)
	Delete(ctx context.Context, in jobcard.DeleteInput) (jobcard.UpdateResult, error)
}

// Handler exposes the job mutation entry point.
type Handler struct {
	logger  *slog.Logger
	service JobService
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service JobService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/jobs", h.create)
	r.Get("/jobs/by-number/{number}", h.getByNumber)
	r.Get("/jobs/{id}", h.get)
	r.Patch("/jobs/{id}", h.update)
	r.Delete("/jobs/{id}", h.delete)
}

type updateRequest struct {
	ExpectedVersion int           `json:"expected_version"`
	Patch           jobcard.Patch `json:"patch"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	patch, err := jobcard.DecodePatch(r.Body)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	job, err := h.service.Create(r.Context(), jobcard.CreateInput{
		Patch:  patch,
		Actor:  shared.ActorFromContext(r.Context()),
		Source: sourceTag(r),
	})
	if err != nil {
		h.fail(w, "create job", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, job)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	job, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get job", err)
		return
	}
	httpx.JSON(w, http.StatusOK, job)
}

func (h *Handler) getByNumber(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.GetByNumber(r.Context(), strings.TrimSpace(chi.URLParam(r, "number")))
	if err != nil {
		h.fail(w, "get job by number", err)
		return
	}
	httpx.JSON(w, http.StatusOK, job)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		var verr *shared.ValidationError
		if errors.As(err, &verr) {
			httpx.RespondError(w, verr)
			return
		}
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	res, err := h.service.Update(r.Context(), jobcard.UpdateInput{
		ID:              id,
		ExpectedVersion: req.ExpectedVersion,
		Patch:           req.Patch,
		Actor:           shared.ActorFromContext(r.Context()),
		Source:          sourceTag(r),
	})
	if err != nil {
		h.fail(w, "update job", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	version, err := strconv.Atoi(r.URL.Query().Get("expected_version"))
	if err != nil {
		httpx.RespondError(w, shared.NewValidationError("expected_version", "must be an integer"))
		return
	}
	res, err := h.service.Delete(r.Context(), jobcard.DeleteInput{
		ID:              id,
		ExpectedVersion: version,
		Actor:           shared.ActorFromContext(r.Context()),
		Source:          sourceTag(r),
	})
	if err != nil {
		h.fail(w, "delete job", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if shared.IsUnexpected(err) {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

// sourceTag lets trusted callers name their subsystem; the job API is the default.
func sourceTag(r *http.Request) string {
	if tag := strings.TrimSpace(r.Header.Get("X-Source-Tag")); tag != "" {
		return tag
	}
	return jobcard.SourceAPI
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, shared.NewValidationError("id", "must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}
