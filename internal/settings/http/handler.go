package settingshttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/workbay/workbay/internal/platform/httpx"
	"github.com/workbay/workbay/internal/settings"
	"github.com/workbay/workbay/internal/shared"
)

// Store is the settings contract used by the handler.
type Store interface {
	LoadPrint(ctx context.Context) (settings.PrintSettings, error)
	SavePrint(ctx context.Context, in settings.PrintSettings, actor string) (settings.PrintSettings, error)
	LoadQuickDescriptions(ctx context.Context) (settings.QuickDescriptions, error)
	SaveQuickDescriptions(ctx context.Context, in settings.QuickDescriptions, actor string) (settings.QuickDescriptions, error)
}

// Handler exposes settings endpoints.
type Handler struct {
	logger *slog.Logger
	store  Store
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, store Store) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, store: store}
}

// MountRoutes registers settings routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/settings/print", h.getPrint)
	r.Put("/settings/print", h.putPrint)
	r.Get("/settings/quick-descriptions", h.getQuick)
	r.Put("/settings/quick-descriptions", h.putQuick)
}

func (h *Handler) getPrint(w http.ResponseWriter, r *http.Request) {
	out, err := h.store.LoadPrint(r.Context())
	h.respond(w, "load print settings", out, err)
}

func (h *Handler) putPrint(w http.ResponseWriter, r *http.Request) {
	var in settings.PrintSettings
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	out, err := h.store.SavePrint(r.Context(), in, shared.ActorFromContext(r.Context()))
	h.respond(w, "save print settings", out, err)
}

func (h *Handler) getQuick(w http.ResponseWriter, r *http.Request) {
	out, err := h.store.LoadQuickDescriptions(r.Context())
	h.respond(w, "load quick descriptions", out, err)
}

func (h *Handler) putQuick(w http.ResponseWriter, r *http.Request) {
	var in settings.QuickDescriptions
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	out, err := h.store.SaveQuickDescriptions(r.Context(), in, shared.ActorFromContext(r.Context()))
	h.respond(w, "save quick descriptions", out, err)
}

func (h *Handler) respond(w http.ResponseWriter, msg string, body any, err error) {
	if err != nil {
		if shared.IsUnexpected(err) {
			h.logger.Error(msg, slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, body)
}
