package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/workbay/workbay/internal/audit/http"
	jobcardhttp "github.com/workbay/workbay/internal/jobcard/http"
	"github.com/workbay/workbay/internal/observability"
	reconcilehttp "github.com/workbay/workbay/internal/reconcile/http"
	settingshttp "github.com/workbay/workbay/internal/settings/http"
	shadowhttp "github.com/workbay/workbay/internal/shadow/http"
	"github.com/workbay/workbay/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config

	JobHandler       *jobcardhttp.Handler
	AuditHandler     *audithttp.Handler
	ShadowHandler    *shadowhttp.Handler
	ReconcileHandler *reconcilehttp.Handler
	SettingsHandler  *settingshttp.Handler
	QueueHandler     *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with Workbay defaults. Nil handlers are
// left unmounted.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.JobHandler != nil {
		params.JobHandler.MountRoutes(r)
	}
	if params.AuditHandler != nil {
		params.AuditHandler.MountRoutes(r)
	}
	if params.ShadowHandler != nil {
		params.ShadowHandler.MountRoutes(r)
	}
	if params.ReconcileHandler != nil {
		params.ReconcileHandler.MountRoutes(r)
	}
	if params.SettingsHandler != nil {
		params.SettingsHandler.MountRoutes(r)
	}
	if params.QueueHandler != nil {
		params.QueueHandler.MountRoutes(r)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
