package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workbay/workbay/internal/observability"
	"github.com/workbay/workbay/internal/settings"
	settingshttp "github.com/workbay/workbay/internal/settings/http"
	"github.com/workbay/workbay/internal/shared"
)

type recordingBackend struct {
	payload []byte
	actor   string
}

func (b *recordingBackend) Get(ctx context.Context, c settings.Category) ([]byte, error) {
	if b.payload == nil {
		return nil, settings.ErrNotStored
	}
	return b.payload, nil
}

func (b *recordingBackend) Put(ctx context.Context, c settings.Category, payload []byte, actor string) error {
	b.payload = payload
	b.actor = actor
	return nil
}

func newTestRouter(backend settings.Backend) http.Handler {
	svc := settings.NewService(backend, nil, 0, nil)
	return NewRouter(RouterParams{
		Config:          &Config{AppEnv: "test"},
		SettingsHandler: settingshttp.NewHandler(nil, svc),
		Metrics:         observability.NewMetrics(),
	})
}

func TestRouterHealthzAndSecurityHeaders(t *testing.T) {
	router := newTestRouter(&recordingBackend{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestRouterPassesActorToHandlers(t *testing.T) {
	backend := &recordingBackend{}
	router := newTestRouter(backend)

	req := httptest.NewRequest(http.MethodPut, "/settings/quick-descriptions", strings.NewReader(`{"items":["Service"]}`))
	req.Header.Set(shared.ActorHeader, "sam")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "sam", backend.actor)
}

func TestRouterExposesMetrics(t *testing.T) {
	router := newTestRouter(&recordingBackend{})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `workbay_http_requests_total{code="200",route="/healthz"} 1`)
}

func TestRouterLeavesMissingHandlersUnmounted(t *testing.T) {
	router := NewRouter(RouterParams{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/shadow/anomalies", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
