package shadowhttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workbay/workbay/internal/shadow"
	"github.com/workbay/workbay/internal/shared"
)

type stubService struct {
	filters   shadow.Filters
	resolveBy string
	err       error
	items     []shadow.Anomaly
}

func (s *stubService) List(ctx context.Context, filters shadow.Filters) ([]shadow.Anomaly, error) {
	s.filters = filters
	return s.items, s.err
}

func (s *stubService) Resolve(ctx context.Context, id int64, actor string) (shadow.Anomaly, error) {
	s.resolveBy = actor
	return shadow.Anomaly{ID: id}, s.err
}

func (s *stubService) ScanNow(ctx context.Context) (shadow.ScanReport, error) {
	return shadow.ScanReport{Detected: 1}, s.err
}

func serve(svc *stubService, method, target string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Use(shared.ActorMiddleware)
	NewHandler(nil, svc).MountRoutes(r)
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set(shared.ActorHeader, "sam")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestListParsesFilters(t *testing.T) {
	svc := &stubService{items: []shadow.Anomaly{{ID: 1, Kind: shadow.KindTotalDrift}}}
	rr := serve(svc, http.MethodGet, "/shadow/anomalies?kind=TOTAL_DRIFT&severity=critical&state=all&q=JB2025&limit=9000")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, shadow.KindTotalDrift, svc.filters.Kind)
	assert.Equal(t, shadow.SeverityCritical, svc.filters.Severity)
	assert.Equal(t, shadow.StateAll, svc.filters.State)
	assert.Equal(t, "JB2025", svc.filters.JobNumber)
	assert.Equal(t, maxListLimit, svc.filters.Limit)
	assert.Contains(t, rr.Body.String(), `"total_drift"`)
}

func TestListAcceptsEverySeverity(t *testing.T) {
	for _, sev := range []shadow.Severity{shadow.SeverityCritical, shadow.SeverityWarning, shadow.SeverityInfo} {
		svc := &stubService{}
		rr := serve(svc, http.MethodGet, "/shadow/anomalies?severity="+string(sev))
		require.Equal(t, http.StatusOK, rr.Code, sev)
		assert.Equal(t, sev, svc.filters.Severity)
	}
	rr := serve(&stubService{}, http.MethodGet, "/shadow/anomalies?severity=urgent")
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), "critical, warning or info")
}

func TestListRejectsUnknownKind(t *testing.T) {
	rr := serve(&stubService{}, http.MethodGet, "/shadow/anomalies?kind=meteor&state=later")
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), `"kind"`))
	assert.True(t, strings.Contains(rr.Body.String(), `"state"`))
}

func TestResolveUsesActor(t *testing.T) {
	svc := &stubService{}
	rr := serve(svc, http.MethodPost, "/shadow/anomalies/5/resolve")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "sam", svc.resolveBy)
}

func TestResolveTwiceConflicts(t *testing.T) {
	rr := serve(&stubService{err: shadow.ErrAlreadyResolved}, http.MethodPost, "/shadow/anomalies/5/resolve")
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestResolveMissing(t *testing.T) {
	rr := serve(&stubService{err: shadow.ErrAnomalyNotFound}, http.MethodPost, "/shadow/anomalies/5/resolve")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestScanInProgress(t *testing.T) {
	rr := serve(&stubService{err: shared.ErrScanInProgress}, http.MethodPost, "/shadow/scan")
	require.Equal(t, http.StatusConflict, rr.Code)
}
