package reconcilehttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workbay/workbay/internal/reconcile"
)

type stubAnalyzer struct {
	got    []reconcile.BaselineEntry
	report reconcile.Report
}

func (s *stubAnalyzer) Analyze(ctx context.Context, baseline []reconcile.BaselineEntry) (reconcile.Report, error) {
	s.got = baseline
	return s.report, nil
}

func post(a *stubAnalyzer, target, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	NewHandler(nil, a).MountRoutes(r)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, target, strings.NewReader(body)))
	return rr
}

const baseline = `[{"jobNumber":"JB2025-0040","customer":{"id":"c1","name":"C1"}}]`

func TestReconcileJSON(t *testing.T) {
	a := &stubAnalyzer{report: reconcile.Report{Mismatches: []reconcile.Mismatch{{JobNumber: "JB2025-0040", Kind: reconcile.KindMissing}}}}
	rr := post(a, "/reconcile", baseline)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, a.got, 1)
	assert.Equal(t, "c1", a.got[0].CustomerID)
	assert.Contains(t, rr.Body.String(), `"MISSING"`)
}

func TestReconcileCSV(t *testing.T) {
	a := &stubAnalyzer{report: reconcile.Report{Mismatches: []reconcile.Mismatch{{JobNumber: "JB2025-0040", Kind: reconcile.KindMissing}}}}
	rr := post(a, "/reconcile?format=csv", baseline)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/csv"))
	assert.Contains(t, rr.Body.String(), "JB2025-0040,MISSING")
}

func TestReconcileRejectsEmptyBaseline(t *testing.T) {
	rr := post(&stubAnalyzer{}, "/reconcile", `[]`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReconcileRejectsUnknownFormat(t *testing.T) {
	rr := post(&stubAnalyzer{}, "/reconcile?format=pdf", baseline)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}
