package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workbay/workbay/internal/shared"
)

func TestRespondErrorMapsTaxonomy(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"conflict", fmt.Errorf("update job: %w", shared.ErrVersionConflict), http.StatusConflict},
		{"not found", shared.ErrRecordNotFound, http.StatusNotFound},
		{"restore", shared.ErrRestoreUnavailable, http.StatusNotFound},
		{"reviewed", shared.ErrAlreadyReviewed, http.StatusConflict},
		{"baseline", shared.ErrReconciliationInput, http.StatusBadRequest},
		{"unknown outcome", shared.ErrOutcomeUnknown, http.StatusGatewayTimeout},
		{"field validation", shared.NewValidationError("quantity", "must be positive"), http.StatusUnprocessableEntity},
		{"generic", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			RespondError(rr, tc.err)
			assert.Equal(t, tc.status, rr.Code)
		})
	}
}

func TestRespondErrorConflictMessageIsDistinct(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, shared.ErrVersionConflict)

	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, shared.ConflictMessage, body.Detail)
}

func TestRespondErrorIncludesFieldProblems(t *testing.T) {
	rr := httptest.NewRecorder()
	verr := shared.NewValidationError("labour_hours", "must not be negative")
	RespondError(rr, fmt.Errorf("patch: %w", verr))

	var body ValidationProblem
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "must not be negative", body.Fields["labour_hours"])
}
