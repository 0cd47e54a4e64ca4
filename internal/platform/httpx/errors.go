// Package httpx provides HTTP response utilities.
package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/workbay/workbay/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var verr *shared.ValidationError
	switch {
	case errors.Is(err, shared.ErrVersionConflict):
		Problem(w, http.StatusConflict, "Version Conflict", shared.ConflictMessage)
	case errors.As(err, &verr):
		JSON(w, http.StatusUnprocessableEntity, ValidationProblem{
			ProblemDetail: ProblemDetail{Title: "Validation Failed", Status: http.StatusUnprocessableEntity, Detail: err.Error()},
			Fields:        verr.Fields,
		})
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrReconciliationInput):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrRecordNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrRestoreUnavailable):
		Problem(w, http.StatusNotFound, "Restore Unavailable", err.Error())
	case errors.Is(err, shared.ErrAlreadyReviewed):
		Problem(w, http.StatusConflict, "Already Reviewed", err.Error())
	case errors.Is(err, shared.ErrScanInProgress):
		Problem(w, http.StatusConflict, "Scan In Progress", err.Error())
	case errors.Is(err, shared.ErrOutcomeUnknown), errors.Is(err, context.DeadlineExceeded):
		Problem(w, http.StatusGatewayTimeout, "Outcome Unknown", "the change may or may not have been saved - reload before retrying")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
