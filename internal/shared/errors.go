package shared

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrVersionConflict indicates the caller presented a stale version token.
	ErrVersionConflict = errors.New("version conflict")
	// ErrRecordNotFound indicates the target record does not exist or is soft-deleted.
	ErrRecordNotFound = errors.New("record not found")
	// ErrValidation indicates a payload violated a field invariant.
	ErrValidation = errors.New("validation failed")
	// ErrRestoreUnavailable indicates no audit history exists at or before the requested time.
	ErrRestoreUnavailable = errors.New("no history at or before that time")
	// ErrAlreadyReviewed indicates accept/reject on an entry that is no longer unreviewed.
	ErrAlreadyReviewed = errors.New("audit entry already reviewed")
	// ErrReconciliationInput indicates a malformed or empty baseline payload.
	ErrReconciliationInput = errors.New("reconciliation input invalid")
	// ErrOutcomeUnknown indicates a write timed out and may or may not have committed.
	// Callers must re-read the current version before retrying.
	ErrOutcomeUnknown = errors.New("write outcome unknown")
	// ErrScanInProgress indicates another shadow scan holds the scan lock.
	ErrScanInProgress = errors.New("shadow scan already in progress")
)

// ConflictMessage is shown to operators when ErrVersionConflict surfaces.
const ConflictMessage = "this job was changed by someone else - reload and try again"

// ValidationError collects per-field validation problems.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError with a single field problem.
func NewValidationError(field, problem string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: problem}}
}

// Add records a problem for field, keeping the first one reported.
func (e *ValidationError) Add(field, problem string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = problem
	}
}

// Empty reports whether no problems were recorded.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

// Err returns nil when no problems were recorded.
func (e *ValidationError) Err() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	if e.Empty() {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(parts, "; "))
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// IsUnexpected reports whether err falls outside the expected taxonomy and
// should be logged as a failure.
func IsUnexpected(err error) bool {
	if err == nil {
		return false
	}
	for _, known := range []error{
		ErrVersionConflict, ErrRecordNotFound, ErrValidation, ErrRestoreUnavailable,
		ErrAlreadyReviewed, ErrReconciliationInput, ErrScanInProgress,
	} {
		if errors.Is(err, known) {
			return false
		}
	}
	return true
}
