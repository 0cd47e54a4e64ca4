// Package shadow implements the shadow audit monitor: an independent check
// that compares live job rows against the audit log and reports writes that
// bypassed the record store.
package shadow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/workbay/workbay/internal/shared"
)

// Kind names the anomaly a detector found.
type Kind string

const (
	KindUnauthorizedWrite Kind = "unauthorized_write"
	KindTotalDrift        Kind = "total_drift"
	KindCustomerRelink    Kind = "customer_relink"
	KindSilentDeletion    Kind = "silent_deletion"
)

// Kinds lists every anomaly kind.
var Kinds = []Kind{KindUnauthorizedWrite, KindTotalDrift, KindCustomerRelink, KindSilentDeletion}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Severity ranks anomalies for operators.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityCritical || s == SeverityWarning || s == SeverityInfo
}

var (
	// ErrAnomalyNotFound is returned for unknown anomaly ids.
	ErrAnomalyNotFound = fmt.Errorf("shadow anomaly: %w", shared.ErrRecordNotFound)
	// ErrAlreadyResolved is returned when an anomaly was acknowledged before.
	ErrAlreadyResolved = errors.New("shadow anomaly already resolved")
)

// Anomaly is one stored detection. Only the resolution fields change after
// insertion.
type Anomaly struct {
	ID           int64          `json:"id"`
	Kind         Kind           `json:"kind"`
	Severity     Severity       `json:"severity"`
	JobID        string         `json:"job_id"`
	JobNumber    string         `json:"job_number"`
	AuditEntryID *int64         `json:"audit_entry_id,omitempty"`
	Detail       string         `json:"detail"`
	Evidence     map[string]any `json:"evidence"`
	Fingerprint  string         `json:"fingerprint"`
	DetectedAt   time.Time      `json:"detected_at"`
	ResolvedAt   *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy   *string        `json:"resolved_by,omitempty"`
}

// Resolved reports whether an operator acknowledged the anomaly.
func (a Anomaly) Resolved() bool {
	return a.ResolvedAt != nil
}

// State filters anomalies by resolution.
type State string

const (
	StateOpen     State = "open"
	StateResolved State = "resolved"
	StateAll      State = "all"
)

// ParseState normalises user input, defaulting to open.
func ParseState(raw string) (State, error) {
	state := State(strings.ToLower(strings.TrimSpace(raw)))
	switch state {
	case "":
		return StateOpen, nil
	case StateOpen, StateResolved, StateAll:
		return state, nil
	default:
		return "", fmt.Errorf("shadow: unknown state %q", raw)
	}
}

// Filters narrows anomaly listings.
type Filters struct {
	Kind      Kind
	Severity  Severity
	State     State
	JobNumber string
	Limit     int
}

// ScanReport summarises one monitor run.
type ScanReport struct {
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	JobsScanned    int       `json:"jobs_scanned"`
	EntriesScanned int       `json:"entries_scanned"`
	Cursor         int64     `json:"cursor"`
	Detected       int       `json:"detected"`
	Inserted       int       `json:"inserted"`
	Anomalies      []Anomaly `json:"anomalies"`
}
