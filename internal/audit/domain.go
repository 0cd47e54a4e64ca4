package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Operation classifies the mutation an entry documents.
type Operation string

const (
	OpInsert   Operation = "INSERT"
	OpUpdate   Operation = "UPDATE"
	OpDelete   Operation = "DELETE"
	OpRecovery Operation = "RECOVERY" // operator restore to a prior state
	OpRebuild  Operation = "REBUILD"  // operator re-entry of lost line items
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OpInsert, OpUpdate, OpDelete, OpRecovery, OpRebuild:
		return true
	default:
		return false
	}
}

// Corrective reports whether op is an operator-initiated corrective action.
func (op Operation) Corrective() bool {
	return op == OpRecovery || op == OpRebuild
}

// ParseOperation normalises user input into an Operation.
func ParseOperation(raw string) (Operation, error) {
	op := Operation(strings.ToUpper(strings.TrimSpace(raw)))
	if !op.Valid() {
		return "", fmt.Errorf("audit: unknown operation %q", raw)
	}
	return op, nil
}

// ReviewState tracks operator review of an entry.
type ReviewState string

const (
	ReviewUnreviewed ReviewState = "unreviewed"
	ReviewAccepted   ReviewState = "accepted"
	ReviewRejected   ReviewState = "rejected"
	// ReviewAny disables review-state filtering in listings.
	ReviewAny ReviewState = "all"
)

// ParseReviewState normalises user input into a ReviewState.
func ParseReviewState(raw string) (ReviewState, error) {
	state := ReviewState(strings.ToLower(strings.TrimSpace(raw)))
	switch state {
	case "":
		return ReviewUnreviewed, nil
	case ReviewUnreviewed, ReviewAccepted, ReviewRejected, ReviewAny:
		return state, nil
	default:
		return "", fmt.Errorf("audit: unknown review state %q", raw)
	}
}

// TableJobRecords is the audited table for job records.
const TableJobRecords = "job_records"

// Well-known snapshot keys read by the review, restore and shadow components.
const (
	FieldJobNumber  = "job_number"
	FieldVersion    = "version"
	FieldCustomerID = "customer_id"
)

// Values is a full JSON snapshot of a record.
type Values map[string]any

// ToValues converts any JSON-serialisable snapshot into Values.
func ToValues(v any) (Values, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal snapshot: %w", err)
	}
	out := Values{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("audit: normalise snapshot: %w", err)
	}
	return out, nil
}

// Decode unmarshals the snapshot into target.
func (v Values) Decode(target any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}

// String returns the string value stored under key, or "".
func (v Values) String(key string) string {
	if v == nil {
		return ""
	}
	s, _ := v[key].(string)
	return s
}

// Entry is an append-only record of one mutation. Only the review fields
// change after insertion.
type Entry struct {
	ID            int64       `json:"id"`
	TableName     string      `json:"table_name"`
	RecordID      string      `json:"record_id"`
	Operation     Operation   `json:"operation"`
	OldValues     Values      `json:"old_values"`
	NewValues     Values      `json:"new_values"`
	ChangedFields []string    `json:"changed_fields"`
	Actor         string      `json:"actor"`
	Source        string      `json:"source"`
	ChangedAt     time.Time   `json:"changed_at"`
	ReviewState   ReviewState `json:"review_state"`
	ReviewedBy    *string     `json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time  `json:"reviewed_at,omitempty"`
}

// JobNumber returns the job number embedded in the snapshots.
func (e Entry) JobNumber() string {
	if n := e.NewValues.String(FieldJobNumber); n != "" {
		return n
	}
	return e.OldValues.String(FieldJobNumber)
}

// Reviewed reports whether the entry already left the unreviewed state.
func (e Entry) Reviewed() bool {
	return e.ReviewState != "" && e.ReviewState != ReviewUnreviewed
}

// Touches reports whether any of fields appear in ChangedFields.
func (e Entry) Touches(fields ...string) bool {
	for _, changed := range e.ChangedFields {
		for _, f := range fields {
			if changed == f {
				return true
			}
		}
	}
	return false
}

// Filters narrows audit listings.
type Filters struct {
	From        time.Time
	To          time.Time
	Operation   Operation
	ReviewState ReviewState
	Query       string
	TableName   string
	RecordID    string
	Page        int
	PageSize    int
}

// PagingInfo menyimpan metadata pagination sederhana.
type PagingInfo struct {
	Page     int  `json:"page"`
	HasNext  bool `json:"has_next"`
	PageSize int  `json:"page_size"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result membungkus hasil listing dengan informasi paging.
type Result struct {
	Entries []Entry    `json:"entries"`
	Paging  PagingInfo `json:"paging"`
}
