package jobcard

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/workbay/workbay/internal/audit"
	"github.com/workbay/workbay/internal/shared"
)

// ErrNotFound reports a missing or soft-deleted job.
var ErrNotFound = fmt.Errorf("job: %w", shared.ErrRecordNotFound)

// ErrTerminalStatus is returned when an ordinary update tries to leave write_off.
var ErrTerminalStatus = errors.New("job is written off")

// ============================================================================
// STATUS
// ============================================================================

// Status is the workshop progress of a job.
type Status string

const (
	StatusPending       Status = "pending"
	StatusInProgress    Status = "in_progress"
	StatusAwaitingParts Status = "awaiting_parts"
	StatusAwaitingQuote Status = "awaiting_quote"
	StatusCompleted     Status = "completed"
	StatusDelivered     Status = "delivered"
	StatusWriteOff      Status = "write_off"
)

// Statuses lists every state in workflow order.
var Statuses = []Status{
	StatusPending, StatusInProgress, StatusAwaitingParts, StatusAwaitingQuote,
	StatusCompleted, StatusDelivered, StatusWriteOff,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether ordinary updates may no longer leave s.
func (s Status) Terminal() bool {
	return s == StatusWriteOff
}

// DiscountType selects how DiscountValue is interpreted.
type DiscountType string

const (
	DiscountNone    DiscountType = "none"
	DiscountPercent DiscountType = "percent"
	DiscountFixed   DiscountType = "fixed"
)

// Valid reports whether d is a known discount type.
func (d DiscountType) Valid() bool {
	return d == DiscountNone || d == DiscountPercent || d == DiscountFixed
}

// ============================================================================
// JOB
// ============================================================================

// LineItem is a part or free-text charge on a job. Total is always
// Quantity x UnitPrice and never taken from input.
type LineItem struct {
	ID          uuid.UUID       `json:"id"`
	PartID      *uuid.UUID      `json:"part_id,omitempty"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Total       decimal.Decimal `json:"total"`
}

// Totals are derived by Recalculate and never set by callers.
type Totals struct {
	PartsSubtotal  decimal.Decimal `json:"parts_subtotal"`
	LabourTotal    decimal.Decimal `json:"labour_total"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	GST            decimal.Decimal `json:"gst"`
	GrandTotal     decimal.Decimal `json:"grand_total"`
	BalanceDue     decimal.Decimal `json:"balance_due"`
}

// Job is a versioned workshop job record.
type Job struct {
	ID                 uuid.UUID       `json:"id"`
	Number             string          `json:"job_number"`
	CustomerID         *uuid.UUID      `json:"customer_id"`
	MachineMake        string          `json:"machine_make"`
	MachineModel       string          `json:"machine_model"`
	MachineSerial      string          `json:"machine_serial"`
	ProblemDescription string          `json:"problem_description"`
	WorkPerformed      string          `json:"work_performed"`
	Notes              string          `json:"notes"`
	LineItems          []LineItem      `json:"line_items"`
	LabourHours        decimal.Decimal `json:"labour_hours"`
	LabourRate         decimal.Decimal `json:"labour_rate"`
	TransportCharge    decimal.Decimal `json:"transport_charge"`
	SharpeningCharge   decimal.Decimal `json:"sharpening_charge"`
	SmallRepairCharge  decimal.Decimal `json:"small_repair_charge"`
	DepositPaid        decimal.Decimal `json:"deposit_paid"`
	DiscountType       DiscountType    `json:"discount_type"`
	DiscountValue      decimal.Decimal `json:"discount_value"`
	Status             Status          `json:"status"`
	Totals             Totals          `json:"totals"`
	Version            int             `json:"version"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	DeliveredAt        *time.Time      `json:"delivered_at,omitempty"`
	DeletedAt          *time.Time      `json:"deleted_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Deleted reports whether the job carries a soft-delete marker.
func (j *Job) Deleted() bool {
	return j != nil && j.DeletedAt != nil
}

// Clone returns a deep copy so patches never alias the stored state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	if j.CustomerID != nil {
		id := *j.CustomerID
		out.CustomerID = &id
	}
	out.LineItems = make([]LineItem, len(j.LineItems))
	for i, item := range j.LineItems {
		out.LineItems[i] = item
		if item.PartID != nil {
			pid := *item.PartID
			out.LineItems[i].PartID = &pid
		}
	}
	out.CompletedAt = cloneTime(j.CompletedAt)
	out.DeliveredAt = cloneTime(j.DeliveredAt)
	out.DeletedAt = cloneTime(j.DeletedAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Linkage is a live job to customer association used by reconciliation.
type Linkage struct {
	JobNumber    string     `json:"job_number"`
	CustomerID   *uuid.UUID `json:"customer_id"`
	CustomerName string     `json:"customer_name"`
}

// ============================================================================
// REQUESTS
// ============================================================================

// CreateInput carries the initial state of a new job.
type CreateInput struct {
	Patch  Patch
	Actor  string
	Source string
}

// UpdateInput describes a compare-and-swap mutation.
type UpdateInput struct {
	ID              uuid.UUID
	ExpectedVersion int
	Patch           Patch
	// Operation defaults to UPDATE. RECOVERY and REBUILD may leave write_off.
	Operation audit.Operation
	Actor     string
	Source    string
	// RejectsEntry, when non-zero, is marked rejected in the same transaction.
	RejectsEntry int64
	Reviewer     string
}

// UpdateResult reports the outcome of a successful update.
type UpdateResult struct {
	Updated    bool  `json:"updated"`
	NewVersion int   `json:"new_version"`
	Job        *Job  `json:"job"`
	AuditID    int64 `json:"audit_id"`
}

// DeleteInput soft-deletes a job at the expected version.
type DeleteInput struct {
	ID              uuid.UUID
	ExpectedVersion int
	Actor           string
	Source          string
}
