package jobcard

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/workbay/workbay/internal/audit"
)

// snapshotLine is the audited form of a line item. Row identifiers are left
// out because every save inserts fresh rows.
type snapshotLine struct {
	PartID      *string `json:"part_id"`
	Description string  `json:"description"`
	Quantity    string  `json:"quantity"`
	UnitPrice   string  `json:"unit_price"`
	Total       string  `json:"total"`
}

// snapshot is the full audited state of a job. Money is rendered with two
// places so equal amounts always serialise identically.
type snapshot struct {
	ID                 string         `json:"id"`
	JobNumber          string         `json:"job_number"`
	Version            int            `json:"version"`
	CustomerID         *string        `json:"customer_id"`
	MachineMake        string         `json:"machine_make"`
	MachineModel       string         `json:"machine_model"`
	MachineSerial      string         `json:"machine_serial"`
	ProblemDescription string         `json:"problem_description"`
	WorkPerformed      string         `json:"work_performed"`
	Notes              string         `json:"notes"`
	LineItems          []snapshotLine `json:"line_items"`
	LabourHours        string         `json:"labour_hours"`
	LabourRate         string         `json:"labour_rate"`
	TransportCharge    string         `json:"transport_charge"`
	SharpeningCharge   string         `json:"sharpening_charge"`
	SmallRepairCharge  string         `json:"small_repair_charge"`
	DepositPaid        string         `json:"deposit_paid"`
	DiscountType       string         `json:"discount_type"`
	DiscountValue      string         `json:"discount_value"`
	Status             string         `json:"status"`
	PartsSubtotal      string         `json:"parts_subtotal"`
	LabourTotal        string         `json:"labour_total"`
	Subtotal           string         `json:"subtotal"`
	DiscountAmount     string         `json:"discount_amount"`
	GST                string         `json:"gst"`
	GrandTotal         string         `json:"grand_total"`
	BalanceDue         string         `json:"balance_due"`
	CompletedAt        *time.Time     `json:"completed_at"`
	DeliveredAt        *time.Time     `json:"delivered_at"`
	DeletedAt          *time.Time     `json:"deleted_at"`
}

// MutableFields are the snapshot keys a caller can change. Shadow checks
// compare live rows against audit history on these plus the version.
var MutableFields = []string{
	"customer_id", "machine_make", "machine_model", "machine_serial",
	"problem_description", "work_performed", "notes", "line_items",
	"labour_hours", "labour_rate", "transport_charge", "sharpening_charge",
	"small_repair_charge", "deposit_paid", "discount_type", "discount_value", "status",
}

// MoneyFields are the snapshot keys that feed or hold monetary amounts.
var MoneyFields = []string{
	"line_items", "labour_hours", "labour_rate", "transport_charge", "sharpening_charge",
	"small_repair_charge", "deposit_paid", "discount_type", "discount_value",
	"parts_subtotal", "labour_total", "subtotal", "discount_amount", "gst", "grand_total", "balance_due",
}

// IdentityFields identify who or what the job belongs to.
var IdentityFields = []string{"customer_id", "job_number", "machine_serial"}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func quantity(d decimal.Decimal) string {
	return d.String()
}

func optionalID(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func toSnapshot(job *Job) snapshot {
	lines := make([]snapshotLine, 0, len(job.LineItems))
	for _, item := range job.LineItems {
		lines = append(lines, snapshotLine{
			PartID:      optionalID(item.PartID),
			Description: item.Description,
			Quantity:    quantity(item.Quantity),
			UnitPrice:   money(item.UnitPrice),
			Total:       money(item.Total),
		})
	}
	discountType := job.DiscountType
	if discountType == "" {
		discountType = DiscountNone
	}
	return snapshot{
		ID:                 job.ID.String(),
		JobNumber:          job.Number,
		Version:            job.Version,
		CustomerID:         optionalID(job.CustomerID),
		MachineMake:        job.MachineMake,
		MachineModel:       job.MachineModel,
		MachineSerial:      job.MachineSerial,
		ProblemDescription: job.ProblemDescription,
		WorkPerformed:      job.WorkPerformed,
		Notes:              job.Notes,
		LineItems:          lines,
		LabourHours:        quantity(job.LabourHours),
		LabourRate:         money(job.LabourRate),
		TransportCharge:    money(job.TransportCharge),
		SharpeningCharge:   money(job.SharpeningCharge),
		SmallRepairCharge:  money(job.SmallRepairCharge),
		DepositPaid:        money(job.DepositPaid),
		DiscountType:       string(discountType),
		DiscountValue:      money(job.DiscountValue),
		Status:             string(job.Status),
		PartsSubtotal:      money(job.Totals.PartsSubtotal),
		LabourTotal:        money(job.Totals.LabourTotal),
		Subtotal:           money(job.Totals.Subtotal),
		DiscountAmount:     money(job.Totals.DiscountAmount),
		GST:                money(job.Totals.GST),
		GrandTotal:         money(job.Totals.GrandTotal),
		BalanceDue:         money(job.Totals.BalanceDue),
		CompletedAt:        utc(job.CompletedAt),
		DeliveredAt:        utc(job.DeliveredAt),
		DeletedAt:          utc(job.DeletedAt),
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC().Truncate(time.Microsecond)
	return &v
}

// Snapshot renders the full audited state of job.
func Snapshot(job *Job) (audit.Values, error) {
	if job == nil {
		return audit.Values{}, nil
	}
	return audit.ToValues(toSnapshot(job))
}

// StateValues keeps only the mutable fields and version of a snapshot.
func StateValues(values audit.Values) audit.Values {
	out := audit.Values{}
	for _, key := range MutableFields {
		if v, ok := values[key]; ok {
			out[key] = v
		}
	}
	if v, ok := values[audit.FieldVersion]; ok {
		out[audit.FieldVersion] = v
	}
	return out
}

// PatchFromSnapshot builds a patch that sets every mutable field to the
// value recorded in values. Used by reject and restore.
func PatchFromSnapshot(values audit.Values) (Patch, error) {
	if len(values) == 0 {
		return Patch{}, fmt.Errorf("job snapshot is empty")
	}
	var snap snapshot
	if err := values.Decode(&snap); err != nil {
		return Patch{}, fmt.Errorf("decode job snapshot: %w", err)
	}
	customerID, err := parseOptionalID(snap.CustomerID)
	if err != nil {
		return Patch{}, fmt.Errorf("snapshot customer_id: %w", err)
	}
	items := make([]LineItemInput, 0, len(snap.LineItems))
	for i, line := range snap.LineItems {
		partID, err := parseOptionalID(line.PartID)
		if err != nil {
			return Patch{}, fmt.Errorf("snapshot line %d part_id: %w", i, err)
		}
		qty, err := parseDecimal(line.Quantity)
		if err != nil {
			return Patch{}, fmt.Errorf("snapshot line %d quantity: %w", i, err)
		}
		price, err := parseDecimal(line.UnitPrice)
		if err != nil {
			return Patch{}, fmt.Errorf("snapshot line %d unit_price: %w", i, err)
		}
		items = append(items, LineItemInput{PartID: partID, Description: line.Description, Quantity: qty, UnitPrice: price})
	}
	var hours, rate, transport, sharpening, smallRepair, deposit, discountValue decimal.Decimal
	for _, field := range []struct {
		name   string
		raw    string
		target *decimal.Decimal
	}{
		{"labour_hours", snap.LabourHours, &hours},
		{"labour_rate", snap.LabourRate, &rate},
		{"transport_charge", snap.TransportCharge, &transport},
		{"sharpening_charge", snap.SharpeningCharge, &sharpening},
		{"small_repair_charge", snap.SmallRepairCharge, &smallRepair},
		{"deposit_paid", snap.DepositPaid, &deposit},
		{"discount_value", snap.DiscountValue, &discountValue},
	} {
		v, err := parseDecimal(field.raw)
		if err != nil {
			return Patch{}, fmt.Errorf("snapshot %s: %w", field.name, err)
		}
		*field.target = v
	}
	discountType := DiscountType(snap.DiscountType)
	if discountType == "" {
		discountType = DiscountNone
	}
	return Patch{
		CustomerID:         Some(customerID),
		MachineMake:        Some(snap.MachineMake),
		MachineModel:       Some(snap.MachineModel),
		MachineSerial:      Some(snap.MachineSerial),
		ProblemDescription: Some(snap.ProblemDescription),
		WorkPerformed:      Some(snap.WorkPerformed),
		Notes:              Some(snap.Notes),
		LineItems:          Some(items),
		LabourHours:        Some(hours),
		LabourRate:         Some(rate),
		TransportCharge:    Some(transport),
		SharpeningCharge:   Some(sharpening),
		SmallRepairCharge:  Some(smallRepair),
		DepositPaid:        Some(deposit),
		DiscountType:       Some(discountType),
		DiscountValue:      Some(discountValue),
		Status:             Some(Status(snap.Status)),
	}, nil
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

func parseOptionalID(raw *string) (*uuid.UUID, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(*raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
