package jobcard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/workbay/workbay/internal/audit"
	"github.com/workbay/workbay/internal/shared"
)

// Field is an optional patch value. Set distinguishes "absent" from the zero value.
type Field[T any] struct {
	Set   bool
	Value T
}

// Some returns a set Field.
func Some[T any](v T) Field[T] {
	return Field[T]{Set: true, Value: v}
}

// UnmarshalJSON marks the field as present, including explicit nulls.
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		var zero T
		f.Value = zero
		return nil
	}
	return json.Unmarshal(data, &f.Value)
}

// LineItemInput is a caller supplied line item. Totals are always recomputed.
type LineItemInput struct {
	PartID      *uuid.UUID      `json:"part_id" validate:"required_without=Description"`
	Description string          `json:"description" validate:"max=500"`
	Quantity    decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price" validate:"gte=0"`
}

// Patch is the closed set of fields a caller may change on a job.
type Patch struct {
	CustomerID         Field[*uuid.UUID]      `json:"customer_id"`
	MachineMake        Field[string]          `json:"machine_make"`
	MachineModel       Field[string]          `json:"machine_model"`
	MachineSerial      Field[string]          `json:"machine_serial"`
	ProblemDescription Field[string]          `json:"problem_description"`
	WorkPerformed      Field[string]          `json:"work_performed"`
	Notes              Field[string]          `json:"notes"`
	LineItems          Field[[]LineItemInput] `json:"line_items"`
	LabourHours        Field[decimal.Decimal] `json:"labour_hours"`
	LabourRate         Field[decimal.Decimal] `json:"labour_rate"`
	TransportCharge    Field[decimal.Decimal] `json:"transport_charge"`
	SharpeningCharge   Field[decimal.Decimal] `json:"sharpening_charge"`
	SmallRepairCharge  Field[decimal.Decimal] `json:"small_repair_charge"`
	DepositPaid        Field[decimal.Decimal] `json:"deposit_paid"`
	DiscountType       Field[DiscountType]    `json:"discount_type"`
	DiscountValue      Field[decimal.Decimal] `json:"discount_value"`
	Status             Field[Status]          `json:"status"`
}

// patchKeys are the JSON names accepted by DecodePatch.
var patchKeys = map[string]bool{
	"customer_id": true, "machine_make": true, "machine_model": true, "machine_serial": true,
	"problem_description": true, "work_performed": true, "notes": true, "line_items": true,
	"labour_hours": true, "labour_rate": true, "transport_charge": true, "sharpening_charge": true,
	"small_repair_charge": true, "deposit_paid": true, "discount_type": true, "discount_value": true,
	"status": true,
}

// DecodePatch parses a JSON object into a Patch. Unknown keys and the
// store-managed version counter are validation failures.
func DecodePatch(r io.Reader) (Patch, error) {
	var raw map[string]json.RawMessage
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return Patch{}, shared.NewValidationError("patch", "must be a JSON object")
	}
	return patchFromRaw(raw)
}

// UnmarshalJSON applies the same key checks as DecodePatch.
func (p *Patch) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return shared.NewValidationError("patch", "must be a JSON object")
	}
	decoded, err := patchFromRaw(raw)
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}

func patchFromRaw(raw map[string]json.RawMessage) (Patch, error) {
	verr := &shared.ValidationError{}
	for key := range raw {
		switch {
		case key == audit.FieldVersion:
			verr.Add(key, "is managed by the store and cannot be patched")
		case !patchKeys[key]:
			verr.Add(key, "unknown field")
		}
	}
	if err := verr.Err(); err != nil {
		return Patch{}, err
	}
	type plain Patch
	var out plain
	for key, value := range raw {
		fragment, err := json.Marshal(map[string]json.RawMessage{key: value})
		if err != nil {
			return Patch{}, err
		}
		if err := json.Unmarshal(fragment, &out); err != nil {
			verr.Add(key, "has an invalid value")
		}
	}
	if err := verr.Err(); err != nil {
		return Patch{}, err
	}
	return Patch(out), nil
}

// Fields returns the sorted JSON names of the fields set on p.
func (p Patch) Fields() []string {
	var out []string
	add := func(set bool, name string) {
		if set {
			out = append(out, name)
		}
	}
	add(p.CustomerID.Set, "customer_id")
	add(p.MachineMake.Set, "machine_make")
	add(p.MachineModel.Set, "machine_model")
	add(p.MachineSerial.Set, "machine_serial")
	add(p.ProblemDescription.Set, "problem_description")
	add(p.WorkPerformed.Set, "work_performed")
	add(p.Notes.Set, "notes")
	add(p.LineItems.Set, "line_items")
	add(p.LabourHours.Set, "labour_hours")
	add(p.LabourRate.Set, "labour_rate")
	add(p.TransportCharge.Set, "transport_charge")
	add(p.SharpeningCharge.Set, "sharpening_charge")
	add(p.SmallRepairCharge.Set, "small_repair_charge")
	add(p.DepositPaid.Set, "deposit_paid")
	add(p.DiscountType.Set, "discount_type")
	add(p.DiscountValue.Set, "discount_value")
	add(p.Status.Set, "status")
	sort.Strings(out)
	return out
}

// Empty reports whether no field is set.
func (p Patch) Empty() bool {
	return len(p.Fields()) == 0
}

// AffectsMoney reports whether p touches any field feeding Recalculate.
func (p Patch) AffectsMoney() bool {
	return p.LineItems.Set || p.LabourHours.Set || p.LabourRate.Set ||
		p.TransportCharge.Set || p.SharpeningCharge.Set || p.SmallRepairCharge.Set ||
		p.DepositPaid.Set || p.DiscountType.Set || p.DiscountValue.Set
}

// apply copies the set fields onto job. Line items receive fresh identifiers.
func (p Patch) apply(job *Job) {
	if p.CustomerID.Set {
		job.CustomerID = p.CustomerID.Value
	}
	if p.MachineMake.Set {
		job.MachineMake = p.MachineMake.Value
	}
	if p.MachineModel.Set {
		job.MachineModel = p.MachineModel.Value
	}
	if p.MachineSerial.Set {
		job.MachineSerial = p.MachineSerial.Value
	}
	if p.ProblemDescription.Set {
		job.ProblemDescription = p.ProblemDescription.Value
	}
	if p.WorkPerformed.Set {
		job.WorkPerformed = p.WorkPerformed.Value
	}
	if p.Notes.Set {
		job.Notes = p.Notes.Value
	}
	if p.LineItems.Set {
		items := make([]LineItem, 0, len(p.LineItems.Value))
		for _, in := range p.LineItems.Value {
			items = append(items, LineItem{
				ID:          uuid.New(),
				PartID:      in.PartID,
				Description: in.Description,
				Quantity:    in.Quantity,
				UnitPrice:   in.UnitPrice,
				Total:       LineTotal(in.Quantity, in.UnitPrice),
			})
		}
		job.LineItems = items
	}
	if p.LabourHours.Set {
		job.LabourHours = p.LabourHours.Value
	}
	if p.LabourRate.Set {
		job.LabourRate = p.LabourRate.Value
	}
	if p.TransportCharge.Set {
		job.TransportCharge = p.TransportCharge.Value
	}
	if p.SharpeningCharge.Set {
		job.SharpeningCharge = p.SharpeningCharge.Value
	}
	if p.SmallRepairCharge.Set {
		job.SmallRepairCharge = p.SmallRepairCharge.Value
	}
	if p.DepositPaid.Set {
		job.DepositPaid = p.DepositPaid.Value
	}
	if p.DiscountType.Set {
		job.DiscountType = p.DiscountType.Value
	}
	if p.DiscountValue.Set {
		job.DiscountValue = p.DiscountValue.Value
	}
	if p.Status.Set {
		job.Status = p.Status.Value
	}
}

// String is used in log lines.
func (p Patch) String() string {
	return fmt.Sprintf("patch%v", p.Fields())
}
