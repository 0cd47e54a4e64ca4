package jobcard

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/workbay/workbay/internal/shared"
)

// patchRules mirrors Patch with pointer fields so validator can skip unset values.
type patchRules struct {
	MachineMake        *string          `json:"machine_make" validate:"omitempty,max=120"`
	MachineModel       *string          `json:"machine_model" validate:"omitempty,max=120"`
	MachineSerial      *string          `json:"machine_serial" validate:"omitempty,max=120"`
	ProblemDescription *string          `json:"problem_description" validate:"omitempty,max=4000"`
	WorkPerformed      *string          `json:"work_performed" validate:"omitempty,max=4000"`
	Notes              *string          `json:"notes" validate:"omitempty,max=4000"`
	LineItems          []LineItemInput  `json:"line_items" validate:"omitempty,max=200,dive"`
	LabourHours        *decimal.Decimal `json:"labour_hours" validate:"omitempty,gte=0,lte=1000"`
	LabourRate         *decimal.Decimal `json:"labour_rate" validate:"omitempty,gte=0"`
	TransportCharge    *decimal.Decimal `json:"transport_charge" validate:"omitempty,gte=0"`
	SharpeningCharge   *decimal.Decimal `json:"sharpening_charge" validate:"omitempty,gte=0"`
	SmallRepairCharge  *decimal.Decimal `json:"small_repair_charge" validate:"omitempty,gte=0"`
	DepositPaid        *decimal.Decimal `json:"deposit_paid" validate:"omitempty,gte=0"`
	DiscountValue      *decimal.Decimal `json:"discount_value" validate:"omitempty,gte=0"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

func ptr[T any](f Field[T]) *T {
	if !f.Set {
		return nil
	}
	v := f.Value
	return &v
}

// Validate checks every set field. current supplies the discount type when
// the patch changes only the discount value.
func (p Patch) Validate(current *Job) error {
	verr := &shared.ValidationError{}
	rules := patchRules{
		MachineMake:        ptr(p.MachineMake),
		MachineModel:       ptr(p.MachineModel),
		MachineSerial:      ptr(p.MachineSerial),
		ProblemDescription: ptr(p.ProblemDescription),
		WorkPerformed:      ptr(p.WorkPerformed),
		Notes:              ptr(p.Notes),
		LabourHours:        ptr(p.LabourHours),
		LabourRate:         ptr(p.LabourRate),
		TransportCharge:    ptr(p.TransportCharge),
		SharpeningCharge:   ptr(p.SharpeningCharge),
		SmallRepairCharge:  ptr(p.SmallRepairCharge),
		DepositPaid:        ptr(p.DepositPaid),
		DiscountValue:      ptr(p.DiscountValue),
	}
	if p.LineItems.Set {
		rules.LineItems = p.LineItems.Value
	}
	if err := validate.Struct(rules); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				verr.Add(fieldPath(fe), describe(fe))
			}
		} else {
			return err
		}
	}

	if p.CustomerID.Set && p.CustomerID.Value != nil && *p.CustomerID.Value == uuid.Nil {
		verr.Add("customer_id", "must be a valid identifier")
	}
	if p.Status.Set && !p.Status.Value.Valid() {
		verr.Add("status", "unknown status")
	}
	discountType := DiscountNone
	if current != nil && current.DiscountType != "" {
		discountType = current.DiscountType
	}
	if p.DiscountType.Set {
		if !p.DiscountType.Value.Valid() {
			verr.Add("discount_type", "must be none, percent or fixed")
		}
		discountType = p.DiscountType.Value
	}
	if p.DiscountValue.Set && discountType == DiscountPercent && p.DiscountValue.Value.GreaterThan(hundred) {
		verr.Add("discount_value", "percent discount cannot exceed 100")
	}
	return verr.Err()
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must not be negative"
	case "lte", "max":
		return "must be at most " + fe.Param()
	case "required_without":
		return "part or description is required"
	default:
		return "is invalid"
	}
}
