package jobcard

import "github.com/shopspring/decimal"

// GSTRate is the fixed goods and services tax rate.
var GSTRate = decimal.New(1, -1)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Inputs are the money-affecting fields of a job.
type Inputs struct {
	LineItems         []LineItem
	LabourHours       decimal.Decimal
	LabourRate        decimal.Decimal
	TransportCharge   decimal.Decimal
	SharpeningCharge  decimal.Decimal
	SmallRepairCharge decimal.Decimal
	DiscountType      DiscountType
	DiscountValue     decimal.Decimal
	DepositPaid       decimal.Decimal
	PaymentsApplied   decimal.Decimal
}

// InputsOf extracts the recalculation inputs from job.
func InputsOf(job *Job, payments decimal.Decimal) Inputs {
	return Inputs{
		LineItems:         job.LineItems,
		LabourHours:       job.LabourHours,
		LabourRate:        job.LabourRate,
		TransportCharge:   job.TransportCharge,
		SharpeningCharge:  job.SharpeningCharge,
		SmallRepairCharge: job.SmallRepairCharge,
		DiscountType:      job.DiscountType,
		DiscountValue:     job.DiscountValue,
		DepositPaid:       job.DepositPaid,
		PaymentsApplied:   payments,
	}
}

// LineTotal is quantity x unit price rounded to cents.
func LineTotal(quantity, unitPrice decimal.Decimal) decimal.Decimal {
	return quantity.Mul(unitPrice).Round(2)
}

// Recalculate derives every total from in. Each stage is rounded half away
// from zero to two places before feeding the next.
func Recalculate(in Inputs) Totals {
	parts := zero
	for _, item := range in.LineItems {
		parts = parts.Add(LineTotal(item.Quantity, item.UnitPrice))
	}
	labour := in.LabourHours.Mul(in.LabourRate).Round(2)
	subtotal := parts.Add(labour).
		Add(in.TransportCharge).
		Add(in.SharpeningCharge).
		Add(in.SmallRepairCharge).
		Round(2)

	var discount decimal.Decimal
	switch in.DiscountType {
	case DiscountPercent:
		discount = subtotal.Mul(in.DiscountValue).Div(hundred).Round(2)
	case DiscountFixed:
		discount = in.DiscountValue.Round(2)
	default:
		discount = zero
	}
	if discount.IsNegative() {
		discount = zero
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}

	afterDiscount := subtotal.Sub(discount)
	gst := afterDiscount.Mul(GSTRate).Round(2)
	grand := afterDiscount.Add(gst)

	balance := grand.Sub(in.DepositPaid).Sub(in.PaymentsApplied)
	if balance.IsNegative() {
		balance = zero
	}

	return Totals{
		PartsSubtotal:  parts,
		LabourTotal:    labour,
		Subtotal:       subtotal,
		DiscountAmount: discount,
		GST:            gst,
		GrandTotal:     grand,
		BalanceDue:     balance.Round(2),
	}
}

// applyTotals recomputes line totals and derived totals on job in place.
func applyTotals(job *Job, payments decimal.Decimal) {
	for i := range job.LineItems {
		job.LineItems[i].Total = LineTotal(job.LineItems[i].Quantity, job.LineItems[i].UnitPrice)
	}
	job.Totals = Recalculate(InputsOf(job, payments))
}
