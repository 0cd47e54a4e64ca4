package jobcard

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got.StringFixed(2))
}

func TestRecalculateWorkedExample(t *testing.T) {
	totals := Recalculate(Inputs{
		LineItems:    []LineItem{{Quantity: dec("2"), UnitPrice: dec("25.00")}},
		LabourHours:  dec("1"),
		LabourRate:   dec("89.00"),
		DiscountType: DiscountNone,
	})

	assertMoney(t, "50.00", totals.PartsSubtotal)
	assertMoney(t, "89.00", totals.LabourTotal)
	assertMoney(t, "139.00", totals.Subtotal)
	assertMoney(t, "0", totals.DiscountAmount)
	assertMoney(t, "13.90", totals.GST)
	assertMoney(t, "152.90", totals.GrandTotal)
	assertMoney(t, "152.90", totals.BalanceDue)
}

func TestRecalculateDiscounts(t *testing.T) {
	base := Inputs{
		LineItems:       []LineItem{{Quantity: dec("1"), UnitPrice: dec("100.00")}},
		TransportCharge: dec("20.00"),
	}

	tests := []struct {
		name      string
		dtype     DiscountType
		value     string
		wantDisc  string
		wantGrand string
	}{
		{"percent", DiscountPercent, "10", "12.00", "118.80"},
		{"fixed", DiscountFixed, "20", "20.00", "110.00"},
		{"fixed clamped to subtotal", DiscountFixed, "500", "120.00", "0"},
		{"percent clamped to subtotal", DiscountPercent, "150", "120.00", "0"},
		{"none ignores value", DiscountNone, "50", "0", "132.00"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			in.DiscountType = tc.dtype
			in.DiscountValue = dec(tc.value)
			totals := Recalculate(in)
			assertMoney(t, tc.wantDisc, totals.DiscountAmount)
			assertMoney(t, tc.wantGrand, totals.GrandTotal)
		})
	}
}

func TestRecalculateBalanceNeverNegative(t *testing.T) {
	totals := Recalculate(Inputs{
		LabourHours:     dec("2"),
		LabourRate:      dec("50"),
		DepositPaid:     dec("60"),
		PaymentsApplied: dec("100"),
	})
	assertMoney(t, "110.00", totals.GrandTotal)
	assertMoney(t, "0", totals.BalanceDue)

	totals = Recalculate(Inputs{LabourHours: dec("2"), LabourRate: dec("50"), DepositPaid: dec("10")})
	assertMoney(t, "100.00", totals.BalanceDue)
}

func TestRecalculateGrandTotalProperty(t *testing.T) {
	cases := []Inputs{
		{LineItems: []LineItem{{Quantity: dec("3"), UnitPrice: dec("19.99")}, {Quantity: dec("0.5"), UnitPrice: dec("7.35")}}, LabourHours: dec("1.25"), LabourRate: dec("88")},
		{LineItems: []LineItem{{Quantity: dec("7"), UnitPrice: dec("0.33")}}, SharpeningCharge: dec("15"), DiscountType: DiscountPercent, DiscountValue: dec("12.5")},
		{SmallRepairCharge: dec("9.99"), DiscountType: DiscountFixed, DiscountValue: dec("1.11"), DepositPaid: dec("5")},
	}
	tolerance := dec("0.01")
	for _, in := range cases {
		totals := Recalculate(in)
		expected := totals.PartsSubtotal.Add(totals.LabourTotal).
			Add(in.TransportCharge).Add(in.SharpeningCharge).Add(in.SmallRepairCharge).
			Sub(totals.DiscountAmount).Mul(dec("1.1"))
		assert.True(t, expected.Sub(totals.GrandTotal).Abs().LessThanOrEqual(tolerance),
			"grand %s vs expected %s", totals.GrandTotal, expected)
		assert.False(t, totals.BalanceDue.IsNegative())
	}
}

func TestApplyTotalsRecomputesLineTotals(t *testing.T) {
	job := &Job{LineItems: []LineItem{{Quantity: dec("2"), UnitPrice: dec("25"), Total: dec("999")}}}
	applyTotals(job, decimal.Zero)
	assertMoney(t, "50.00", job.LineItems[0].Total)
	assertMoney(t, "55.00", job.Totals.GrandTotal)
}
