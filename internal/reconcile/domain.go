// Package reconcile compares live job to customer linkages against a trusted
// baseline export and reports drift.
package reconcile

// Kind classifies one reconciliation finding.
type Kind string

const (
	KindMissing  Kind = "MISSING"
	KindMismatch Kind = "MISMATCH"
	KindExtra    Kind = "EXTRA"
)

// BaselineEntry is one job linkage from the baseline file.
type BaselineEntry struct {
	JobNumber    string `json:"job_number"`
	CustomerID   string `json:"customer_id"`
	CustomerName string `json:"customer_name"`
}

// Mismatch is one difference between the baseline and live data. Both sides
// are carried so an operator can correct the link by hand.
type Mismatch struct {
	JobNumber            string `json:"job_number"`
	Kind                 Kind   `json:"kind"`
	BaselineCustomerID   string `json:"baseline_customer_id"`
	BaselineCustomerName string `json:"baseline_customer_name"`
	ActualCustomerID     string `json:"actual_customer_id"`
	ActualCustomerName   string `json:"actual_customer_name"`
}

// Summary counts findings by kind.
type Summary struct {
	Baseline   int `json:"baseline"`
	Live       int `json:"live"`
	Missing    int `json:"missing"`
	Mismatched int `json:"mismatched"`
	Extra      int `json:"extra"`
}

// Report is the result of one reconciliation run.
type Report struct {
	Summary    Summary    `json:"summary"`
	Mismatches []Mismatch `json:"mismatches"`
}

// Clean reports whether live data matches the baseline.
func (r Report) Clean() bool {
	return len(r.Mismatches) == 0
}
