package reconcile

import (
	"sort"
	"strings"

	"github.com/workbay/workbay/internal/jobcard"
)

// Analyze compares baseline with live linkages. Baseline findings come first
// in baseline order, then EXTRA rows sorted by job number. It has no side
// effects.
func Analyze(baseline []BaselineEntry, live []jobcard.Linkage) []Mismatch {
	byNumber := make(map[string]jobcard.Linkage, len(live))
	for _, l := range live {
		byNumber[l.JobNumber] = l
	}
	inBaseline := make(map[string]struct{}, len(baseline))
	out := make([]Mismatch, 0)

	for _, b := range baseline {
		inBaseline[b.JobNumber] = struct{}{}
		l, ok := byNumber[b.JobNumber]
		if !ok {
			out = append(out, Mismatch{
				JobNumber:            b.JobNumber,
				Kind:                 KindMissing,
				BaselineCustomerID:   b.CustomerID,
				BaselineCustomerName: b.CustomerName,
			})
			continue
		}
		actual := linkedID(l)
		if !strings.EqualFold(actual, b.CustomerID) {
			out = append(out, Mismatch{
				JobNumber:            b.JobNumber,
				Kind:                 KindMismatch,
				BaselineCustomerID:   b.CustomerID,
				BaselineCustomerName: b.CustomerName,
				ActualCustomerID:     actual,
				ActualCustomerName:   l.CustomerName,
			})
		}
	}

	extras := make([]Mismatch, 0)
	for _, l := range live {
		if _, ok := inBaseline[l.JobNumber]; ok {
			continue
		}
		extras = append(extras, Mismatch{
			JobNumber:          l.JobNumber,
			Kind:               KindExtra,
			ActualCustomerID:   linkedID(l),
			ActualCustomerName: l.CustomerName,
		})
	}
	sort.SliceStable(extras, func(i, j int) bool { return numberLess(extras[i].JobNumber, extras[j].JobNumber) })
	return append(out, extras...)
}

// numberLess orders job numbers by year then sequence. Numbers that do not
// parse sort after the valid ones, in string order.
func numberLess(a, b string) bool {
	ay, as, aerr := jobcard.ParseNumber(a)
	by, bs, berr := jobcard.ParseNumber(b)
	switch {
	case aerr == nil && berr == nil:
		if ay != by {
			return ay < by
		}
		if as != bs {
			return as < bs
		}
		return a < b
	case aerr == nil:
		return true
	case berr == nil:
		return false
	}
	return a < b
}

// Summarise counts findings.
func Summarise(baseline []BaselineEntry, live []jobcard.Linkage, mismatches []Mismatch) Summary {
	s := Summary{Baseline: len(baseline), Live: len(live)}
	for _, m := range mismatches {
		switch m.Kind {
		case KindMissing:
			s.Missing++
		case KindMismatch:
			s.Mismatched++
		case KindExtra:
			s.Extra++
		}
	}
	return s
}

func linkedID(l jobcard.Linkage) string {
	if l.CustomerID == nil {
		return ""
	}
	return l.CustomerID.String()
}
