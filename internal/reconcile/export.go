package reconcile

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/workbay/workbay/internal/platform/csvx"
)

const sheetName = "Reconciliation"

var exportColumns = []string{
	"job_number", "kind",
	"baseline_customer_id", "baseline_customer_name",
	"actual_customer_id", "actual_customer_name",
}

func (m Mismatch) row() []string {
	return []string{m.JobNumber, string(m.Kind), m.BaselineCustomerID, m.BaselineCustomerName, m.ActualCustomerID, m.ActualCustomerName}
}

func headings() []string {
	out := make([]string, len(exportColumns))
	for i, col := range exportColumns {
		out[i] = csvx.Label(col)
	}
	return out
}

// WriteCSV streams mismatches as CSV.
func WriteCSV(w io.Writer, mismatches []Mismatch) error {
	streamer := csvx.NewStreamer(w)
	if err := streamer.WriteRow(headings()); err != nil {
		return err
	}
	for _, m := range mismatches {
		if err := streamer.WriteRow(m.row()); err != nil {
			return err
		}
	}
	return streamer.Close()
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, report Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// WriteXLSX writes mismatches as a single-sheet workbook.
func WriteXLSX(w io.Writer, mismatches []Mismatch) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}
	if err := setRow(f, 1, headings()); err != nil {
		return err
	}
	for i, m := range mismatches {
		if err := setRow(f, i+2, m.row()); err != nil {
			return err
		}
	}
	last, err := excelize.CoordinatesToCellName(len(exportColumns), len(mismatches)+1)
	if err != nil {
		return err
	}
	if err := f.AutoFilter(sheetName, "A1:"+last, nil); err != nil {
		return err
	}
	if err := f.SetColWidth(sheetName, "A", "F", 24); err != nil {
		return err
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("reconcile: write workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return f.SetSheetRow(sheetName, cell, &cells)
}
