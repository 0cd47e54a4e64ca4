package audit

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/workbay/workbay/internal/platform/csvx"
)

var exportColumns = []string{"id", "changed_at", "operation", "job_number", "record_id", "changed_fields", "actor", "source", "review_state", "reviewed_by"}

// WriteCSV streams entries as CSV.
func WriteCSV(w io.Writer, entries []Entry) error {
	streamer := csvx.NewStreamer(w)
	header := make([]string, len(exportColumns))
	for i, col := range exportColumns {
		header[i] = csvx.Label(col)
	}
	if err := streamer.WriteRow(header); err != nil {
		return err
	}
	for _, e := range entries {
		reviewer := ""
		if e.ReviewedBy != nil {
			reviewer = *e.ReviewedBy
		}
		if err := streamer.WriteRow([]string{
			strconv.FormatInt(e.ID, 10),
			e.ChangedAt.UTC().Format(time.RFC3339),
			string(e.Operation),
			e.JobNumber(),
			e.RecordID,
			strings.Join(e.ChangedFields, ";"),
			e.Actor,
			e.Source,
			string(e.ReviewState),
			reviewer,
		}); err != nil {
			return err
		}
	}
	return streamer.Close()
}
