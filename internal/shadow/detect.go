package shadow

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"

	"github.com/workbay/workbay/internal/audit"
	"github.com/workbay/workbay/internal/jobcard"
	"github.com/workbay/workbay/internal/restore"
	"github.com/workbay/workbay/internal/review"
)

// Sources recognises the source tags written by known subsystems.
type Sources struct {
	exact    map[string]struct{}
	prefixes []string
}

// DefaultSources returns the tags the record store and its corrective
// workflows write, plus any extra subsystem tags.
func DefaultSources(extra ...string) Sources {
	s := Sources{
		exact: map[string]struct{}{
			jobcard.SourceAPI:    {},
			jobcard.SourceSystem: {},
		},
		prefixes: []string{
			restore.RestoreSourcePrefix,
			restore.RebuildSourcePrefix,
			review.RejectionSourcePrefix,
		},
	}
	for _, tag := range extra {
		if tag = strings.TrimSpace(tag); tag != "" {
			s.exact[tag] = struct{}{}
		}
	}
	return s
}

// Known reports whether tag belongs to a known subsystem.
func (s Sources) Known(tag string) bool {
	if _, ok := s.exact[tag]; ok {
		return true
	}
	for _, prefix := range s.prefixes {
		if strings.HasPrefix(tag, prefix) {
			return true
		}
	}
	return false
}

// Observation is the state a scan compares.
type Observation struct {
	// Jobs holds every job row, soft-deleted ones included.
	Jobs []jobcard.Job
	// Latest maps a record id to its newest audit entry.
	Latest map[string]audit.Entry
	// Entries are the audit entries appended since the previous scan.
	Entries []audit.Entry
}

// Detect runs every detector against obs. The result is ordered by job number
// then kind so repeated scans over the same data agree.
func Detect(obs Observation, sources Sources, now time.Time) []Anomaly {
	var found []Anomaly
	found = append(found, detectUnknownSources(obs.Entries, sources, now)...)

	live := make(map[string]struct{}, len(obs.Jobs))
	for i := range obs.Jobs {
		job := &obs.Jobs[i]
		live[job.ID.String()] = struct{}{}
		found = append(found, detectDrift(job, now)...)
		latest, ok := obs.Latest[job.ID.String()]
		if !ok {
			found = append(found, undocumented(job, now))
			continue
		}
		found = append(found, detectDivergence(job, latest, now)...)
	}
	found = append(found, detectPurged(obs.Latest, live, now)...)

	sort.Slice(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if a.JobNumber != b.JobNumber {
			return a.JobNumber < b.JobNumber
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Fingerprint < b.Fingerprint
	})
	return found
}

func detectUnknownSources(entries []audit.Entry, sources Sources, now time.Time) []Anomaly {
	var out []Anomaly
	for _, entry := range entries {
		if entry.TableName != audit.TableJobRecords || sources.Known(entry.Source) {
			continue
		}
		id := entry.ID
		out = append(out, newAnomaly(KindUnauthorizedWrite, entry.RecordID, entry.JobNumber(), now,
			fmt.Sprintf("audit entry %d carries unknown source %q", entry.ID, entry.Source),
			map[string]any{"source": entry.Source, "operation": string(entry.Operation), "changed_fields": entry.ChangedFields},
			entry.ChangedFields,
			&id, "source", strconv.FormatInt(entry.ID, 10)))
	}
	return out
}

func detectDrift(job *jobcard.Job, now time.Time) []Anomaly {
	if job.Deleted() {
		return nil
	}
	expected := jobcard.Recalculate(jobcard.InputsOf(job, decimal.Zero))
	if expected.GrandTotal.Equal(job.Totals.GrandTotal) {
		return nil
	}
	stored := job.Totals.GrandTotal.StringFixed(2)
	recalculated := expected.GrandTotal.StringFixed(2)
	return []Anomaly{newAnomaly(KindTotalDrift, job.ID.String(), job.Number, now,
		fmt.Sprintf("stored grand total %s but line items recalculate to %s", stored, recalculated),
		map[string]any{"stored_grand_total": stored, "recalculated_grand_total": recalculated, "version": job.Version},
		[]string{"grand_total"},
		nil, stored, recalculated, strconv.Itoa(job.Version))}
}

func undocumented(job *jobcard.Job, now time.Time) Anomaly {
	return newAnomaly(KindUnauthorizedWrite, job.ID.String(), job.Number, now,
		"job row has no audit history",
		map[string]any{"version": job.Version},
		[]string{audit.FieldJobNumber},
		nil, "no-history")
}

// detectDivergence compares the live row with the newest documented state.
func detectDivergence(job *jobcard.Job, latest audit.Entry, now time.Time) []Anomaly {
	if job.Deleted() {
		if latest.Operation == audit.OpDelete {
			return nil
		}
		id := latest.ID
		return []Anomaly{newAnomaly(KindSilentDeletion, job.ID.String(), job.Number, now,
			"soft-delete marker without a DELETE audit entry",
			map[string]any{"last_operation": string(latest.Operation), "last_entry_id": latest.ID},
			nil, &id, "marker", strconv.FormatInt(latest.ID, 10))}
	}
	if v, ok := versionOf(latest.NewValues); ok && v > job.Version {
		// the row was read before the documented write committed
		return nil
	}
	current, err := jobcard.Snapshot(job)
	if err != nil {
		return nil
	}
	documented := jobcard.StateValues(latest.NewValues)
	changed := audit.ChangedFields(documented, jobcard.StateValues(current))
	if len(changed) == 0 {
		return nil
	}
	id := latest.ID
	var out []Anomaly
	rest := make([]string, 0, len(changed))
	for _, field := range changed {
		if field == audit.FieldCustomerID {
			out = append(out, newAnomaly(KindCustomerRelink, job.ID.String(), job.Number, now,
				"customer linkage changed without an audit entry",
				map[string]any{
					"documented_customer_id": latest.NewValues[audit.FieldCustomerID],
					"live_customer_id":       current[audit.FieldCustomerID],
					"last_entry_id":          latest.ID,
				},
				nil, &id, "relink", fmt.Sprint(current[audit.FieldCustomerID])))
			continue
		}
		rest = append(rest, field)
	}
	if len(rest) > 0 {
		out = append(out, newAnomaly(KindUnauthorizedWrite, job.ID.String(), job.Number, now,
			"live row differs from the last audited state in "+strings.Join(rest, ", "),
			map[string]any{"changed_fields": rest, "last_entry_id": latest.ID, "version": job.Version},
			rest, &id, "diverged", strings.Join(rest, ","), strconv.Itoa(job.Version)))
	}
	return out
}

func versionOf(values audit.Values) (int, bool) {
	switch v := values[audit.FieldVersion].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	}
	return 0, false
}

// detectPurged reports documented records missing from the live set.
func detectPurged(latest map[string]audit.Entry, live map[string]struct{}, now time.Time) []Anomaly {
	var out []Anomaly
	for recordID, entry := range latest {
		if entry.TableName != audit.TableJobRecords {
			continue
		}
		if _, ok := live[recordID]; ok {
			continue
		}
		id := entry.ID
		out = append(out, newAnomaly(KindSilentDeletion, recordID, entry.JobNumber(), now,
			"job row disappeared without a soft-delete marker",
			map[string]any{"last_operation": string(entry.Operation), "last_entry_id": entry.ID},
			nil, &id, "purged"))
	}
	return out
}

func newAnomaly(kind Kind, jobID, jobNumber string, now time.Time, detail string, evidence map[string]any, fields []string, entryID *int64, basis ...string) Anomaly {
	return Anomaly{
		Kind:         kind,
		Severity:     classify(kind, fields),
		JobID:        jobID,
		JobNumber:    jobNumber,
		AuditEntryID: entryID,
		Detail:       detail,
		Evidence:     evidence,
		Fingerprint:  Fingerprint(kind, jobID, basis...),
		DetectedAt:   now,
	}
}

// classify is critical when money or identity is involved.
func classify(kind Kind, fields []string) Severity {
	if kind != KindUnauthorizedWrite {
		return SeverityCritical
	}
	if len(fields) == 0 {
		return SeverityCritical
	}
	for _, field := range fields {
		if contains(jobcard.MoneyFields, field) || contains(jobcard.IdentityFields, field) {
			return SeverityCritical
		}
	}
	return SeverityWarning
}

// Fingerprint identifies an anomaly so repeated scans do not store it twice.
func Fingerprint(kind Kind, jobID string, basis ...string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(jobID))
	for _, part := range basis {
		h.Write([]byte{0})
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
