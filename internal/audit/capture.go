package audit

import (
	"reflect"
	"sort"
	"time"
)

// Meta describes the mutation being captured.
type Meta struct {
	TableName string
	RecordID  string
	Operation Operation
	Actor     string
	Source    string
	At        time.Time
}

// Capture builds the audit entry documenting a before/after transition.
// Snapshots are copied so later edits to the inputs cannot leak into the entry.
func Capture(before, after Values, meta Meta) Entry {
	if before == nil {
		before = Values{}
	}
	if after == nil {
		after = Values{}
	}
	at := meta.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return Entry{
		TableName:     meta.TableName,
		RecordID:      meta.RecordID,
		Operation:     meta.Operation,
		OldValues:     copyValues(before),
		NewValues:     copyValues(after),
		ChangedFields: ChangedFields(before, after),
		Actor:         meta.Actor,
		Source:        meta.Source,
		ChangedAt:     at,
		ReviewState:   ReviewUnreviewed,
	}
}

// ChangedFields returns the sorted keys whose values differ between the
// snapshots. The version counter is bookkeeping and never listed.
func ChangedFields(before, after Values) []string {
	changed := make([]string, 0)
	for k, newVal := range after {
		if k == FieldVersion {
			continue
		}
		oldVal, exists := before[k]
		if !exists || !reflect.DeepEqual(oldVal, newVal) {
			changed = append(changed, k)
		}
	}
	for k := range before {
		if k == FieldVersion {
			continue
		}
		if _, exists := after[k]; !exists {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

func copyValues(in Values) Values {
	out := make(Values, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
