package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/workbay/workbay/internal/shared"
)

type baselineCustomer struct {
	ID   json.RawMessage `json:"id"`
	Name string          `json:"name"`
}

type baselineRecord struct {
	JobNumber string            `json:"jobNumber"`
	Customer  *baselineCustomer `json:"customer"`
}

// ParseBaseline reads a baseline export: a flat JSON array of
// {"jobNumber", "customer": {"id", "name"}} objects. Customer ids may be
// strings, numbers or null.
func ParseBaseline(r io.Reader) ([]BaselineEntry, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var records []baselineRecord
	if err := dec.Decode(&records); err != nil {
		return nil, invalid("malformed baseline: %v", err)
	}
	if len(records) == 0 {
		return nil, invalid("baseline is empty")
	}
	seen := make(map[string]int, len(records))
	out := make([]BaselineEntry, 0, len(records))
	for i, rec := range records {
		number := strings.TrimSpace(rec.JobNumber)
		if number == "" {
			return nil, invalid("entry %d has no jobNumber", i)
		}
		if first, dup := seen[number]; dup {
			return nil, invalid("job %s appears at entries %d and %d", number, first, i)
		}
		seen[number] = i
		entry := BaselineEntry{JobNumber: number}
		if rec.Customer != nil {
			id, err := customerID(rec.Customer.ID)
			if err != nil {
				return nil, invalid("entry %d (%s): %v", i, number, err)
			}
			entry.CustomerID = id
			entry.CustomerName = strings.TrimSpace(rec.Customer.Name)
		}
		out = append(out, entry)
	}
	return out, nil
}

func customerID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", fmt.Errorf("customer id must be a string, number or null")
		}
		return n.String(), nil
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", shared.ErrReconciliationInput, fmt.Sprintf(format, args...))
}
