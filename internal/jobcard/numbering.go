package jobcard

import (
	"fmt"
	"regexp"
	"strconv"
)

var numberPattern = regexp.MustCompile(`^JB(\d{4})-(\d{4,})$`)

// FormatNumber renders the human job number for a year and sequence.
func FormatNumber(year, seq int) string {
	return fmt.Sprintf("JB%d-%04d", year, seq)
}

// ParseNumber splits a job number into year and sequence.
func ParseNumber(number string) (year, seq int, err error) {
	m := numberPattern.FindStringSubmatch(number)
	if m == nil {
		return 0, 0, fmt.Errorf("invalid job number %q", number)
	}
	year, _ = strconv.Atoi(m[1])
	seq, _ = strconv.Atoi(m[2])
	return year, seq, nil
}
