package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// Accepted ISO-8601 renderings. Zone-less timestamps are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an ISO-8601 timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// CalculateDuration returns the whole minutes between startTime and endTime,
// truncated toward zero. It returns nil when either timestamp is missing or
// unparseable, or when the call ends before it starts.
func CalculateDuration(startTime, endTime string) *int {
	if strings.TrimSpace(startTime) == "" || strings.TrimSpace(endTime) == "" {
		return nil
	}
	start, err := ParseTimestamp(startTime)
	if err != nil {
		return nil
	}
	end, err := ParseTimestamp(endTime)
	if err != nil {
		return nil
	}
	elapsed := end.Sub(start)
	if elapsed < 0 {
		return nil
	}
	minutes := int(elapsed / time.Minute)
	return &minutes
}
