package timeparser

import (
	"fmt"
	"time"
)

// DateLayout is the calendar date format used by the admin API
const DateLayout = "2006-01-02"

// platformLayouts are the timestamp shapes the meter platform emits
var platformLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05",
	"02/01/2006 15:04:05", // DD/MM/YYYY HH:mm:ss
	DateLayout,
	"2006/01/02",
}

// ParsePlatformTime parses a platform timestamp, trying each known layout
func ParsePlatformTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range platformLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", s, lastErr)
}

// Day returns the YYYY-MM-DD of a platform timestamp, or "" when it cannot
// be parsed
func Day(s string) string {
	t, err := ParsePlatformTime(s)
	if err != nil {
		return ""
	}
	return t.Format(DateLayout)
}

// ParseDate parses a strict YYYY-MM-DD date
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date '%s', expected YYYY-MM-DD", s)
	}
	return t, nil
}

// DaysBetween counts calendar days from start to end inclusive
func DaysBetween(start, end time.Time) int {
	return int(end.Sub(start).Hours()/24) + 1
}
