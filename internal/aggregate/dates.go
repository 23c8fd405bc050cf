package aggregate

import (
	"fmt"
	"time"
)

// Accepted statement date layouts, tried in order.
var dateLayouts = []string{
	"2006-01-02", // YYYY-MM-DD
	"02-01-2006", // DD-MM-YYYY
	"06-01-02",   // YY-MM-DD
}

// ParseDate parses a statement date in any of the accepted formats.
// Two-digit years are always interpreted as 20YY.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		// time.Parse maps "69".."99" to 19YY; the statements here are all
		// from this century.
		if t.Year() < 2000 {
			t = t.AddDate(100, 0, 0)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// MonthKey returns the YYYY-MM grouping key of a parsed date.
func MonthKey(t time.Time) string {
	return t.Format("2006-01")
}
