package utils

import (
	"strings"
	"time"
)

// DateLayout is how dates are written into the sheets
const DateLayout = "2006-01-02"

// dateLayouts are accepted when reading dates back. Sheets reformats
// USER_ENTERED dates according to the spreadsheet locale.
var dateLayouts = []string{
	DateLayout,
	"2006-01-02 15:04:05",
	time.RFC3339,
	"1/2/2006",
	"01/02/2006",
	"2006/01/02",
}

// Today returns the current date in loc formatted with DateLayout
func Today(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return now.In(loc).Format(DateLayout)
}

// ParseDate parses a sheet date in loc. The second result is false for
// empty or unparseable values.
func ParseDate(value string, loc *time.Location) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DaysSince returns the whole calendar days between date and now in loc
func DaysSince(date time.Time, now time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	d := date.In(loc)
	n := now.In(loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start).Hours() / 24)
}
