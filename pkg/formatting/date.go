package formatting

import (
	"fmt"
	"strings"
	"time"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
}

// ParseDate reads a date cell and returns the calendar date at midnight UTC.
// Any time-of-day component is discarded.
func ParseDate(v any) (time.Time, error) {
	switch d := v.(type) {
	case nil:
		return time.Time{}, ErrEmptyValue
	case time.Time:
		return DateOf(d), nil
	case string:
		s := strings.TrimSpace(d)
		if s == "" {
			return time.Time{}, ErrEmptyValue
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return DateOf(t), nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidDate, v)
	}
}

// DateOf truncates t to its calendar date in t's own location,
// expressed as midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
