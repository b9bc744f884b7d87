package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidDateRange is returned when a bound cannot be parsed or the start
// day falls after the end day.
var ErrInvalidDateRange = errors.New("invalid date range")

// DateRange filters log entries by their server timestamp. Start is inclusive,
// End is exclusive. A nil bound leaves that side open.
type DateRange struct {
	Start *time.Time
	End   *time.Time
}

// Unbounded reports whether neither side of the range is set.
func (r DateRange) Unbounded() bool {
	return r.Start == nil && r.End == nil
}

// Complete reports whether both sides of the range are set.
func (r DateRange) Complete() bool {
	return r.Start != nil && r.End != nil
}

// Contains reports whether ts falls inside the range.
func (r DateRange) Contains(ts time.Time) bool {
	if r.Start != nil && ts.Before(*r.Start) {
		return false
	}
	if r.End != nil && !ts.Before(*r.End) {
		return false
	}
	return true
}

// ParseDateRange builds a range from the dashboard's startDate/endDate strings.
// The start bound is midnight UTC of its day; the end bound covers its whole
// day and is stored as midnight UTC of the following day.
func ParseDateRange(startDate, endDate string) (DateRange, error) {
	var r DateRange

	if s := strings.TrimSpace(startDate); s != "" {
		day, err := parseDay(s)
		if err != nil {
			return DateRange{}, fmt.Errorf("%w: startDate %q", ErrInvalidDateRange, s)
		}
		r.Start = &day
	}

	if s := strings.TrimSpace(endDate); s != "" {
		day, err := parseDay(s)
		if err != nil {
			return DateRange{}, fmt.Errorf("%w: endDate %q", ErrInvalidDateRange, s)
		}
		next := day.AddDate(0, 0, 1)
		r.End = &next
	}

	if r.Complete() && !r.Start.Before(*r.End) {
		return DateRange{}, fmt.Errorf("%w: startDate after endDate", ErrInvalidDateRange)
	}

	return r, nil
}

func parseDay(value string) (time.Time, error) {
	layouts := []string{"2006-01-02", time.RFC3339Nano, time.RFC3339}
	var lastErr error
	for _, layout := range layouts {
		ts, err := time.Parse(layout, value)
		if err == nil {
			ts = ts.UTC()
			return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
