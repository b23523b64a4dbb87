// Package scheduler fires cron-triggered builds. It owns the five-field
// cron expression parser and the polling loop that turns due schedules
// into build submissions with a missed-run audit trail.
package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cron field positions.
const (
	fieldMinute = iota
	fieldHour
	fieldDayOfMonth
	fieldMonth
	fieldDayOfWeek
	fieldCount
)

// fieldBounds are the inclusive value ranges per field. Day-of-week
// accepts 7 at parse time; it folds to Sunday.
var fieldBounds = [fieldCount]struct{ min, max int }{
	{0, 59},
	{0, 23},
	{1, 31},
	{1, 12},
	{0, 7},
}

var fieldNames = [fieldCount]string{
	"minute", "hour", "day-of-month", "month", "day-of-week",
}

// Expression is a parsed five-field cron expression. Each field is a
// bitmask of admitted values; an instant matches when every field admits
// the corresponding wall-clock component. The zero value matches nothing;
// build one with ParseCron.
type Expression struct {
	raw    string
	fields [fieldCount]uint64
}

// ParseCron parses "minute hour day-of-month month day-of-week".
// Each field accepts `*`, `N`, `N-M`, `*/N`, `N/M`, and comma-separated
// lists of those. Day-of-week runs Sunday=0 through Saturday=6, with 7
// accepted as Sunday.
func ParseCron(expr string) (*Expression, error) {
	parts := strings.Fields(expr)
	if len(parts) != fieldCount {
		return nil, fmt.Errorf("cron expression %q: want %d fields, got %d", expr, fieldCount, len(parts))
	}

	parsed := &Expression{raw: expr}
	for i, part := range parts {
		mask, err := parseField(part, fieldBounds[i].min, fieldBounds[i].max)
		if err != nil {
			return nil, fmt.Errorf("cron expression %q: %s field: %w", expr, fieldNames[i], err)
		}
		if i == fieldDayOfWeek && mask&(1<<7) != 0 {
			mask = mask&^(1<<7) | 1
		}
		parsed.fields[i] = mask
	}
	return parsed, nil
}

// String returns the expression as parsed.
func (e *Expression) String() string {
	return e.raw
}

// Matches reports whether the instant matches, evaluating every field
// independently in the instant's location. Seconds are ignored.
func (e *Expression) Matches(t time.Time) bool {
	return e.admits(fieldMinute, t.Minute()) &&
		e.admits(fieldHour, t.Hour()) &&
		e.admits(fieldDayOfMonth, t.Day()) &&
		e.admits(fieldMonth, int(t.Month())) &&
		e.admits(fieldDayOfWeek, int(t.Weekday()))
}

func (e *Expression) admits(field, value int) bool {
	return e.fields[field]&(1<<uint(value)) != 0
}

// nextSearchBound caps the forward search. No five-field expression has a
// period longer than a year, leap-day slack included.
const nextSearchBound = 366 * 24 * time.Hour

// Next returns the first minute-aligned instant strictly after from that
// matches, stepping one minute at a time in from's location. It returns
// the zero time when nothing matches within the search bound.
func (e *Expression) Next(from time.Time) time.Time {
	t := from.Truncate(time.Minute).Add(time.Minute)
	bound := from.Add(nextSearchBound)
	for !t.After(bound) {
		if e.Matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

// parseField parses one comma-separated field into a value bitmask.
func parseField(field string, min, max int) (uint64, error) {
	var mask uint64
	for _, term := range strings.Split(field, ",") {
		m, err := parseTerm(term, min, max)
		if err != nil {
			return 0, err
		}
		mask |= m
	}
	return mask, nil
}

// parseTerm parses `*`, `N`, `N-M`, `*/N`, or `N/M`. A stepped value
// `N/M` runs from N to the field maximum in increments of M.
func parseTerm(term string, min, max int) (uint64, error) {
	if term == "" {
		return 0, fmt.Errorf("empty term")
	}

	base, stepStr, hasStep := strings.Cut(term, "/")
	step := 1
	if hasStep {
		n, err := strconv.Atoi(stepStr)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid step %q", stepStr)
		}
		if n > max {
			return 0, fmt.Errorf("step %d exceeds field maximum %d", n, max)
		}
		step = n
	}

	lo, hi := min, max
	switch {
	case base == "*":
	case strings.Contains(base, "-"):
		loStr, hiStr, _ := strings.Cut(base, "-")
		var err error
		if lo, err = parseValue(loStr, min, max); err != nil {
			return 0, err
		}
		if hi, err = parseValue(hiStr, min, max); err != nil {
			return 0, err
		}
		if lo > hi {
			return 0, fmt.Errorf("inverted range %q", base)
		}
	default:
		v, err := parseValue(base, min, max)
		if err != nil {
			return 0, err
		}
		lo = v
		if !hasStep {
			hi = v
		}
	}

	var mask uint64
	for v := lo; v <= hi; v += step {
		mask |= 1 << uint(v)
	}
	return mask, nil
}

func parseValue(s string, min, max int) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("value %d out of range %d-%d", v, min, max)
	}
	return v, nil
}
