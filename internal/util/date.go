package util

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// Day truncates t to 00:00 UTC of its calendar day, keeping the wall-clock date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a civil date at 00:00 UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}

// FormatDate renders a civil date.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// WeekEnd returns the Sunday closing the ISO week (Monday start) that contains d.
func WeekEnd(d time.Time) time.Time {
	d = Day(d)
	offset := (7 - int(d.Weekday())) % 7
	return d.AddDate(0, 0, offset)
}

// WeekStart returns the Monday opening the ISO week that contains d.
func WeekStart(d time.Time) time.Time {
	d = Day(d)
	back := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -back)
}

// Within reports whether d lies in the closed interval [from, to] at day granularity.
func Within(d, from, to time.Time) bool {
	d, from, to = Day(d), Day(from), Day(to)
	return !d.Before(from) && !d.After(to)
}
