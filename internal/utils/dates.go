package utils

import (
	"fmt"
	"strings"
	"time"
)

// Day truncates t to midnight UTC of its civil date (as seen in t's own location).
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether a and b fall on the same civil date
func SameDay(a, b time.Time) bool {
	return Day(a).Equal(Day(b))
}

// FormatDay renders the civil date as YYYY-MM-DD
func FormatDay(t time.Time) string {
	return Day(t).Format(time.DateOnly)
}

// ParseDay parses YYYY-MM-DD or an RFC3339 timestamp into a civil date.
func ParseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return Day(t), nil
}

// ParseDays parses a comma-separated list of dates
func ParseDays(s string) ([]time.Time, error) {
	var days []time.Time
	for _, v := range ParseCSV(s) {
		d, err := ParseDay(v)
		if err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, nil
}

// AddMonthsClamped adds n calendar months to t, clamping the day to the
// last day of the target month (Jan 31 + 1 month = Feb 29 in a leap year).
func AddMonthsClamped(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m, 1, 0, 0, 0, 0, t.Location()).AddDate(0, n, 0)
	if last := DaysInMonth(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// DaysInMonth returns the number of days in the given month
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// IsWeekend reports whether t falls on Saturday or Sunday
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
