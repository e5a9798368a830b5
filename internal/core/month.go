package core

import (
	"fmt"
	"time"
)

const monthKeyLayout = "2006-01"

// MonthKey identifies a calendar month as "YYYY-MM".
type MonthKey string

// MonthKeyOf returns the month containing t, evaluated in loc.
func MonthKeyOf(t time.Time, loc *time.Location) MonthKey {
	if loc == nil {
		loc = time.UTC
	}
	return MonthKey(t.In(loc).Format(monthKeyLayout))
}

// ParseMonthKey validates s and returns it as a MonthKey.
func ParseMonthKey(s string) (MonthKey, error) {
	if _, err := time.Parse(monthKeyLayout, s); err != nil {
		return "", fmt.Errorf("invalid month %q: want YYYY-MM", s)
	}
	return MonthKey(s), nil
}

// Range returns the half-open interval [first of month, first of next month) in loc.
func (k MonthKey) Range(loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(monthKeyLayout, string(k), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid month %q: want YYYY-MM", k)
	}
	return t, t.AddDate(0, 1, 0), nil
}

// Label renders the month for humans, e.g. "March 2024".
func (k MonthKey) Label() string {
	t, err := time.Parse(monthKeyLayout, string(k))
	if err != nil {
		return string(k)
	}
	return t.Format("January 2006")
}

func (k MonthKey) String() string {
	return string(k)
}

// PreviousMonth returns the calendar month before the one containing now,
// together with its half-open date range.
func PreviousMonth(now time.Time, loc *time.Location) (MonthKey, time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	firstOfCurrent := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	firstOfPrevious := firstOfCurrent.AddDate(0, -1, 0)
	return MonthKey(firstOfPrevious.Format(monthKeyLayout)), firstOfPrevious, firstOfCurrent
}
