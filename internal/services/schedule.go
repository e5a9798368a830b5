package services

import "time"

// RollupSchedule decides when the monthly rollup is due.
type RollupSchedule struct {
	// Day of month the rollup becomes due, clamped to the month length.
	Day      int
	Location *time.Location
}

// IsDue returns true if the job never ran, or it last ran in an earlier
// month and today is on or after the target day.
func (s RollupSchedule) IsDue(lastRun, now time.Time) bool {
	if lastRun.IsZero() {
		return true
	}
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	lastRun = lastRun.In(loc)

	// Already processed this month?
	if lastRun.Year() == now.Year() && lastRun.Month() == now.Month() {
		return false
	}
	if lastRun.After(now) {
		return false
	}

	targetDay := s.Day
	if targetDay < 1 {
		targetDay = 1
	}
	lastDayOfMonth := time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, loc).Day()
	if targetDay > lastDayOfMonth {
		targetDay = lastDayOfMonth
	}
	return now.Day() >= targetDay
}
