package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tally/internal/core"
)

type rowKey struct {
	householdID string
	month       core.MonthKey
}

// Store keeps mirrored reports in memory, one row per (household, month).
type Store struct {
	mu     sync.Mutex
	rows   map[rowKey]core.MonthlyReport
	writes int
}

func New() *Store {
	return &Store{rows: make(map[rowKey]core.MonthlyReport)}
}

// WriteReport implements sheets.ReportWriter.
func (s *Store) WriteReport(_ context.Context, r core.MonthlyReport) error {
	if r.HouseholdID == "" {
		return fmt.Errorf("write report: %w", core.ErrEmptyIdentifier)
	}
	if _, err := core.ParseMonthKey(string(r.Month)); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	totals := make(map[string]core.Money, len(r.CategoryTotals))
	for k, v := range r.CategoryTotals {
		totals[k] = v
	}
	r.CategoryTotals = totals

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[rowKey{r.HouseholdID, r.Month}] = r
	s.writes++
	return nil
}

// ListReports implements sheets.ReportLister.
func (s *Store) ListReports(_ context.Context, month core.MonthKey) ([]core.MonthlyReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.MonthlyReport
	for k, r := range s.rows {
		if k.month == month {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HouseholdID < out[j].HouseholdID })
	return out, nil
}

// Writes returns how many WriteReport calls succeeded.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
