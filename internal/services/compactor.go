package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tally/internal/core"
	"tally/internal/sheets"
	"tally/internal/store"
)

const defaultRollupConcurrency = 4

// RollupResult summarizes one compactor run.
type RollupResult struct {
	Month    core.MonthKey
	Reports  []core.MonthlyReport
	Failures []core.ScanFailure
}

// MonthlyCompactor writes one MonthlyReport per household per month. Each
// household is scanned independently; a failing household never stops the
// others and never holds a transaction.
type MonthlyCompactor struct {
	store       store.Store
	notifier    Dispatcher
	exporter    sheets.ReportWriter
	loc         *time.Location
	concurrency int
}

type CompactorOption func(*MonthlyCompactor)

func WithNotifier(d Dispatcher) CompactorOption {
	return func(c *MonthlyCompactor) { c.notifier = d }
}

func WithExporter(w sheets.ReportWriter) CompactorOption {
	return func(c *MonthlyCompactor) { c.exporter = w }
}

func WithLocation(loc *time.Location) CompactorOption {
	return func(c *MonthlyCompactor) {
		if loc != nil {
			c.loc = loc
		}
	}
}

func WithConcurrency(n int) CompactorOption {
	return func(c *MonthlyCompactor) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func NewMonthlyCompactor(st store.Store, opts ...CompactorOption) *MonthlyCompactor {
	c := &MonthlyCompactor{
		store:       st,
		loc:         time.UTC,
		concurrency: defaultRollupConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run rolls up the calendar month before now. now is also the report
// generation time.
func (c *MonthlyCompactor) Run(ctx context.Context, now time.Time) (RollupResult, error) {
	return c.RunMonth(ctx, c.MonthBefore(now), now)
}

// MonthBefore is the month Run would roll up at now.
func (c *MonthlyCompactor) MonthBefore(now time.Time) core.MonthKey {
	month, _, _ := core.PreviousMonth(now, c.loc)
	return month
}

// RunMonth rolls up month for every household. When some households fail
// the returned error is a *core.PartialScanError listing all of them, and
// the result still carries every report that was written.
func (c *MonthlyCompactor) RunMonth(ctx context.Context, month core.MonthKey, generatedAt time.Time) (RollupResult, error) {
	ids, err := c.store.ListHouseholds(ctx)
	if err != nil {
		return RollupResult{Month: month}, fmt.Errorf("list households: %w", err)
	}
	return c.RunHouseholds(ctx, month, ids, generatedAt)
}

// RunHouseholds rolls up month for the given households only. Failures are
// reported the same way as RunMonth.
func (c *MonthlyCompactor) RunHouseholds(ctx context.Context, month core.MonthKey, ids []string, generatedAt time.Time) (RollupResult, error) {
	result := RollupResult{Month: month}
	from, to, err := month.Range(c.loc)
	if err != nil {
		return result, err
	}

	start := time.Now()
	slog.InfoContext(ctx, "Monthly rollup started",
		"component", "compactor",
		"month", string(month),
		"households", len(ids))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(c.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			report, err := c.rollupHousehold(ctx, id, month, from, to, generatedAt)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failures = append(result.Failures, core.ScanFailure{HouseholdID: id, Err: err})
				return nil
			}
			result.Reports = append(result.Reports, report)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Reports, func(i, j int) bool { return result.Reports[i].HouseholdID < result.Reports[j].HouseholdID })
	sort.Slice(result.Failures, func(i, j int) bool { return result.Failures[i].HouseholdID < result.Failures[j].HouseholdID })

	slog.InfoContext(ctx, "Monthly rollup finished",
		"component", "compactor",
		"month", string(month),
		"written", len(result.Reports),
		"failed", len(result.Failures),
		"duration_ms", time.Since(start).Milliseconds())

	if len(result.Failures) > 0 {
		for _, f := range result.Failures {
			slog.ErrorContext(ctx, "Household rollup failed",
				"component", "compactor",
				"household_id", f.HouseholdID,
				"month", string(month),
				"error", f.Err)
		}
		return result, &core.PartialScanError{Month: month, Failures: result.Failures}
	}
	return result, nil
}

func (c *MonthlyCompactor) rollupHousehold(ctx context.Context, householdID string, month core.MonthKey, from, to, generatedAt time.Time) (core.MonthlyReport, error) {
	report, err := c.buildReport(ctx, householdID, month, from, to, generatedAt)
	if err != nil {
		return core.MonthlyReport{}, err
	}
	if err := c.store.PutMonthlyReport(ctx, report); err != nil {
		return core.MonthlyReport{}, fmt.Errorf("write %s: %w", store.ReportPath(householdID, month), err)
	}

	Notify(ctx, c.notifier, householdID, MonthlyReportNotification(report))
	if c.exporter != nil {
		if err := c.exporter.WriteReport(ctx, report); err != nil {
			slog.WarnContext(ctx, "Report export failed",
				"component", "compactor",
				"household_id", householdID,
				"month", string(month),
				"error", err)
		}
	}
	return report, nil
}

func (c *MonthlyCompactor) buildReport(ctx context.Context, householdID string, month core.MonthKey, from, to, generatedAt time.Time) (core.MonthlyReport, error) {
	members, err := c.store.ListMembers(ctx, householdID)
	if err != nil {
		return core.MonthlyReport{}, fmt.Errorf("list members: %w", err)
	}

	report := core.MonthlyReport{
		HouseholdID:    householdID,
		Month:          month,
		CategoryTotals: make(map[string]core.Money),
		GeneratedAt:    generatedAt,
	}
	for _, m := range members {
		expenses, err := c.store.ListExpenses(ctx, m.ID, from, to)
		if err != nil {
			return core.MonthlyReport{}, fmt.Errorf("list expenses of %s: %w", m.ID, err)
		}
		for _, e := range expenses {
			report.TotalExpenses.Cents += e.Amount.Cents
			total := report.CategoryTotals[e.CategoryID]
			total.Cents += e.Amount.Cents
			report.CategoryTotals[e.CategoryID] = total
		}
	}
	return report, nil
}
