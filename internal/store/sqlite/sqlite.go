// Package sqlite implements the document store on a local SQLite database.
// Transactions take the write lock up front and are retried when SQLite
// reports the database busy or locked.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"tally/internal/core"
	"tally/internal/store"
)

const dsnPragmas = "?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=busy_timeout(5000)&_txlock=immediate"

type Store struct {
	db          *sql.DB
	queries     *Queries
	maxAttempts int
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Seeder = (*Store)(nil)
)

// Open creates the database directory if needed, applies migrations and
// returns a ready store.
func Open(dbPath string, maxAttempts int) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Run migrations
	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if maxAttempts < 1 {
		maxAttempts = store.DefaultMaxAttempts
	}

	slog.Info("SQLite store opened", "path", dbPath)

	return &Store{
		db:          db,
		queries:     New(db),
		maxAttempts: maxAttempts,
	}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// isBusy reports whether err is SQLite refusing the write lock.
func isBusy(err error) bool {
	var serr *msqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// RunTx implements store.Store.
func (s *Store) RunTx(ctx context.Context, fn store.TxFunc) error {
	return store.Retry(ctx, s.maxAttempts, isBusy, func() error {
		sqlTx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if err := fn(ctx, &sqliteTx{q: s.queries.WithTx(sqlTx)}); err != nil {
			_ = sqlTx.Rollback()
			return err
		}
		if err := sqlTx.Commit(); err != nil {
			_ = sqlTx.Rollback()
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}

type sqliteTx struct {
	q *Queries
}

func (tx *sqliteTx) GetHousehold(ctx context.Context, householdID string) (core.Household, error) {
	row, err := tx.q.GetHousehold(ctx, householdID)
	if err != nil {
		return core.Household{}, notFound(err)
	}
	return householdFromRow(row), nil
}

func (tx *sqliteTx) GetMember(ctx context.Context, householdID, memberID string) (core.Member, error) {
	row, err := tx.q.GetMember(ctx, householdID, memberID)
	if err != nil {
		return core.Member{}, notFound(err)
	}
	return memberFromRow(row), nil
}

func (tx *sqliteTx) GetCategory(ctx context.Context, householdID, categoryID string) (core.Category, error) {
	total, err := tx.q.GetCategoryTotal(ctx, householdID, categoryID)
	if err != nil {
		return core.Category{}, notFound(err)
	}
	months, err := tx.q.ListCategoryMonthlyTotals(ctx, householdID, categoryID)
	if err != nil {
		return core.Category{}, fmt.Errorf("list monthly totals: %w", err)
	}
	c := core.Category{
		ID:            categoryID,
		HouseholdID:   householdID,
		TotalExpenses: core.Money{Cents: total},
		MonthlyTotals: make(map[core.MonthKey]core.Money, len(months)),
	}
	for _, m := range months {
		c.MonthlyTotals[core.MonthKey(m.Month)] = core.Money{Cents: m.AmountCents}
	}
	return c, nil
}

func (tx *sqliteTx) PutHousehold(ctx context.Context, h core.Household) error {
	return tx.q.UpsertHousehold(ctx, householdToRow(h))
}

func (tx *sqliteTx) PutMember(ctx context.Context, m core.Member) error {
	return tx.q.UpsertMember(ctx, memberToRow(m))
}

func (tx *sqliteTx) PutCategory(ctx context.Context, c core.Category) error {
	return putCategory(ctx, tx.q, c)
}

func (tx *sqliteTx) PutExpense(ctx context.Context, e core.Expense) error {
	if e.UserID == "" || e.ID == "" {
		return fmt.Errorf("put expense: %w", core.ErrEmptyIdentifier)
	}
	return tx.q.UpsertExpense(ctx, expenseToRow(e))
}

func (tx *sqliteTx) DeleteExpense(ctx context.Context, userID, expenseID string) error {
	if userID == "" || expenseID == "" {
		return fmt.Errorf("delete expense: %w", core.ErrEmptyIdentifier)
	}
	return tx.q.DeleteExpense(ctx, userID, expenseID)
}

func (tx *sqliteTx) Applied(ctx context.Context, key string) (bool, error) {
	return tx.q.AppliedEventExists(ctx, key)
}

func (tx *sqliteTx) MarkApplied(ctx context.Context, key string, at time.Time) error {
	return tx.q.InsertAppliedEvent(ctx, key, at.UnixNano())
}

func putCategory(ctx context.Context, q *Queries, c core.Category) error {
	if err := q.UpsertCategory(ctx, c.HouseholdID, c.ID, c.TotalExpenses.Cents); err != nil {
		return fmt.Errorf("upsert category: %w", err)
	}
	for month, amount := range c.MonthlyTotals {
		if err := q.UpsertCategoryMonthlyTotal(ctx, c.HouseholdID, c.ID, string(month), amount.Cents); err != nil {
			return fmt.Errorf("upsert monthly total %s: %w", month, err)
		}
	}
	return nil
}

// ResolveHousehold implements store.Store.
func (s *Store) ResolveHousehold(ctx context.Context, userID string) (string, error) {
	householdID, err := s.queries.GetUserHousehold(ctx, userID)
	if err != nil {
		return "", notFound(err)
	}
	return householdID, nil
}

func (s *Store) ListHouseholds(ctx context.Context) ([]string, error) {
	ids, err := s.queries.ListHouseholdIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list households: %w", err)
	}
	return ids, nil
}

func (s *Store) ListMembers(ctx context.Context, householdID string) ([]core.Member, error) {
	rows, err := s.queries.ListMembers(ctx, householdID)
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", householdID, err)
	}
	members := make([]core.Member, len(rows))
	for i, r := range rows {
		members[i] = memberFromRow(r)
	}
	return members, nil
}

func (s *Store) ListExpenses(ctx context.Context, userID string, from, to time.Time) ([]core.Expense, error) {
	rows, err := s.queries.ListExpensesInRange(ctx, userID, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("list expenses of %s: %w", userID, err)
	}
	expenses := make([]core.Expense, len(rows))
	for i, r := range rows {
		expenses[i] = core.Expense{
			ID:         r.ID,
			UserID:     r.UserID,
			Amount:     core.Money{Cents: r.AmountCents},
			CategoryID: r.CategoryID,
			Date:       time.Unix(0, r.DateUnixNs).UTC(),
		}
	}
	return expenses, nil
}

func (s *Store) PutMonthlyReport(ctx context.Context, r core.MonthlyReport) error {
	totals := make(map[string]int64, len(r.CategoryTotals))
	for id, m := range r.CategoryTotals {
		totals[id] = m.Cents
	}
	encoded, err := json.Marshal(totals)
	if err != nil {
		return fmt.Errorf("encode category totals: %w", err)
	}
	err = s.queries.UpsertReport(ctx, ReportRow{
		HouseholdID:        r.HouseholdID,
		Month:              string(r.Month),
		TotalExpensesCents: r.TotalExpenses.Cents,
		CategoryTotals:     string(encoded),
		GeneratedAt:        r.GeneratedAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("upsert report %s: %w", store.ReportPath(r.HouseholdID, r.Month), err)
	}
	return nil
}

func (s *Store) GetMonthlyReport(ctx context.Context, householdID string, month core.MonthKey) (core.MonthlyReport, error) {
	row, err := s.queries.GetReport(ctx, householdID, string(month))
	if err != nil {
		return core.MonthlyReport{}, notFound(err)
	}
	var totals map[string]int64
	if err := json.Unmarshal([]byte(row.CategoryTotals), &totals); err != nil {
		return core.MonthlyReport{}, fmt.Errorf("decode category totals: %w", err)
	}
	r := core.MonthlyReport{
		HouseholdID:    row.HouseholdID,
		Month:          core.MonthKey(row.Month),
		TotalExpenses:  core.Money{Cents: row.TotalExpensesCents},
		CategoryTotals: make(map[string]core.Money, len(totals)),
		GeneratedAt:    time.Unix(0, row.GeneratedAt).UTC(),
	}
	for id, cents := range totals {
		r.CategoryTotals[id] = core.Money{Cents: cents}
	}
	return r, nil
}

func (s *Store) LastJobRun(ctx context.Context, job string) (time.Time, error) {
	lastRun, err := s.queries.GetJobRun(ctx, job)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get job run %s: %w", job, err)
	}
	return time.Unix(0, lastRun).UTC(), nil
}

func (s *Store) RecordJobRun(ctx context.Context, job string, at time.Time) error {
	return s.queries.UpsertJobRun(ctx, job, at.UnixNano())
}

func (s *Store) PruneApplied(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.queries.DeleteAppliedEventsBefore(ctx, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune applied events: %w", err)
	}
	return n, nil
}

func (s *Store) SeedHousehold(ctx context.Context, h core.Household) error {
	return s.queries.UpsertHousehold(ctx, householdToRow(h))
}

func (s *Store) SeedMember(ctx context.Context, m core.Member) error {
	return s.queries.UpsertMember(ctx, memberToRow(m))
}

func (s *Store) SeedUser(ctx context.Context, userID, householdID string) error {
	return s.queries.UpsertUser(ctx, userID, householdID)
}

func (s *Store) SeedCategory(ctx context.Context, c core.Category) error {
	return putCategory(ctx, s.queries, c)
}

func (s *Store) SeedExpense(ctx context.Context, e core.Expense) error {
	if e.UserID == "" || e.ID == "" {
		return fmt.Errorf("seed expense: %w", core.ErrEmptyIdentifier)
	}
	return s.queries.UpsertExpense(ctx, expenseToRow(e))
}

func (s *Store) DeleteHousehold(ctx context.Context, householdID string) error {
	return s.queries.DeleteHousehold(ctx, householdID)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func householdFromRow(r HouseholdRow) core.Household {
	return core.Household{ID: r.ID, TotalTasksCompleted: r.TotalTasksCompleted, TotalPoints: r.TotalPoints}
}

func householdToRow(h core.Household) HouseholdRow {
	return HouseholdRow{ID: h.ID, TotalTasksCompleted: h.TotalTasksCompleted, TotalPoints: h.TotalPoints}
}

func expenseToRow(e core.Expense) ExpenseRow {
	return ExpenseRow{
		UserID:      e.UserID,
		ID:          e.ID,
		AmountCents: e.Amount.Cents,
		CategoryID:  e.CategoryID,
		DateUnixNs:  e.Date.UnixNano(),
	}
}

func memberFromRow(r MemberRow) core.Member {
	m := core.Member{
		ID:             r.ID,
		HouseholdID:    r.HouseholdID,
		TasksCompleted: r.TasksCompleted,
		Points:         r.Points,
	}
	if r.LastTaskCompleted.Valid {
		t := time.Unix(0, r.LastTaskCompleted.Int64).UTC()
		m.LastTaskCompleted = &t
	}
	return m
}

func memberToRow(m core.Member) MemberRow {
	r := MemberRow{
		HouseholdID:    m.HouseholdID,
		ID:             m.ID,
		TasksCompleted: m.TasksCompleted,
		Points:         m.Points,
	}
	if m.LastTaskCompleted != nil {
		r.LastTaskCompleted = sql.NullInt64{Int64: m.LastTaskCompleted.UnixNano(), Valid: true}
	}
	return r
}
