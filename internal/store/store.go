// Package store defines the document store port used by the aggregate
// updater, the monthly compactor and the scheduler.
//
// Backends live in subpackages: memory (tests and local runs), sqlite and
// mongo. Every backend provides point reads, multi-document read-modify-write
// transactions with bounded automatic retry, and single-document report writes.
package store

import (
	"context"
	"errors"
	"time"

	"tally/internal/core"
)

var (
	// ErrNotFound is returned by point reads when the document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrConflict is returned by RunTx when the retry budget is exhausted.
	ErrConflict = errors.New("transaction conflict")
)

// DefaultMaxAttempts bounds RunTx retries when a backend is built without an explicit limit.
const DefaultMaxAttempts = 5

type (
	// Tx is a read-modify-write transaction. Reads observe a consistent view
	// and writes become visible only when the enclosing RunTx commits.
	Tx interface {
		GetHousehold(ctx context.Context, householdID string) (core.Household, error)
		GetMember(ctx context.Context, householdID, memberID string) (core.Member, error)
		GetCategory(ctx context.Context, householdID, categoryID string) (core.Category, error)

		PutHousehold(ctx context.Context, h core.Household) error
		PutMember(ctx context.Context, m core.Member) error
		PutCategory(ctx context.Context, c core.Category) error

		// PutExpense creates or replaces the source expense document so the
		// compactor sees it; DeleteExpense removes it. Deleting a missing
		// expense is not an error.
		PutExpense(ctx context.Context, e core.Expense) error
		DeleteExpense(ctx context.Context, userID, expenseID string) error

		// Applied reports whether an idempotency key was already committed.
		Applied(ctx context.Context, key string) (bool, error)
		// MarkApplied records key as part of this transaction.
		MarkApplied(ctx context.Context, key string, at time.Time) error
	}

	// TxFunc is the body of a transaction. It may run more than once.
	TxFunc func(ctx context.Context, tx Tx) error

	// Store is the document store port.
	Store interface {
		// RunTx runs fn atomically, retrying on write conflicts. When the
		// retry budget is exhausted it returns an error wrapping ErrConflict.
		// Any error returned by fn aborts the transaction without writes.
		RunTx(ctx context.Context, fn TxFunc) error

		// ResolveHousehold maps a user to its household.
		ResolveHousehold(ctx context.Context, userID string) (string, error)

		ListHouseholds(ctx context.Context) ([]string, error)
		ListMembers(ctx context.Context, householdID string) ([]core.Member, error)
		// ListExpenses returns the user's expenses dated in [from, to).
		ListExpenses(ctx context.Context, userID string, from, to time.Time) ([]core.Expense, error)

		// PutMonthlyReport creates or fully replaces the report for (household, month).
		PutMonthlyReport(ctx context.Context, r core.MonthlyReport) error
		GetMonthlyReport(ctx context.Context, householdID string, month core.MonthKey) (core.MonthlyReport, error)

		// LastJobRun returns the zero time when the job never ran.
		LastJobRun(ctx context.Context, job string) (time.Time, error)
		RecordJobRun(ctx context.Context, job string, at time.Time) error

		// PruneApplied drops idempotency keys committed before cutoff and
		// returns how many were removed. A redelivery older than the
		// retention window is no longer recognized as a duplicate.
		PruneApplied(ctx context.Context, cutoff time.Time) (int64, error)

		Close() error
	}

	// Seeder writes source documents directly, outside any transaction. It
	// backs tests and the `tallyctl seed` commands; the aggregate write path
	// goes through Tx instead.
	Seeder interface {
		SeedHousehold(ctx context.Context, h core.Household) error
		SeedMember(ctx context.Context, m core.Member) error
		SeedUser(ctx context.Context, userID, householdID string) error
		SeedCategory(ctx context.Context, c core.Category) error
		SeedExpense(ctx context.Context, e core.Expense) error
		DeleteHousehold(ctx context.Context, householdID string) error
	}
)
