// Package services holds the aggregate updater, the monthly rollup
// compactor, its scheduler and the notification helpers.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tally/internal/core"
	"tally/internal/store"
)

// Outcome reports what applying a delta did.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeNoop      Outcome = "noop"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDuplicate Outcome = "duplicate"
)

type (
	// TaskRef locates a task document.
	TaskRef struct {
		HouseholdID string
		MemberID    string
		TaskID      string
	}

	// ExpenseRef locates an expense document.
	ExpenseRef struct {
		UserID    string
		ExpenseID string
	}
)

func (r TaskRef) Params() map[string]string {
	return map[string]string{"householdID": r.HouseholdID, "memberID": r.MemberID, "taskID": r.TaskID}
}

func (r ExpenseRef) Params() map[string]string {
	return map[string]string{"uid": r.UserID, "expId": r.ExpenseID}
}

// AggregateUpdater applies normalized deltas to the member, household and
// category running totals, each delta in exactly one store transaction.
type AggregateUpdater struct {
	store    store.Store
	resolver HouseholdResolver
	now      func() time.Time
}

func NewAggregateUpdater(st store.Store, resolver HouseholdResolver) *AggregateUpdater {
	if resolver == nil {
		resolver = st
	}
	return &AggregateUpdater{store: st, resolver: resolver, now: time.Now}
}

// WithClock replaces the commit time source.
func (u *AggregateUpdater) WithClock(now func() time.Time) *AggregateUpdater {
	u.now = now
	return u
}

// ApplyTaskDelta credits the member and household for a completed task.
// Other kinds are skipped without touching the store. With a non-empty
// eventID, a redelivered event is detected and reported as a duplicate.
func (u *AggregateUpdater) ApplyTaskDelta(ctx context.Context, ref TaskRef, d core.TaskDelta, eventID string) (Outcome, error) {
	if !d.Credits() {
		return OutcomeSkipped, nil
	}
	key := ""
	if eventID != "" {
		key = d.IdempotencyKey(eventID)
	}
	points := d.Points()

	var outcome Outcome
	err := u.store.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		outcome = OutcomeApplied
		dup, err := alreadyApplied(ctx, tx, key)
		if err != nil {
			return err
		}
		if dup {
			outcome = OutcomeDuplicate
			return nil
		}

		h, err := tx.GetHousehold(ctx, ref.HouseholdID)
		if err != nil {
			return targetError(err, store.HouseholdPath(ref.HouseholdID), ref.Params())
		}
		m, err := tx.GetMember(ctx, ref.HouseholdID, ref.MemberID)
		if err != nil {
			return targetError(err, store.MemberPath(ref.HouseholdID, ref.MemberID), ref.Params())
		}

		at := u.now()
		core.CreditTask(&h, &m, points, at)
		if err := tx.PutMember(ctx, m); err != nil {
			return fmt.Errorf("write member: %w", err)
		}
		if err := tx.PutHousehold(ctx, h); err != nil {
			return fmt.Errorf("write household: %w", err)
		}
		return markApplied(ctx, tx, key, at)
	})
	if err != nil {
		return "", txError(err)
	}

	slog.InfoContext(ctx, "Task delta applied",
		"component", "updater",
		"outcome", outcome,
		"household_id", ref.HouseholdID,
		"member_id", ref.MemberID,
		"task_id", ref.TaskID,
		"points", points)
	return outcome, nil
}

// ApplyExpenseDelta posts the delta to the category buckets of the user's
// household. A no-op delta returns OutcomeNoop without opening a transaction.
func (u *AggregateUpdater) ApplyExpenseDelta(ctx context.Context, ref ExpenseRef, d core.ExpenseDelta, eventID string) (Outcome, error) {
	if d.IsNoop() {
		return OutcomeNoop, nil
	}

	householdID, err := u.resolver.ResolveHousehold(ctx, ref.UserID)
	if err != nil {
		return "", targetError(err, store.UserPath(ref.UserID), ref.Params())
	}

	key := ""
	if eventID != "" {
		key = d.IdempotencyKey(eventID)
	}

	postings := d.Postings()
	var order []string
	byCategory := make(map[string][]core.Posting)
	for _, p := range postings {
		if _, seen := byCategory[p.CategoryID]; !seen {
			order = append(order, p.CategoryID)
		}
		byCategory[p.CategoryID] = append(byCategory[p.CategoryID], p)
	}

	var outcome Outcome
	err = u.store.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		outcome = OutcomeApplied
		dup, err := alreadyApplied(ctx, tx, key)
		if err != nil {
			return err
		}
		if dup {
			outcome = OutcomeDuplicate
			return nil
		}

		categories := make([]core.Category, 0, len(order))
		for _, categoryID := range order {
			c, err := tx.GetCategory(ctx, householdID, categoryID)
			if err != nil {
				params := ref.Params()
				params["householdID"] = householdID
				params["categoryID"] = categoryID
				return targetError(err, store.CategoryPath(householdID, categoryID), params)
			}
			for _, p := range byCategory[categoryID] {
				c.Add(p.Month, p.Cents)
			}
			categories = append(categories, c)
		}
		for _, c := range categories {
			if err := tx.PutCategory(ctx, c); err != nil {
				return fmt.Errorf("write category %s: %w", c.ID, err)
			}
		}
		if err := syncExpense(ctx, tx, ref, d); err != nil {
			return err
		}
		return markApplied(ctx, tx, key, u.now())
	})
	if err != nil {
		return "", txError(err)
	}

	slog.InfoContext(ctx, "Expense delta applied",
		"component", "updater",
		"outcome", outcome,
		"household_id", householdID,
		"user_id", ref.UserID,
		"expense_id", ref.ExpenseID,
		"kind", d.Kind,
		"amount_cents", d.AmountDiff)
	return outcome, nil
}

// syncExpense keeps the stored expense in step with the category totals it
// was posted to; the monthly compactor reads expenses, not categories.
func syncExpense(ctx context.Context, tx store.Tx, ref ExpenseRef, d core.ExpenseDelta) error {
	if d.Kind == core.KindRemoved || d.After == nil {
		if err := tx.DeleteExpense(ctx, ref.UserID, ref.ExpenseID); err != nil {
			return fmt.Errorf("delete expense %s: %w", ref.ExpenseID, err)
		}
		return nil
	}
	e := *d.After
	if e.UserID == "" {
		e.UserID = ref.UserID
	}
	if e.ID == "" {
		e.ID = ref.ExpenseID
	}
	if err := tx.PutExpense(ctx, e); err != nil {
		return fmt.Errorf("write expense %s: %w", e.ID, err)
	}
	return nil
}

func alreadyApplied(ctx context.Context, tx store.Tx, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	ok, err := tx.Applied(ctx, key)
	if err != nil {
		return false, fmt.Errorf("check idempotency key: %w", err)
	}
	return ok, nil
}

func markApplied(ctx context.Context, tx store.Tx, key string, at time.Time) error {
	if key == "" {
		return nil
	}
	if err := tx.MarkApplied(ctx, key, at); err != nil {
		return fmt.Errorf("record idempotency key: %w", err)
	}
	return nil
}

// targetError turns a not-found read into a missing-target error carrying
// the document path and routing parameters.
func targetError(err error, path string, params map[string]string) error {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, core.ErrMissingAggregateTarget) {
		return core.MissingTarget(path, params)
	}
	return fmt.Errorf("read %s: %w", path, err)
}

func txError(err error) error {
	if errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("%w: %v", core.ErrTransactionConflict, err)
	}
	return err
}
