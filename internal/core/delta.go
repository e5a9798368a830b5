package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ChangeKind classifies a before/after record pair.
type ChangeKind string

const (
	KindAdded     ChangeKind = "added"
	KindRemoved   ChangeKind = "removed"
	KindCompleted ChangeKind = "completed"
	KindUpdated   ChangeKind = "updated"
)

type (
	// TaskDelta is the normalized form of a task write.
	TaskDelta struct {
		Kind   ChangeKind
		Before *Task
		After  *Task
	}

	// ExpenseDelta is the normalized form of an expense write.
	ExpenseDelta struct {
		Kind       ChangeKind
		AmountDiff int64
		Before     *Expense
		After      *Expense
		postings   []Posting
	}

	// Posting is a signed adjustment to one category month bucket.
	Posting struct {
		CategoryID string
		Month      MonthKey
		Cents      int64
	}
)

// NormalizeTask classifies a task write. Only a done=false to done=true
// transition is reported as KindCompleted.
func NormalizeTask(before, after *Task) (TaskDelta, error) {
	d := TaskDelta{Before: before, After: after}
	switch {
	case before == nil && after == nil:
		return TaskDelta{}, fmt.Errorf("%w: task change without before or after state", ErrMalformedEvent)
	case before == nil:
		d.Kind = KindAdded
	case after == nil:
		d.Kind = KindRemoved
	case !before.Done && after.Done:
		d.Kind = KindCompleted
	default:
		d.Kind = KindUpdated
	}
	if after != nil {
		if err := after.Validate(); err != nil {
			return TaskDelta{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
	}
	return d, nil
}

// Task returns the most recent known state of the task.
func (d TaskDelta) Task() Task {
	if d.After != nil {
		return *d.After
	}
	if d.Before != nil {
		return *d.Before
	}
	return Task{}
}

// Credits reports whether the delta should credit the member and household.
func (d TaskDelta) Credits() bool {
	return d.Kind == KindCompleted
}

// Points returns the points credited by the delta, zero unless it credits.
func (d TaskDelta) Points() int64 {
	if !d.Credits() {
		return 0
	}
	return d.After.Points
}

// IdempotencyKey derives a stable key for applying this delta for eventID.
func (d TaskDelta) IdempotencyKey(eventID string) string {
	t := d.Task()
	return hashKey(eventID, "task", string(d.Kind), t.ID, strconv.FormatInt(d.Points(), 10))
}

// NormalizeExpense classifies an expense write and computes its amount
// difference. Month buckets are evaluated in loc.
func NormalizeExpense(before, after *Expense, loc *time.Location) (ExpenseDelta, error) {
	d := ExpenseDelta{Before: before, After: after}
	switch {
	case before == nil && after == nil:
		return ExpenseDelta{}, fmt.Errorf("%w: expense change without before or after state", ErrMalformedEvent)
	case before == nil:
		d.Kind = KindAdded
		d.AmountDiff = after.Amount.Cents
	case after == nil:
		d.Kind = KindRemoved
		d.AmountDiff = -before.Amount.Cents
	default:
		d.Kind = KindUpdated
		d.AmountDiff = after.Amount.Cents - before.Amount.Cents
	}
	for _, e := range []*Expense{before, after} {
		if e == nil {
			continue
		}
		if err := e.Validate(); err != nil {
			return ExpenseDelta{}, fmt.Errorf("%w: expense %s: %v", ErrMalformedEvent, e.ID, err)
		}
	}
	d.postings = expensePostings(d, loc)
	return d, nil
}

func expensePostings(d ExpenseDelta, loc *time.Location) []Posting {
	var out []Posting
	add := func(e *Expense, cents int64) {
		if cents == 0 {
			return
		}
		out = append(out, Posting{CategoryID: e.CategoryID, Month: MonthKeyOf(e.Date, loc), Cents: cents})
	}
	switch d.Kind {
	case KindAdded:
		add(d.After, d.After.Amount.Cents)
	case KindRemoved:
		add(d.Before, -d.Before.Amount.Cents)
	default:
		sameBucket := d.Before.CategoryID == d.After.CategoryID &&
			MonthKeyOf(d.Before.Date, loc) == MonthKeyOf(d.After.Date, loc)
		if sameBucket {
			add(d.After, d.AmountDiff)
			break
		}
		add(d.Before, -d.Before.Amount.Cents)
		add(d.After, d.After.Amount.Cents)
	}
	return out
}

// Postings returns the category month adjustments implied by the delta.
// Their sum always equals AmountDiff.
func (d ExpenseDelta) Postings() []Posting {
	return append([]Posting(nil), d.postings...)
}

// IsNoop reports whether applying the delta would change nothing. No
// transaction should be opened for a no-op.
func (d ExpenseDelta) IsNoop() bool {
	return len(d.postings) == 0
}

// Expense returns the most recent known state of the expense.
func (d ExpenseDelta) Expense() Expense {
	if d.After != nil {
		return *d.After
	}
	if d.Before != nil {
		return *d.Before
	}
	return Expense{}
}

// IdempotencyKey derives a stable key for applying this delta for eventID.
func (d ExpenseDelta) IdempotencyKey(eventID string) string {
	parts := []string{eventID, "expense", string(d.Kind), d.Expense().ID}
	for _, p := range d.postings {
		parts = append(parts, p.CategoryID, string(p.Month), strconv.FormatInt(p.Cents, 10))
	}
	return hashKey(parts...)
}

func hashKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}
