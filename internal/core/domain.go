package core

import (
	"errors"
	"strings"
	"time"
)

type (
	Money struct {
		Cents int64
	}

	Household struct {
		ID                  string
		TotalTasksCompleted int64
		TotalPoints         int64
	}

	Member struct {
		ID                string
		HouseholdID       string
		TasksCompleted    int64
		Points            int64
		LastTaskCompleted *time.Time
	}

	Task struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Done   bool   `json:"done"`
		Points int64  `json:"points"`
	}

	Expense struct {
		ID         string    `json:"id"`
		UserID     string    `json:"userId"`
		Amount     Money     `json:"amount"`
		CategoryID string    `json:"categoryId"`
		Date       time.Time `json:"date"`
	}

	Category struct {
		ID            string
		HouseholdID   string
		TotalExpenses Money
		MonthlyTotals map[MonthKey]Money
	}

	MonthlyReport struct {
		HouseholdID    string
		Month          MonthKey
		TotalExpenses  Money
		CategoryTotals map[string]Money
		GeneratedAt    time.Time
	}

	// Notification is the payload fanned out to a household topic.
	Notification struct {
		Title string            `json:"title"`
		Body  string            `json:"body"`
		Data  map[string]string `json:"data,omitempty"`
	}
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidPoints   = errors.New("invalid points")
	ErrEmptyCategory   = errors.New("empty category")
	ErrEmptyIdentifier = errors.New("empty identifier")
)

func (m Money) Validate() error {
	if m.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (t Task) Validate() error {
	if t.Points < 0 {
		return ErrInvalidPoints
	}
	return nil
}

func (e Expense) Validate() error {
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.CategoryID) == "" {
		return ErrEmptyCategory
	}
	if e.Date.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

// MonthTotal returns the running total for month, zero when absent.
func (c Category) MonthTotal(month MonthKey) Money {
	if c.MonthlyTotals == nil {
		return Money{}
	}
	return c.MonthlyTotals[month]
}

// Add applies a signed cents adjustment to the category total and the month bucket.
func (c *Category) Add(month MonthKey, cents int64) {
	if c.MonthlyTotals == nil {
		c.MonthlyTotals = make(map[MonthKey]Money)
	}
	c.TotalExpenses.Cents += cents
	c.MonthlyTotals[month] = Money{Cents: c.MonthlyTotals[month].Cents + cents}
}

// CreditTask records a completed task against the member and its household.
func CreditTask(h *Household, m *Member, points int64, at time.Time) {
	m.TasksCompleted++
	m.Points += points
	completed := at
	m.LastTaskCompleted = &completed

	h.TotalTasksCompleted++
	h.TotalPoints += points
}
