package services

import (
	"context"
	"fmt"
	"log/slog"

	"tally/internal/core"
)

// Dispatcher fans a notification out to every subscriber of topic. Topics
// are household IDs. Delivery is best effort.
type Dispatcher interface {
	Publish(ctx context.Context, topic string, n core.Notification) error
}

// NopDispatcher drops every notification.
type NopDispatcher struct{}

func (NopDispatcher) Publish(context.Context, string, core.Notification) error { return nil }

// TaskNotification describes a task change of the given kind.
func TaskNotification(kind core.ChangeKind, taskID, memberID string) core.Notification {
	return core.Notification{
		Title: fmt.Sprintf("Task %s", kind),
		Body:  fmt.Sprintf("A task was %s in your household.", kind),
		Data: map[string]string{
			"type":     "task",
			"action":   string(kind),
			"taskId":   taskID,
			"memberId": memberID,
		},
	}
}

// ExpenseNotification announces a newly recorded expense.
func ExpenseNotification(e core.Expense) core.Notification {
	return core.Notification{
		Title: "New Expense",
		Body:  fmt.Sprintf("%s spent on %s.", e.Amount.Format(), e.CategoryID),
		Data: map[string]string{
			"type":       "expense",
			"expenseId":  e.ID,
			"categoryId": e.CategoryID,
		},
	}
}

// MonthlyReportNotification announces a freshly written monthly report.
func MonthlyReportNotification(r core.MonthlyReport) core.Notification {
	return core.Notification{
		Title: "Monthly report",
		Body:  fmt.Sprintf("Your household spent %s in %s.", r.TotalExpenses.Format(), r.Month.Label()),
		Data: map[string]string{
			"type":  "monthly_report",
			"month": string(r.Month),
			"total": r.TotalExpenses.Decimal().StringFixed(2),
		},
	}
}

// Notify publishes n and logs failures. It never returns an error so callers
// cannot let a notification outcome change theirs.
func Notify(ctx context.Context, d Dispatcher, householdID string, n core.Notification) {
	if d == nil || householdID == "" {
		return
	}
	if err := d.Publish(ctx, householdID, n); err != nil {
		slog.WarnContext(ctx, "Notification dispatch failed",
			"component", "notifier",
			"household_id", householdID,
			"title", n.Title,
			"error", err)
	}
}
