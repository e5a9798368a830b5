package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tally/internal/core"
)

type published struct {
	topic string
	n     core.Notification
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (d *recordingDispatcher) Publish(_ context.Context, topic string, n core.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, published{topic: topic, n: n})
	return nil
}

func (d *recordingDispatcher) topics() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.sent))
	for i, p := range d.sent {
		out[i] = p.topic
	}
	return out
}

func TestTaskNotification(t *testing.T) {
	tests := []struct {
		kind      core.ChangeKind
		wantTitle string
		wantBody  string
	}{
		{core.KindAdded, "Task added", "A task was added in your household."},
		{core.KindCompleted, "Task completed", "A task was completed in your household."},
		{core.KindRemoved, "Task removed", "A task was removed in your household."},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			n := TaskNotification(tt.kind, "t1", "m1")
			if n.Title != tt.wantTitle || n.Body != tt.wantBody {
				t.Errorf("got %q / %q", n.Title, n.Body)
			}
			if n.Data["action"] != string(tt.kind) || n.Data["taskId"] != "t1" || n.Data["memberId"] != "m1" {
				t.Errorf("data = %v", n.Data)
			}
		})
	}
}

func TestExpenseNotification(t *testing.T) {
	n := ExpenseNotification(core.Expense{ID: "e1", Amount: core.Money{Cents: 500}, CategoryID: "food"})
	if n.Title != "New Expense" {
		t.Errorf("title = %q", n.Title)
	}
	if n.Body != "$5.00 spent on food." {
		t.Errorf("body = %q", n.Body)
	}
	if n.Data["expenseId"] != "e1" {
		t.Errorf("data = %v", n.Data)
	}
}

func TestMonthlyReportNotification(t *testing.T) {
	n := MonthlyReportNotification(core.MonthlyReport{
		HouseholdID:   "h1",
		Month:         "2024-03",
		TotalExpenses: core.Money{Cents: 123456},
		GeneratedAt:   time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	if n.Body != "Your household spent $1234.56 in March 2024." {
		t.Errorf("body = %q", n.Body)
	}
	if n.Data["month"] != "2024-03" || n.Data["total"] != "1234.56" {
		t.Errorf("data = %v", n.Data)
	}
}

func TestNotifyIsBestEffort(t *testing.T) {
	ctx := context.Background()

	// Must not panic on a nil dispatcher or an empty topic.
	Notify(ctx, nil, "h1", core.Notification{Title: "x"})

	d := &recordingDispatcher{}
	Notify(ctx, d, "", core.Notification{Title: "x"})
	if len(d.topics()) != 0 {
		t.Error("published without a topic")
	}

	Notify(ctx, d, "h1", core.Notification{Title: "x"})
	if got := d.topics(); len(got) != 1 || got[0] != "h1" {
		t.Errorf("topics = %v", got)
	}

	failing := &recordingDispatcher{err: errors.New("broker down")}
	Notify(ctx, failing, "h1", core.Notification{Title: "x"})
}
