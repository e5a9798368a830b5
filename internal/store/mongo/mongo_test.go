package mongo

import (
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"tally/internal/core"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"transient", mongo.CommandError{Code: 112, Labels: []string{"TransientTransactionError"}}, true},
		{"unknown commit", mongo.CommandError{Code: 50, Labels: []string{"UnknownTransactionCommitResult"}}, true},
		{"unlabelled command error", mongo.CommandError{Code: 11000}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTransient(tt.err); got != tt.want {
				t.Errorf("isTransient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDocumentMapping(t *testing.T) {
	at := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	m := core.Member{ID: "m1", HouseholdID: "h1", TasksCompleted: 2, Points: 7, LastTaskCompleted: &at}
	d := memberToDoc(m)
	if d.ID != "h1/m1" {
		t.Fatalf("member key = %q", d.ID)
	}
	back := memberFromDoc(d)
	if back.ID != "m1" || back.Points != 7 || !back.LastTaskCompleted.Equal(at) {
		t.Fatalf("member round trip = %+v", back)
	}

	c := core.Category{ID: "food", HouseholdID: "h1", TotalExpenses: core.Money{Cents: 800},
		MonthlyTotals: map[core.MonthKey]core.Money{"2024-03": {Cents: 800}}}
	cd := categoryToDoc(c)
	if cd.ID != "h1/food" || cd.MonthlyTotals["2024-03"] != 800 {
		t.Fatalf("category doc = %+v", cd)
	}

	e := core.Expense{ID: "e1", UserID: "u1", Amount: core.Money{Cents: 250}, CategoryID: "food", Date: at}
	ed := expenseToDoc(e)
	if ed.ID != "u1/e1" || ed.ExpenseID != "e1" || ed.AmountCents != 250 {
		t.Fatalf("expense doc = %+v", ed)
	}
}
