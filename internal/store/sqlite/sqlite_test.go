package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tally/internal/core"
	"tally/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "tally.db"), 20)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRunsMigrationsTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tally.db")
	for i := 0; i < 2; i++ {
		s, err := Open(path, 0)
		if err != nil {
			t.Fatalf("Open() #%d error = %v", i+1, err)
		}
		s.Close()
	}
}

func TestRunTxRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_ = s.SeedHousehold(ctx, core.Household{ID: "h1"})
	_ = s.SeedMember(ctx, core.Member{ID: "m1", HouseholdID: "h1"})
	_ = s.SeedCategory(ctx, core.Category{ID: "food", HouseholdID: "h1"})

	at := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	err := s.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		h, err := tx.GetHousehold(ctx, "h1")
		if err != nil {
			return err
		}
		m, err := tx.GetMember(ctx, "h1", "m1")
		if err != nil {
			return err
		}
		c, err := tx.GetCategory(ctx, "h1", "food")
		if err != nil {
			return err
		}
		core.CreditTask(&h, &m, 3, at)
		c.Add("2024-03", 500)
		if err := tx.PutHousehold(ctx, h); err != nil {
			return err
		}
		if err := tx.PutMember(ctx, m); err != nil {
			return err
		}
		if err := tx.PutCategory(ctx, c); err != nil {
			return err
		}
		return tx.MarkApplied(ctx, "evt-1", at)
	})
	if err != nil {
		t.Fatalf("RunTx() error = %v", err)
	}

	err = s.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		h, _ := tx.GetHousehold(ctx, "h1")
		if h.TotalPoints != 3 || h.TotalTasksCompleted != 1 {
			t.Errorf("household = %+v", h)
		}
		m, _ := tx.GetMember(ctx, "h1", "m1")
		if m.LastTaskCompleted == nil || !m.LastTaskCompleted.Equal(at) {
			t.Errorf("member = %+v", m)
		}
		c, _ := tx.GetCategory(ctx, "h1", "food")
		if c.TotalExpenses.Cents != 500 || c.MonthTotal("2024-03").Cents != 500 {
			t.Errorf("category = %+v", c)
		}
		ok, err := tx.Applied(ctx, "evt-1")
		if err != nil || !ok {
			t.Errorf("Applied(evt-1) = %v, %v", ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRunTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_ = s.SeedHousehold(ctx, core.Household{ID: "h1"})

	boom := errors.New("boom")
	err := s.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.PutHousehold(ctx, core.Household{ID: "h1", TotalPoints: 50}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	_ = s.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		h, _ := tx.GetHousehold(ctx, "h1")
		if h.TotalPoints != 0 {
			t.Errorf("rolled back write visible: %+v", h)
		}
		return nil
	})
}

func TestMissingDocumentsAreNotFound(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_ = s.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetHousehold(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("GetHousehold: %v", err)
		}
		if _, err := tx.GetMember(ctx, "nope", "m"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("GetMember: %v", err)
		}
		if _, err := tx.GetCategory(ctx, "nope", "c"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("GetCategory: %v", err)
		}
		return nil
	})
	if _, err := s.ResolveHousehold(ctx, "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("ResolveHousehold: %v", err)
	}
	if _, err := s.GetMonthlyReport(ctx, "h1", "2024-03"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetMonthlyReport: %v", err)
	}
	last, err := s.LastJobRun(ctx, "monthly_rollup")
	if err != nil || !last.IsZero() {
		t.Errorf("LastJobRun = %v, %v", last, err)
	}
}

func TestConcurrentTransactionsSerialize(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_ = s.SeedHousehold(ctx, core.Household{ID: "h1"})

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
				h, err := tx.GetHousehold(ctx, "h1")
				if err != nil {
					return err
				}
				h.TotalPoints += 2
				return tx.PutHousehold(ctx, h)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("RunTx() error = %v", err)
		}
	}

	_ = s.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		h, _ := tx.GetHousehold(ctx, "h1")
		if h.TotalPoints != 2*workers {
			t.Errorf("total = %d, want %d", h.TotalPoints, 2*workers)
		}
		return nil
	})
}

func TestExpensesAndReports(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_ = s.SeedHousehold(ctx, core.Household{ID: "h2"})
	_ = s.SeedHousehold(ctx, core.Household{ID: "h1"})
	_ = s.SeedUser(ctx, "u1", "h1")
	_ = s.SeedMember(ctx, core.Member{ID: "u1", HouseholdID: "h1"})

	march := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	_ = s.SeedExpense(ctx, core.Expense{ID: "e1", UserID: "u1", Amount: core.Money{Cents: 500}, CategoryID: "food", Date: march.Add(36 * time.Hour)})
	_ = s.SeedExpense(ctx, core.Expense{ID: "e2", UserID: "u1", Amount: core.Money{Cents: 300}, CategoryID: "rent", Date: march.AddDate(0, 1, 0)})

	ids, err := s.ListHouseholds(ctx)
	if err != nil || len(ids) != 2 || ids[0] != "h1" {
		t.Fatalf("ListHouseholds = %v, %v", ids, err)
	}
	hh, err := s.ResolveHousehold(ctx, "u1")
	if err != nil || hh != "h1" {
		t.Fatalf("ResolveHousehold = %q, %v", hh, err)
	}
	members, err := s.ListMembers(ctx, "h1")
	if err != nil || len(members) != 1 {
		t.Fatalf("ListMembers = %+v, %v", members, err)
	}

	got, err := s.ListExpenses(ctx, "u1", march, march.AddDate(0, 1, 0))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "e1" || got[0].Amount.Cents != 500 {
		t.Fatalf("ListExpenses = %+v", got)
	}

	generated := time.Date(2024, 4, 1, 0, 5, 0, 0, time.UTC)
	report := core.MonthlyReport{
		HouseholdID:    "h1",
		Month:          "2024-03",
		TotalExpenses:  core.Money{Cents: 500},
		CategoryTotals: map[string]core.Money{"food": {Cents: 500}},
		GeneratedAt:    generated,
	}
	if err := s.PutMonthlyReport(ctx, report); err != nil {
		t.Fatal(err)
	}
	report.CategoryTotals = map[string]core.Money{"food": {Cents: 200}, "rent": {Cents: 300}}
	if err := s.PutMonthlyReport(ctx, report); err != nil {
		t.Fatal(err)
	}
	r, err := s.GetMonthlyReport(ctx, "h1", "2024-03")
	if err != nil {
		t.Fatal(err)
	}
	if len(r.CategoryTotals) != 2 || r.CategoryTotals["rent"].Cents != 300 || !r.GeneratedAt.Equal(generated) {
		t.Fatalf("report = %+v", r)
	}

	if err := s.RecordJobRun(ctx, "monthly_rollup", generated); err != nil {
		t.Fatal(err)
	}
	last, err := s.LastJobRun(ctx, "monthly_rollup")
	if err != nil || !last.Equal(generated) {
		t.Fatalf("LastJobRun = %v, %v", last, err)
	}
}

func TestTxExpenseWritesAndPrune(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	march := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	e := core.Expense{ID: "e1", UserID: "u1", Amount: core.Money{Cents: 400}, CategoryID: "food", Date: march.Add(time.Hour)}

	listMarch := func() []core.Expense {
		t.Helper()
		got, err := s.ListExpenses(ctx, "u1", march, march.AddDate(0, 1, 0))
		if err != nil {
			t.Fatal(err)
		}
		return got
	}

	if err := s.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.PutExpense(ctx, e); err != nil {
			return err
		}
		return tx.MarkApplied(ctx, "old", march)
	}); err != nil {
		t.Fatal(err)
	}
	if got := listMarch(); len(got) != 1 || got[0].Amount.Cents != 400 {
		t.Fatalf("after put: %+v", got)
	}

	if err := s.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.DeleteExpense(ctx, "u1", "e1"); err != nil {
			return err
		}
		return tx.MarkApplied(ctx, "new", march.AddDate(0, 1, 0))
	}); err != nil {
		t.Fatal(err)
	}
	if got := listMarch(); len(got) != 0 {
		t.Fatalf("after delete: %+v", got)
	}

	n, err := s.PruneApplied(ctx, march.AddDate(0, 0, 7))
	if err != nil || n != 1 {
		t.Fatalf("PruneApplied() = %d, %v; want 1", n, err)
	}
	_ = s.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if ok, _ := tx.Applied(ctx, "old"); ok {
			t.Error("old key survived prune")
		}
		if ok, _ := tx.Applied(ctx, "new"); !ok {
			t.Error("new key pruned")
		}
		return nil
	})
}

func TestIsBusy(t *testing.T) {
	if isBusy(errors.New("database is locked")) {
		t.Error("plain errors are not SQLite busy errors")
	}
	if isBusy(nil) {
		t.Error("nil is not busy")
	}
}
