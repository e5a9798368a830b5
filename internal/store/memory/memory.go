// Package memory is an in-process document store with optimistic
// concurrency: transactions record the version of every document they read
// and commit only if none of those versions changed in the meantime.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tally/internal/core"
	"tally/internal/store"
)

var errStale = errors.New("stale read set")

type doc struct {
	version uint64
	value   any
}

type reportKey struct {
	householdID string
	month       core.MonthKey
}

type Store struct {
	mu          sync.Mutex
	seq         uint64
	docs        map[string]doc
	users       map[string]string
	expenses    map[string]map[string]core.Expense
	reports     map[reportKey]core.MonthlyReport
	jobs        map[string]time.Time
	maxAttempts int

	hookMu   sync.Mutex
	readHook func(path string)
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Seeder = (*Store)(nil)
)

func New(maxAttempts int) *Store {
	if maxAttempts < 1 {
		maxAttempts = store.DefaultMaxAttempts
	}
	return &Store{
		docs:        make(map[string]doc),
		users:       make(map[string]string),
		expenses:    make(map[string]map[string]core.Expense),
		reports:     make(map[reportKey]core.MonthlyReport),
		jobs:        make(map[string]time.Time),
		maxAttempts: maxAttempts,
	}
}

// SetReadHook installs fn to be called after every transactional read,
// outside the store lock. Tests use it to interleave concurrent writers.
func (s *Store) SetReadHook(fn func(path string)) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.readHook = fn
}

func (s *Store) Close() error { return nil }

// RunTx implements store.Store.
func (s *Store) RunTx(ctx context.Context, fn store.TxFunc) error {
	return store.Retry(ctx, s.maxAttempts, func(err error) bool { return errors.Is(err, errStale) }, func() error {
		tx := &memTx{
			s:        s,
			reads:    make(map[string]uint64),
			writes:   make(map[string]any),
			expenses: make(map[expenseKey]*core.Expense),
		}
		if err := fn(ctx, tx); err != nil {
			// An error derived from an inconsistent view is retried like a conflict.
			if s.validate(tx) != nil {
				return errStale
			}
			return err
		}
		return s.commit(tx)
	})
}

func (s *Store) validate(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validateLocked(tx)
}

func (s *Store) validateLocked(tx *memTx) error {
	for path, version := range tx.reads {
		if s.docs[path].version != version {
			return errStale
		}
	}
	return nil
}

func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validateLocked(tx); err != nil {
		return err
	}
	for path, v := range tx.writes {
		s.putLocked(path, v)
	}
	for k, e := range tx.expenses {
		if e == nil {
			delete(s.expenses[k.userID], k.expenseID)
			continue
		}
		s.putExpenseLocked(*e)
	}
	return nil
}

func (s *Store) putExpenseLocked(e core.Expense) {
	if s.expenses[e.UserID] == nil {
		s.expenses[e.UserID] = make(map[string]core.Expense)
	}
	s.expenses[e.UserID][e.ID] = e
}

func (s *Store) putLocked(path string, v any) {
	s.seq++
	s.docs[path] = doc{version: s.seq, value: v}
}

func (s *Store) read(path string) (any, uint64) {
	s.mu.Lock()
	d, ok := s.docs[path]
	s.mu.Unlock()

	s.hookMu.Lock()
	hook := s.readHook
	s.hookMu.Unlock()
	if hook != nil {
		hook(path)
	}

	if !ok {
		return nil, 0
	}
	return d.value, d.version
}

type expenseKey struct {
	userID, expenseID string
}

type memTx struct {
	s      *Store
	reads  map[string]uint64
	writes map[string]any
	// expenses holds staged expense writes; nil deletes.
	expenses map[expenseKey]*core.Expense
}

func (tx *memTx) get(path string) (any, bool) {
	if v, ok := tx.writes[path]; ok {
		return v, true
	}
	v, version := tx.s.read(path)
	if _, seen := tx.reads[path]; !seen {
		tx.reads[path] = version
	}
	return v, v != nil
}

func (tx *memTx) GetHousehold(_ context.Context, householdID string) (core.Household, error) {
	v, ok := tx.get(store.HouseholdPath(householdID))
	if !ok {
		return core.Household{}, store.ErrNotFound
	}
	return v.(core.Household), nil
}

func (tx *memTx) GetMember(_ context.Context, householdID, memberID string) (core.Member, error) {
	v, ok := tx.get(store.MemberPath(householdID, memberID))
	if !ok {
		return core.Member{}, store.ErrNotFound
	}
	return cloneMember(v.(core.Member)), nil
}

func (tx *memTx) GetCategory(_ context.Context, householdID, categoryID string) (core.Category, error) {
	v, ok := tx.get(store.CategoryPath(householdID, categoryID))
	if !ok {
		return core.Category{}, store.ErrNotFound
	}
	return cloneCategory(v.(core.Category)), nil
}

func (tx *memTx) PutHousehold(_ context.Context, h core.Household) error {
	tx.writes[store.HouseholdPath(h.ID)] = h
	return nil
}

func (tx *memTx) PutMember(_ context.Context, m core.Member) error {
	tx.writes[store.MemberPath(m.HouseholdID, m.ID)] = cloneMember(m)
	return nil
}

func (tx *memTx) PutCategory(_ context.Context, c core.Category) error {
	tx.writes[store.CategoryPath(c.HouseholdID, c.ID)] = cloneCategory(c)
	return nil
}

func (tx *memTx) PutExpense(_ context.Context, e core.Expense) error {
	if e.UserID == "" || e.ID == "" {
		return fmt.Errorf("put expense: %w", core.ErrEmptyIdentifier)
	}
	tx.expenses[expenseKey{e.UserID, e.ID}] = &e
	return nil
}

func (tx *memTx) DeleteExpense(_ context.Context, userID, expenseID string) error {
	if userID == "" || expenseID == "" {
		return fmt.Errorf("delete expense: %w", core.ErrEmptyIdentifier)
	}
	tx.expenses[expenseKey{userID, expenseID}] = nil
	return nil
}

const appliedPrefix = "applied/"

func appliedPath(key string) string {
	return appliedPrefix + key
}

func (tx *memTx) Applied(_ context.Context, key string) (bool, error) {
	_, ok := tx.get(appliedPath(key))
	return ok, nil
}

func (tx *memTx) MarkApplied(_ context.Context, key string, at time.Time) error {
	tx.writes[appliedPath(key)] = at
	return nil
}

// ResolveHousehold implements store.Store.
func (s *Store) ResolveHousehold(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.users[userID]
	if !ok {
		return "", store.ErrNotFound
	}
	return h, nil
}

func (s *Store) ListHouseholds(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for path := range s.docs {
		rest, ok := strings.CutPrefix(path, "household/")
		if ok && !strings.Contains(rest, "/") {
			ids = append(ids, rest)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) ListMembers(_ context.Context, householdID string) ([]core.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := store.MemberPath(householdID, "")
	var members []core.Member
	for path, d := range s.docs {
		if strings.HasPrefix(path, prefix) && !strings.Contains(path[len(prefix):], "/") {
			members = append(members, cloneMember(d.value.(core.Member)))
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return members, nil
}

func (s *Store) ListExpenses(_ context.Context, userID string, from, to time.Time) ([]core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Expense
	for _, e := range s.expenses[userID] {
		if !e.Date.Before(from) && e.Date.Before(to) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

func (s *Store) PutMonthlyReport(_ context.Context, r core.MonthlyReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[reportKey{r.HouseholdID, r.Month}] = cloneReport(r)
	return nil
}

func (s *Store) GetMonthlyReport(_ context.Context, householdID string, month core.MonthKey) (core.MonthlyReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[reportKey{householdID, month}]
	if !ok {
		return core.MonthlyReport{}, store.ErrNotFound
	}
	return cloneReport(r), nil
}

func (s *Store) LastJobRun(_ context.Context, job string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[job], nil
}

func (s *Store) RecordJobRun(_ context.Context, job string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job] = at
	return nil
}

func (s *Store) PruneApplied(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for path, d := range s.docs {
		if !strings.HasPrefix(path, appliedPrefix) {
			continue
		}
		if at, ok := d.value.(time.Time); ok && at.Before(cutoff) {
			delete(s.docs, path)
			n++
		}
	}
	return n, nil
}

// Seeder

func (s *Store) SeedHousehold(_ context.Context, h core.Household) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(store.HouseholdPath(h.ID), h)
	return nil
}

func (s *Store) SeedMember(_ context.Context, m core.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(store.MemberPath(m.HouseholdID, m.ID), cloneMember(m))
	return nil
}

func (s *Store) SeedUser(_ context.Context, userID, householdID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = householdID
	return nil
}

func (s *Store) SeedCategory(_ context.Context, c core.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(store.CategoryPath(c.HouseholdID, c.ID), cloneCategory(c))
	return nil
}

func (s *Store) SeedExpense(_ context.Context, e core.Expense) error {
	if e.UserID == "" || e.ID == "" {
		return fmt.Errorf("seed expense: %w", core.ErrEmptyIdentifier)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putExpenseLocked(e)
	return nil
}

// DeleteHousehold removes the household document only; members and
// categories are left in place, as a partially deleted tree would be.
func (s *Store) DeleteHousehold(_ context.Context, householdID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, store.HouseholdPath(householdID))
	return nil
}

func cloneMember(m core.Member) core.Member {
	if m.LastTaskCompleted != nil {
		t := *m.LastTaskCompleted
		m.LastTaskCompleted = &t
	}
	return m
}

func cloneCategory(c core.Category) core.Category {
	if c.MonthlyTotals != nil {
		totals := make(map[core.MonthKey]core.Money, len(c.MonthlyTotals))
		for k, v := range c.MonthlyTotals {
			totals[k] = v
		}
		c.MonthlyTotals = totals
	}
	return c
}

func cloneReport(r core.MonthlyReport) core.MonthlyReport {
	if r.CategoryTotals != nil {
		totals := make(map[string]core.Money, len(r.CategoryTotals))
		for k, v := range r.CategoryTotals {
			totals[k] = v
		}
		r.CategoryTotals = totals
	}
	return r
}
