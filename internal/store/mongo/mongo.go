// Package mongo implements the document store on MongoDB. Aggregate
// transactions use multi-document transactions and therefore need a replica
// set or sharded cluster.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"tally/internal/core"
	"tally/internal/store"
)

const (
	householdsCollection = "households"
	membersCollection    = "members"
	usersCollection      = "users"
	expensesCollection   = "expenses"
	categoriesCollection = "categories"
	reportsCollection    = "monthly_reports"
	appliedCollection    = "applied_events"
	jobRunsCollection    = "job_runs"
)

type (
	householdDoc struct {
		ID                  string `bson:"_id"`
		TotalTasksCompleted int64  `bson:"totalTasksCompleted"`
		TotalPoints         int64  `bson:"totalPoints"`
	}

	memberDoc struct {
		ID                string     `bson:"_id"`
		HouseholdID       string     `bson:"householdId"`
		MemberID          string     `bson:"memberId"`
		TasksCompleted    int64      `bson:"tasksCompleted"`
		Points            int64      `bson:"points"`
		LastTaskCompleted *time.Time `bson:"lastTaskCompleted,omitempty"`
	}

	userDoc struct {
		ID          string `bson:"_id"`
		HouseholdID string `bson:"householdId"`
	}

	expenseDoc struct {
		ID          string    `bson:"_id"`
		UserID      string    `bson:"userId"`
		ExpenseID   string    `bson:"expenseId"`
		AmountCents int64     `bson:"amountCents"`
		CategoryID  string    `bson:"categoryId"`
		Date        time.Time `bson:"date"`
	}

	categoryDoc struct {
		ID                 string           `bson:"_id"`
		HouseholdID        string           `bson:"householdId"`
		CategoryID         string           `bson:"categoryId"`
		TotalExpensesCents int64            `bson:"totalExpensesCents"`
		MonthlyTotals      map[string]int64 `bson:"monthlyTotals"`
	}

	reportDoc struct {
		ID                 string           `bson:"_id"`
		HouseholdID        string           `bson:"householdId"`
		Month              string           `bson:"month"`
		TotalExpensesCents int64            `bson:"totalExpensesCents"`
		CategoryTotals     map[string]int64 `bson:"categoryTotals"`
		GeneratedAt        time.Time        `bson:"generatedAt"`
	}

	appliedDoc struct {
		Key       string    `bson:"_id"`
		AppliedAt time.Time `bson:"appliedAt"`
	}

	jobRunDoc struct {
		Job     string    `bson:"_id"`
		LastRun time.Time `bson:"lastRun"`
	}
)

type Store struct {
	client      *mongo.Client
	db          *mongo.Database
	maxAttempts int
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Seeder = (*Store)(nil)
)

// Open connects to uri and checks the connection.
func Open(ctx context.Context, uri, database string, maxAttempts int) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	if maxAttempts < 1 {
		maxAttempts = store.DefaultMaxAttempts
	}
	slog.Info("MongoDB store connected", "database", database)
	return &Store{client: client, db: client.Database(database), maxAttempts: maxAttempts}, nil
}

func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

func (s *Store) coll(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// isTransient reports whether the server labelled err as safe to retry.
func isTransient(err error) bool {
	var se mongo.ServerError
	if !errors.As(err, &se) {
		return false
	}
	return se.HasErrorLabel("TransientTransactionError") || se.HasErrorLabel("UnknownTransactionCommitResult")
}

// RunTx implements store.Store.
func (s *Store) RunTx(ctx context.Context, fn store.TxFunc) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(context.Background())

	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.New(writeconcern.WMajority()))

	return store.Retry(ctx, s.maxAttempts, isTransient, func() error {
		return mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
			if err := sess.StartTransaction(txOpts); err != nil {
				return fmt.Errorf("start transaction: %w", err)
			}
			if err := fn(sc, &mongoTx{s: s}); err != nil {
				_ = sess.AbortTransaction(context.Background())
				return err
			}
			if err := sess.CommitTransaction(sc); err != nil {
				_ = sess.AbortTransaction(context.Background())
				return fmt.Errorf("commit transaction: %w", err)
			}
			return nil
		})
	})
}

// mongoTx runs every operation with the session context handed to the TxFunc.
type mongoTx struct {
	s *Store
}

func (tx *mongoTx) GetHousehold(ctx context.Context, householdID string) (core.Household, error) {
	var d householdDoc
	if err := tx.s.findByID(ctx, householdsCollection, householdID, &d); err != nil {
		return core.Household{}, err
	}
	return core.Household{ID: d.ID, TotalTasksCompleted: d.TotalTasksCompleted, TotalPoints: d.TotalPoints}, nil
}

func (tx *mongoTx) GetMember(ctx context.Context, householdID, memberID string) (core.Member, error) {
	var d memberDoc
	if err := tx.s.findByID(ctx, membersCollection, memberKey(householdID, memberID), &d); err != nil {
		return core.Member{}, err
	}
	return memberFromDoc(d), nil
}

func (tx *mongoTx) GetCategory(ctx context.Context, householdID, categoryID string) (core.Category, error) {
	var d categoryDoc
	if err := tx.s.findByID(ctx, categoriesCollection, categoryKey(householdID, categoryID), &d); err != nil {
		return core.Category{}, err
	}
	c := core.Category{
		ID:            d.CategoryID,
		HouseholdID:   d.HouseholdID,
		TotalExpenses: core.Money{Cents: d.TotalExpensesCents},
		MonthlyTotals: make(map[core.MonthKey]core.Money, len(d.MonthlyTotals)),
	}
	for month, cents := range d.MonthlyTotals {
		c.MonthlyTotals[core.MonthKey(month)] = core.Money{Cents: cents}
	}
	return c, nil
}

func (tx *mongoTx) PutHousehold(ctx context.Context, h core.Household) error {
	return tx.s.replace(ctx, householdsCollection, h.ID, householdToDoc(h))
}

func (tx *mongoTx) PutMember(ctx context.Context, m core.Member) error {
	return tx.s.replace(ctx, membersCollection, memberKey(m.HouseholdID, m.ID), memberToDoc(m))
}

func (tx *mongoTx) PutCategory(ctx context.Context, c core.Category) error {
	return tx.s.replace(ctx, categoriesCollection, categoryKey(c.HouseholdID, c.ID), categoryToDoc(c))
}

func (tx *mongoTx) PutExpense(ctx context.Context, e core.Expense) error {
	if e.UserID == "" || e.ID == "" {
		return fmt.Errorf("put expense: %w", core.ErrEmptyIdentifier)
	}
	return tx.s.replace(ctx, expensesCollection, expenseKey(e.UserID, e.ID), expenseToDoc(e))
}

func (tx *mongoTx) DeleteExpense(ctx context.Context, userID, expenseID string) error {
	if userID == "" || expenseID == "" {
		return fmt.Errorf("delete expense: %w", core.ErrEmptyIdentifier)
	}
	id := expenseKey(userID, expenseID)
	if _, err := tx.s.coll(expensesCollection).DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete %s/%s: %w", expensesCollection, id, err)
	}
	return nil
}

func (tx *mongoTx) Applied(ctx context.Context, key string) (bool, error) {
	var d appliedDoc
	err := tx.s.findByID(ctx, appliedCollection, key, &d)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (tx *mongoTx) MarkApplied(ctx context.Context, key string, at time.Time) error {
	_, err := tx.s.coll(appliedCollection).InsertOne(ctx, appliedDoc{Key: key, AppliedAt: at.UTC()})
	return err
}

func (s *Store) findByID(ctx context.Context, collection, id string, out any) error {
	err := s.coll(collection).FindOne(ctx, bson.M{"_id": id}).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("find %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) replace(ctx context.Context, collection, id string, doc any) error {
	_, err := s.coll(collection).ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("replace %s/%s: %w", collection, id, err)
	}
	return nil
}

// ResolveHousehold implements store.Store.
func (s *Store) ResolveHousehold(ctx context.Context, userID string) (string, error) {
	var d userDoc
	if err := s.findByID(ctx, usersCollection, userID, &d); err != nil {
		return "", err
	}
	return d.HouseholdID, nil
}

func (s *Store) ListHouseholds(ctx context.Context) ([]string, error) {
	cursor, err := s.coll(householdsCollection).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("list households: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []householdDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode households: %w", err)
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, nil
}

func (s *Store) ListMembers(ctx context.Context, householdID string) ([]core.Member, error) {
	cursor, err := s.coll(membersCollection).Find(ctx, bson.M{"householdId": householdID},
		options.Find().SetSort(bson.D{{Key: "memberId", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", householdID, err)
	}
	defer cursor.Close(ctx)

	var docs []memberDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode members: %w", err)
	}
	members := make([]core.Member, len(docs))
	for i, d := range docs {
		members[i] = memberFromDoc(d)
	}
	return members, nil
}

func (s *Store) ListExpenses(ctx context.Context, userID string, from, to time.Time) ([]core.Expense, error) {
	filter := bson.M{
		"userId": userID,
		"date":   bson.M{"$gte": from.UTC(), "$lt": to.UTC()},
	}
	cursor, err := s.coll(expensesCollection).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "expenseId", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list expenses of %s: %w", userID, err)
	}
	defer cursor.Close(ctx)

	var docs []expenseDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode expenses: %w", err)
	}
	expenses := make([]core.Expense, len(docs))
	for i, d := range docs {
		expenses[i] = core.Expense{
			ID:         d.ExpenseID,
			UserID:     d.UserID,
			Amount:     core.Money{Cents: d.AmountCents},
			CategoryID: d.CategoryID,
			Date:       d.Date.UTC(),
		}
	}
	return expenses, nil
}

func (s *Store) PutMonthlyReport(ctx context.Context, r core.MonthlyReport) error {
	totals := make(map[string]int64, len(r.CategoryTotals))
	for id, m := range r.CategoryTotals {
		totals[id] = m.Cents
	}
	return s.replace(ctx, reportsCollection, reportKey(r.HouseholdID, r.Month), reportDoc{
		ID:                 reportKey(r.HouseholdID, r.Month),
		HouseholdID:        r.HouseholdID,
		Month:              string(r.Month),
		TotalExpensesCents: r.TotalExpenses.Cents,
		CategoryTotals:     totals,
		GeneratedAt:        r.GeneratedAt.UTC(),
	})
}

func (s *Store) GetMonthlyReport(ctx context.Context, householdID string, month core.MonthKey) (core.MonthlyReport, error) {
	var d reportDoc
	if err := s.findByID(ctx, reportsCollection, reportKey(householdID, month), &d); err != nil {
		return core.MonthlyReport{}, err
	}
	r := core.MonthlyReport{
		HouseholdID:    d.HouseholdID,
		Month:          core.MonthKey(d.Month),
		TotalExpenses:  core.Money{Cents: d.TotalExpensesCents},
		CategoryTotals: make(map[string]core.Money, len(d.CategoryTotals)),
		GeneratedAt:    d.GeneratedAt.UTC(),
	}
	for id, cents := range d.CategoryTotals {
		r.CategoryTotals[id] = core.Money{Cents: cents}
	}
	return r, nil
}

func (s *Store) LastJobRun(ctx context.Context, job string) (time.Time, error) {
	var d jobRunDoc
	err := s.findByID(ctx, jobRunsCollection, job, &d)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return d.LastRun.UTC(), nil
}

func (s *Store) RecordJobRun(ctx context.Context, job string, at time.Time) error {
	return s.replace(ctx, jobRunsCollection, job, jobRunDoc{Job: job, LastRun: at.UTC()})
}

func (s *Store) PruneApplied(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.coll(appliedCollection).DeleteMany(ctx, bson.M{"appliedAt": bson.M{"$lt": cutoff.UTC()}})
	if err != nil {
		return 0, fmt.Errorf("prune applied events: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *Store) SeedHousehold(ctx context.Context, h core.Household) error {
	return s.replace(ctx, householdsCollection, h.ID, householdToDoc(h))
}

func (s *Store) SeedMember(ctx context.Context, m core.Member) error {
	return s.replace(ctx, membersCollection, memberKey(m.HouseholdID, m.ID), memberToDoc(m))
}

func (s *Store) SeedUser(ctx context.Context, userID, householdID string) error {
	return s.replace(ctx, usersCollection, userID, userDoc{ID: userID, HouseholdID: householdID})
}

func (s *Store) SeedCategory(ctx context.Context, c core.Category) error {
	return s.replace(ctx, categoriesCollection, categoryKey(c.HouseholdID, c.ID), categoryToDoc(c))
}

func (s *Store) SeedExpense(ctx context.Context, e core.Expense) error {
	if e.UserID == "" || e.ID == "" {
		return fmt.Errorf("seed expense: %w", core.ErrEmptyIdentifier)
	}
	return s.replace(ctx, expensesCollection, expenseKey(e.UserID, e.ID), expenseToDoc(e))
}

func (s *Store) DeleteHousehold(ctx context.Context, householdID string) error {
	_, err := s.coll(householdsCollection).DeleteOne(ctx, bson.M{"_id": householdID})
	return err
}

func memberKey(householdID, memberID string) string {
	return householdID + "/" + memberID
}

func categoryKey(householdID, categoryID string) string {
	return householdID + "/" + categoryID
}

func expenseKey(userID, expenseID string) string {
	return userID + "/" + expenseID
}

func reportKey(householdID string, month core.MonthKey) string {
	return householdID + "/" + string(month)
}

func householdToDoc(h core.Household) householdDoc {
	return householdDoc{ID: h.ID, TotalTasksCompleted: h.TotalTasksCompleted, TotalPoints: h.TotalPoints}
}

func memberToDoc(m core.Member) memberDoc {
	d := memberDoc{
		ID:             memberKey(m.HouseholdID, m.ID),
		HouseholdID:    m.HouseholdID,
		MemberID:       m.ID,
		TasksCompleted: m.TasksCompleted,
		Points:         m.Points,
	}
	if m.LastTaskCompleted != nil {
		t := m.LastTaskCompleted.UTC()
		d.LastTaskCompleted = &t
	}
	return d
}

func memberFromDoc(d memberDoc) core.Member {
	m := core.Member{
		ID:             d.MemberID,
		HouseholdID:    d.HouseholdID,
		TasksCompleted: d.TasksCompleted,
		Points:         d.Points,
	}
	if d.LastTaskCompleted != nil {
		t := d.LastTaskCompleted.UTC()
		m.LastTaskCompleted = &t
	}
	return m
}

func expenseToDoc(e core.Expense) expenseDoc {
	return expenseDoc{
		ID:          expenseKey(e.UserID, e.ID),
		UserID:      e.UserID,
		ExpenseID:   e.ID,
		AmountCents: e.Amount.Cents,
		CategoryID:  e.CategoryID,
		Date:        e.Date.UTC(),
	}
}

func categoryToDoc(c core.Category) categoryDoc {
	totals := make(map[string]int64, len(c.MonthlyTotals))
	for month, m := range c.MonthlyTotals {
		totals[string(month)] = m.Cents
	}
	return categoryDoc{
		ID:                 categoryKey(c.HouseholdID, c.ID),
		HouseholdID:        c.HouseholdID,
		CategoryID:         c.ID,
		TotalExpensesCents: c.TotalExpenses.Cents,
		MonthlyTotals:      totals,
	}
}
