package sqlite

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type HouseholdRow struct {
	ID                  string
	TotalTasksCompleted int64
	TotalPoints         int64
}

type MemberRow struct {
	HouseholdID       string
	ID                string
	TasksCompleted    int64
	Points            int64
	LastTaskCompleted sql.NullInt64
}

type ExpenseRow struct {
	UserID      string
	ID          string
	AmountCents int64
	CategoryID  string
	DateUnixNs  int64
}

type MonthlyTotalRow struct {
	Month       string
	AmountCents int64
}

type ReportRow struct {
	HouseholdID        string
	Month              string
	TotalExpensesCents int64
	CategoryTotals     string
	GeneratedAt        int64
}

const getHousehold = `SELECT id, total_tasks_completed, total_points FROM households WHERE id = ?`

func (q *Queries) GetHousehold(ctx context.Context, id string) (HouseholdRow, error) {
	row := q.db.QueryRowContext(ctx, getHousehold, id)
	var i HouseholdRow
	err := row.Scan(&i.ID, &i.TotalTasksCompleted, &i.TotalPoints)
	return i, err
}

const upsertHousehold = `INSERT INTO households (id, total_tasks_completed, total_points) VALUES (?, ?, ?)
ON CONFLICT (id) DO UPDATE SET total_tasks_completed = excluded.total_tasks_completed, total_points = excluded.total_points`

func (q *Queries) UpsertHousehold(ctx context.Context, arg HouseholdRow) error {
	_, err := q.db.ExecContext(ctx, upsertHousehold, arg.ID, arg.TotalTasksCompleted, arg.TotalPoints)
	return err
}

const deleteHousehold = `DELETE FROM households WHERE id = ?`

func (q *Queries) DeleteHousehold(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, deleteHousehold, id)
	return err
}

const listHouseholdIDs = `SELECT id FROM households ORDER BY id`

func (q *Queries) ListHouseholdIDs(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listHouseholdIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	return items, rows.Err()
}

const getMember = `SELECT household_id, id, tasks_completed, points, last_task_completed
FROM members WHERE household_id = ? AND id = ?`

func (q *Queries) GetMember(ctx context.Context, householdID, id string) (MemberRow, error) {
	row := q.db.QueryRowContext(ctx, getMember, householdID, id)
	var i MemberRow
	err := row.Scan(&i.HouseholdID, &i.ID, &i.TasksCompleted, &i.Points, &i.LastTaskCompleted)
	return i, err
}

const upsertMember = `INSERT INTO members (household_id, id, tasks_completed, points, last_task_completed)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (household_id, id) DO UPDATE SET
    tasks_completed = excluded.tasks_completed,
    points = excluded.points,
    last_task_completed = excluded.last_task_completed`

func (q *Queries) UpsertMember(ctx context.Context, arg MemberRow) error {
	_, err := q.db.ExecContext(ctx, upsertMember,
		arg.HouseholdID, arg.ID, arg.TasksCompleted, arg.Points, arg.LastTaskCompleted)
	return err
}

const listMembers = `SELECT household_id, id, tasks_completed, points, last_task_completed
FROM members WHERE household_id = ? ORDER BY id`

func (q *Queries) ListMembers(ctx context.Context, householdID string) ([]MemberRow, error) {
	rows, err := q.db.QueryContext(ctx, listMembers, householdID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []MemberRow
	for rows.Next() {
		var i MemberRow
		if err := rows.Scan(&i.HouseholdID, &i.ID, &i.TasksCompleted, &i.Points, &i.LastTaskCompleted); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const getCategoryTotal = `SELECT total_expenses_cents FROM categories WHERE household_id = ? AND id = ?`

func (q *Queries) GetCategoryTotal(ctx context.Context, householdID, id string) (int64, error) {
	row := q.db.QueryRowContext(ctx, getCategoryTotal, householdID, id)
	var total int64
	err := row.Scan(&total)
	return total, err
}

const listCategoryMonthlyTotals = `SELECT month, amount_cents FROM category_monthly_totals
WHERE household_id = ? AND category_id = ? ORDER BY month`

func (q *Queries) ListCategoryMonthlyTotals(ctx context.Context, householdID, categoryID string) ([]MonthlyTotalRow, error) {
	rows, err := q.db.QueryContext(ctx, listCategoryMonthlyTotals, householdID, categoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []MonthlyTotalRow
	for rows.Next() {
		var i MonthlyTotalRow
		if err := rows.Scan(&i.Month, &i.AmountCents); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const upsertCategory = `INSERT INTO categories (household_id, id, total_expenses_cents) VALUES (?, ?, ?)
ON CONFLICT (household_id, id) DO UPDATE SET total_expenses_cents = excluded.total_expenses_cents`

func (q *Queries) UpsertCategory(ctx context.Context, householdID, id string, totalCents int64) error {
	_, err := q.db.ExecContext(ctx, upsertCategory, householdID, id, totalCents)
	return err
}

const upsertCategoryMonthlyTotal = `INSERT INTO category_monthly_totals (household_id, category_id, month, amount_cents)
VALUES (?, ?, ?, ?)
ON CONFLICT (household_id, category_id, month) DO UPDATE SET amount_cents = excluded.amount_cents`

func (q *Queries) UpsertCategoryMonthlyTotal(ctx context.Context, householdID, categoryID, month string, cents int64) error {
	_, err := q.db.ExecContext(ctx, upsertCategoryMonthlyTotal, householdID, categoryID, month, cents)
	return err
}

const getUserHousehold = `SELECT household_id FROM users WHERE id = ?`

func (q *Queries) GetUserHousehold(ctx context.Context, userID string) (string, error) {
	row := q.db.QueryRowContext(ctx, getUserHousehold, userID)
	var householdID string
	err := row.Scan(&householdID)
	return householdID, err
}

const upsertUser = `INSERT INTO users (id, household_id) VALUES (?, ?)
ON CONFLICT (id) DO UPDATE SET household_id = excluded.household_id`

func (q *Queries) UpsertUser(ctx context.Context, userID, householdID string) error {
	_, err := q.db.ExecContext(ctx, upsertUser, userID, householdID)
	return err
}

const upsertExpense = `INSERT INTO expenses (user_id, id, amount_cents, category_id, date_unix_ns)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (user_id, id) DO UPDATE SET
    amount_cents = excluded.amount_cents,
    category_id = excluded.category_id,
    date_unix_ns = excluded.date_unix_ns`

func (q *Queries) UpsertExpense(ctx context.Context, arg ExpenseRow) error {
	_, err := q.db.ExecContext(ctx, upsertExpense, arg.UserID, arg.ID, arg.AmountCents, arg.CategoryID, arg.DateUnixNs)
	return err
}

const deleteExpense = `DELETE FROM expenses WHERE user_id = ? AND id = ?`

func (q *Queries) DeleteExpense(ctx context.Context, userID, id string) error {
	_, err := q.db.ExecContext(ctx, deleteExpense, userID, id)
	return err
}

const listExpensesInRange = `SELECT user_id, id, amount_cents, category_id, date_unix_ns FROM expenses
WHERE user_id = ? AND date_unix_ns >= ? AND date_unix_ns < ?
ORDER BY date_unix_ns, id`

func (q *Queries) ListExpensesInRange(ctx context.Context, userID string, from, to int64) ([]ExpenseRow, error) {
	rows, err := q.db.QueryContext(ctx, listExpensesInRange, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ExpenseRow
	for rows.Next() {
		var i ExpenseRow
		if err := rows.Scan(&i.UserID, &i.ID, &i.AmountCents, &i.CategoryID, &i.DateUnixNs); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const upsertReport = `INSERT INTO monthly_reports (household_id, month, total_expenses_cents, category_totals, generated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (household_id, month) DO UPDATE SET
    total_expenses_cents = excluded.total_expenses_cents,
    category_totals = excluded.category_totals,
    generated_at = excluded.generated_at`

func (q *Queries) UpsertReport(ctx context.Context, arg ReportRow) error {
	_, err := q.db.ExecContext(ctx, upsertReport,
		arg.HouseholdID, arg.Month, arg.TotalExpensesCents, arg.CategoryTotals, arg.GeneratedAt)
	return err
}

const getReport = `SELECT household_id, month, total_expenses_cents, category_totals, generated_at
FROM monthly_reports WHERE household_id = ? AND month = ?`

func (q *Queries) GetReport(ctx context.Context, householdID, month string) (ReportRow, error) {
	row := q.db.QueryRowContext(ctx, getReport, householdID, month)
	var i ReportRow
	err := row.Scan(&i.HouseholdID, &i.Month, &i.TotalExpensesCents, &i.CategoryTotals, &i.GeneratedAt)
	return i, err
}

const appliedEventExists = `SELECT COUNT(*) FROM applied_events WHERE key = ?`

func (q *Queries) AppliedEventExists(ctx context.Context, key string) (bool, error) {
	row := q.db.QueryRowContext(ctx, appliedEventExists, key)
	var n int64
	err := row.Scan(&n)
	return n > 0, err
}

const insertAppliedEvent = `INSERT INTO applied_events (key, applied_at) VALUES (?, ?)`

func (q *Queries) InsertAppliedEvent(ctx context.Context, key string, appliedAt int64) error {
	_, err := q.db.ExecContext(ctx, insertAppliedEvent, key, appliedAt)
	return err
}

const deleteAppliedEventsBefore = `DELETE FROM applied_events WHERE applied_at < ?`

func (q *Queries) DeleteAppliedEventsBefore(ctx context.Context, cutoff int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteAppliedEventsBefore, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const getJobRun = `SELECT last_run FROM job_runs WHERE job = ?`

func (q *Queries) GetJobRun(ctx context.Context, job string) (int64, error) {
	row := q.db.QueryRowContext(ctx, getJobRun, job)
	var lastRun int64
	err := row.Scan(&lastRun)
	return lastRun, err
}

const upsertJobRun = `INSERT INTO job_runs (job, last_run) VALUES (?, ?)
ON CONFLICT (job) DO UPDATE SET last_run = excluded.last_run`

func (q *Queries) UpsertJobRun(ctx context.Context, job string, lastRun int64) error {
	_, err := q.db.ExecContext(ctx, upsertJobRun, job, lastRun)
	return err
}
