/*
Package sqlite provides a SQLite-backed implementation of the payroll storage interfaces.

PURPOSE:
  Implements payroll.TxStore (everything a calculation reads, plus the
  single payment write) and the CRUD plumbing around it: staff, projects
  with their periods, monthly entries and daily exchange rates.

INTERFACES IMPLEMENTED:
  payroll.Reader:  staff, entries, projects, periods, rates, prior payments
  payroll.Store:   + AppendPayment
  payroll.TxStore: + WithTx

APPEND-ONLY ENFORCEMENT:
  Payments are the engine's memory. The Store never updates a payment row:
  - No UPDATE statements on the payments table
  - The only DELETE is the cascade when a staff member is removed, or Reset
  - Recalculating a month appends another row

KEY TABLES:
  staff:           Staff records, FTE history as JSON
  projects:        EU projects, unique code
  project_periods: Reporting periods, anchor of the rate window
  monthly_entries: One timesheet per (staff, year, month), allocations as JSON
  ecb_rates:       One EUR/SEK reference rate per business day
  payments:        Immutable calculation records

NUMERIC STORAGE:
  Every amount, rate and day count is stored as TEXT and scanned back into
  decimal.Decimal. Nothing is averaged or summed in SQL.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole transaction, and the transactional view reads through the same
  *sql.Tx without re-locking.

USAGE:
  store, err := sqlite.New("./data/salary.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := payroll.NewEngine(store)

MIGRATION:
  Schema is created on New() if missing. There are no versioned migrations.

SEE ALSO:
  - payroll/store.go: Interface definitions
  - payroll/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/salary-engine/payroll"
)

// ErrConflict is returned when a write collides with a unique constraint.
var ErrConflict = errors.New("conflict")

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS staff (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT,
		fte_history TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		code TEXT NOT NULL UNIQUE,
		start_date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS project_periods (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		period_number INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		description TEXT,
		UNIQUE(project_id, period_number)
	);

	-- One timesheet per staff-month
	CREATE TABLE IF NOT EXISTS monthly_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		staff_id INTEGER NOT NULL REFERENCES staff(id) ON DELETE CASCADE,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		project_allocations TEXT NOT NULL,
		non_eu_days TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(staff_id, year, month)
	);

	CREATE TABLE IF NOT EXISTS ecb_rates (
		date TEXT PRIMARY KEY,
		eur_sek TEXT NOT NULL,
		fetched_at TEXT NOT NULL
	);

	-- Payments (append-only, read back by every later calculation)
	CREATE TABLE IF NOT EXISTS payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		reference TEXT NOT NULL UNIQUE,
		staff_id INTEGER NOT NULL REFERENCES staff(id) ON DELETE CASCADE,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		gross_sek TEXT NOT NULL,
		eu_portion_sek TEXT NOT NULL,
		non_eu_portion_sek TEXT NOT NULL,
		total_eur_claimable TEXT NOT NULL,
		eu_eur_amount TEXT NOT NULL,
		non_eu_eur_amount TEXT NOT NULL,
		rates_used TEXT NOT NULL,
		cumulative_eur_to_date TEXT NOT NULL,
		cumulative_sek_paid_to_date TEXT NOT NULL,
		cumulative_avg_rate TEXT NOT NULL,
		calculation_breakdown TEXT NOT NULL,
		paid_at TEXT,
		created_at TEXT NOT NULL
	);

	-- Prior-payment lookups (hot path)
	CREATE INDEX IF NOT EXISTS idx_payments_staff_period
		ON payments(staff_id, year, month);
	CREATE INDEX IF NOT EXISTS idx_payments_created_at
		ON payments(created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (payroll.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. Any error rolls back,
// including the payment append.
func (s *Store) WithTx(ctx context.Context, fn func(store payroll.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every call on the open transaction. WithTx holds the lock.
type txStore struct {
	q querier
}

func (ts *txStore) GetStaff(ctx context.Context, id int64) (*payroll.Staff, error) {
	return getStaff(ctx, ts.q, id)
}

func (ts *txStore) GetMonthlyEntry(ctx context.Context, staffID int64, year int, month time.Month) (*payroll.MonthlyEntry, error) {
	return getEntry(ctx, ts.q, staffID, year, month)
}

func (ts *txStore) GetProject(ctx context.Context, id int64) (*payroll.Project, error) {
	return getProject(ctx, ts.q, id)
}

func (ts *txStore) GetProjectPeriod(ctx context.Context, projectID int64, periodNumber int) (*payroll.ProjectPeriod, error) {
	return getPeriod(ctx, ts.q, projectID, periodNumber)
}

func (ts *txStore) RatesInRange(ctx context.Context, from, to payroll.Date) ([]payroll.Rate, error) {
	return ratesInRange(ctx, ts.q, from, to)
}

func (ts *txStore) PaymentsBefore(ctx context.Context, staffID int64, year int, month time.Month) ([]payroll.Payment, error) {
	return paymentsBefore(ctx, ts.q, staffID, year, month)
}

func (ts *txStore) PaymentsFor(ctx context.Context, staffID int64, year int, month time.Month) ([]payroll.Payment, error) {
	return paymentsFor(ctx, ts.q, staffID, year, month)
}

func (ts *txStore) AppendPayment(ctx context.Context, p payroll.Payment) (int64, error) {
	return appendPayment(ctx, ts.q, p)
}

// =============================================================================
// READER (payroll.Reader interface)
// =============================================================================

func (s *Store) GetStaff(ctx context.Context, id int64) (*payroll.Staff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getStaff(ctx, s.db, id)
}

func (s *Store) GetMonthlyEntry(ctx context.Context, staffID int64, year int, month time.Month) (*payroll.MonthlyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEntry(ctx, s.db, staffID, year, month)
}

func (s *Store) GetProject(ctx context.Context, id int64) (*payroll.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getProject(ctx, s.db, id)
}

func (s *Store) GetProjectPeriod(ctx context.Context, projectID int64, periodNumber int) (*payroll.ProjectPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPeriod(ctx, s.db, projectID, periodNumber)
}

func (s *Store) RatesInRange(ctx context.Context, from, to payroll.Date) ([]payroll.Rate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ratesInRange(ctx, s.db, from, to)
}

func (s *Store) PaymentsBefore(ctx context.Context, staffID int64, year int, month time.Month) ([]payroll.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return paymentsBefore(ctx, s.db, staffID, year, month)
}

func (s *Store) PaymentsFor(ctx context.Context, staffID int64, year int, month time.Month) ([]payroll.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return paymentsFor(ctx, s.db, staffID, year, month)
}

// AppendPayment records p outside any caller transaction.
func (s *Store) AppendPayment(ctx context.Context, p payroll.Payment) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendPayment(ctx, s.db, p)
}

// =============================================================================
// STAFF
// =============================================================================

// CreateStaff inserts s. An empty FTE history is stored as the default
// full-time history.
func (s *Store) CreateStaff(ctx context.Context, st payroll.Staff) (*payroll.Staff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(st.FTEHistory) == 0 {
		st.FTEHistory = payroll.DefaultFTEHistory()
	}
	history, err := json.Marshal(st.FTEHistory)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fte history: %w", err)
	}

	st.CreatedAt = now()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO staff (name, email, fte_history, created_at) VALUES (?, ?, ?, ?)",
		st.Name, nullString(st.Email), string(history), formatTime(st.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create staff: %w", err)
	}
	if st.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return &st, nil
}

// UpdateStaff replaces name, email and FTE history of an existing record.
func (s *Store) UpdateStaff(ctx context.Context, st payroll.Staff) (*payroll.Staff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(st.FTEHistory) == 0 {
		st.FTEHistory = payroll.DefaultFTEHistory()
	}
	history, err := json.Marshal(st.FTEHistory)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fte history: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE staff SET name = ?, email = ?, fte_history = ? WHERE id = ?",
		st.Name, nullString(st.Email), string(history), st.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update staff: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, payroll.StaffNotFound(st.ID)
	}
	return getStaff(ctx, s.db, st.ID)
}

// DeleteStaff removes a staff member with their entries and payments.
func (s *Store) DeleteStaff(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM staff WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete staff: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return payroll.StaffNotFound(id)
	}
	return nil
}

// ListStaff returns all staff ordered by name.
func (s *Store) ListStaff(ctx context.Context) ([]payroll.Staff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, email, fte_history, created_at FROM staff ORDER BY name, id",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query staff: %w", err)
	}
	defer rows.Close()

	staff := []payroll.Staff{}
	for rows.Next() {
		st, err := scanStaff(rows)
		if err != nil {
			return nil, err
		}
		staff = append(staff, *st)
	}
	return staff, rows.Err()
}

func getStaff(ctx context.Context, q querier, id int64) (*payroll.Staff, error) {
	row := q.QueryRowContext(ctx,
		"SELECT id, name, email, fte_history, created_at FROM staff WHERE id = ?", id)
	st, err := scanStaff(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return st, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStaff(sc scanner) (*payroll.Staff, error) {
	var (
		st        payroll.Staff
		email     sql.NullString
		history   string
		createdAt string
	)
	if err := sc.Scan(&st.ID, &st.Name, &email, &history, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan staff: %w", err)
	}
	st.Email = email.String
	st.CreatedAt = parseTime(createdAt)
	if err := json.Unmarshal([]byte(history), &st.FTEHistory); err != nil {
		return nil, fmt.Errorf("failed to decode fte history of staff %d: %w", st.ID, err)
	}
	return &st, nil
}

// =============================================================================
// PROJECTS
// =============================================================================

// CreateProject inserts p and its periods atomically.
func (s *Store) CreateProject(ctx context.Context, p payroll.Project) (*payroll.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	res, err := sqlTx.ExecContext(ctx,
		"INSERT INTO projects (name, code, start_date, created_at) VALUES (?, ?, ?, ?)",
		p.Name, p.Code, p.StartDate.String(), formatTime(now()),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("%w: project code %q already exists", ErrConflict, p.Code)
		}
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if err := insertPeriods(ctx, sqlTx, id, p.Periods); err != nil {
		return nil, err
	}

	created, err := getProject(ctx, sqlTx, id)
	if err != nil {
		return nil, err
	}
	return created, sqlTx.Commit()
}

// UpdateProject replaces name, code, start date and the full period list.
func (s *Store) UpdateProject(ctx context.Context, p payroll.Project) (*payroll.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	res, err := sqlTx.ExecContext(ctx,
		"UPDATE projects SET name = ?, code = ?, start_date = ? WHERE id = ?",
		p.Name, p.Code, p.StartDate.String(), p.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("%w: project code %q already exists", ErrConflict, p.Code)
		}
		return nil, fmt.Errorf("failed to update project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, payroll.ProjectNotFound(p.ID)
	}

	if _, err := sqlTx.ExecContext(ctx, "DELETE FROM project_periods WHERE project_id = ?", p.ID); err != nil {
		return nil, fmt.Errorf("failed to clear project periods: %w", err)
	}
	if err := insertPeriods(ctx, sqlTx, p.ID, p.Periods); err != nil {
		return nil, err
	}

	updated, err := getProject(ctx, sqlTx, p.ID)
	if err != nil {
		return nil, err
	}
	return updated, sqlTx.Commit()
}

// DeleteProject removes a project and its periods. Entries and payments
// that reference it are left untouched.
func (s *Store) DeleteProject(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return payroll.ProjectNotFound(id)
	}
	return nil
}

// ListProjects returns all projects with their periods, ordered by name.
func (s *Store) ListProjects(ctx context.Context) ([]payroll.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, code, start_date, created_at FROM projects ORDER BY name, id",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}

	projects := []payroll.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		projects = append(projects, *p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range projects {
		periods, err := listPeriods(ctx, s.db, projects[i].ID)
		if err != nil {
			return nil, err
		}
		projects[i].Periods = periods
	}
	return projects, nil
}

func insertPeriods(ctx context.Context, q querier, projectID int64, periods []payroll.ProjectPeriod) error {
	for _, pp := range periods {
		_, err := q.ExecContext(ctx, `
			INSERT INTO project_periods (project_id, period_number, start_date, end_date, description)
			VALUES (?, ?, ?, ?, ?)`,
			projectID, pp.PeriodNumber, pp.StartDate.String(), pp.EndDate.String(), nullString(pp.Description),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: period %d listed twice", ErrConflict, pp.PeriodNumber)
			}
			return fmt.Errorf("failed to insert period %d: %w", pp.PeriodNumber, err)
		}
	}
	return nil
}

func getProject(ctx context.Context, q querier, id int64) (*payroll.Project, error) {
	row := q.QueryRowContext(ctx,
		"SELECT id, name, code, start_date, created_at FROM projects WHERE id = ?", id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if p.Periods, err = listPeriods(ctx, q, id); err != nil {
		return nil, err
	}
	return p, nil
}

func scanProject(sc scanner) (*payroll.Project, error) {
	var (
		p         payroll.Project
		startDate string
		createdAt string
	)
	if err := sc.Scan(&p.ID, &p.Name, &p.Code, &startDate, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	var err error
	if p.StartDate, err = payroll.ParseDate(startDate); err != nil {
		return nil, fmt.Errorf("project %d: %w", p.ID, err)
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

const periodColumns = "id, project_id, period_number, start_date, end_date, description"

func listPeriods(ctx context.Context, q querier, projectID int64) ([]payroll.ProjectPeriod, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+periodColumns+" FROM project_periods WHERE project_id = ? ORDER BY period_number",
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query project periods: %w", err)
	}
	defer rows.Close()

	periods := []payroll.ProjectPeriod{}
	for rows.Next() {
		pp, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, *pp)
	}
	return periods, rows.Err()
}

func getPeriod(ctx context.Context, q querier, projectID int64, periodNumber int) (*payroll.ProjectPeriod, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+periodColumns+" FROM project_periods WHERE project_id = ? AND period_number = ?",
		projectID, periodNumber,
	)
	pp, err := scanPeriod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return pp, err
}

func scanPeriod(sc scanner) (*payroll.ProjectPeriod, error) {
	var (
		pp          payroll.ProjectPeriod
		start, end  string
		description sql.NullString
	)
	if err := sc.Scan(&pp.ID, &pp.ProjectID, &pp.PeriodNumber, &start, &end, &description); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan project period: %w", err)
	}
	var err error
	if pp.StartDate, err = payroll.ParseDate(start); err != nil {
		return nil, err
	}
	if pp.EndDate, err = payroll.ParseDate(end); err != nil {
		return nil, err
	}
	pp.Description = description.String
	return &pp, nil
}

// =============================================================================
// MONTHLY ENTRIES
// =============================================================================

// EntryFilter narrows ListEntries. Zero fields match everything.
type EntryFilter struct {
	StaffID int64
	Year    int
	Month   time.Month
}

// UpsertEntry inserts or replaces the entry for (staff, year, month).
// created reports whether a new row was inserted.
func (s *Store) UpsertEntry(ctx context.Context, e payroll.MonthlyEntry) (entry *payroll.MonthlyEntry, created bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Allocations == nil {
		e.Allocations = []payroll.Allocation{}
	}
	allocations, err := json.Marshal(e.Allocations)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode allocations: %w", err)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	existing, err := getEntry(ctx, sqlTx, e.StaffID, e.Year, e.Month)
	if err != nil {
		return nil, false, err
	}

	ts := formatTime(now())
	if existing != nil {
		_, err = sqlTx.ExecContext(ctx, `
			UPDATE monthly_entries SET project_allocations = ?, non_eu_days = ?, updated_at = ?
			WHERE id = ?`,
			string(allocations), e.NonEUDays, ts, existing.ID,
		)
	} else {
		_, err = sqlTx.ExecContext(ctx, `
			INSERT INTO monthly_entries (staff_id, year, month, project_allocations, non_eu_days, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.StaffID, e.Year, int(e.Month), string(allocations), e.NonEUDays, ts, ts,
		)
	}
	if err != nil {
		if isForeignKeyError(err) {
			return nil, false, payroll.StaffNotFound(e.StaffID)
		}
		return nil, false, fmt.Errorf("failed to save entry: %w", err)
	}

	saved, err := getEntry(ctx, sqlTx, e.StaffID, e.Year, e.Month)
	if err != nil {
		return nil, false, err
	}
	if err := sqlTx.Commit(); err != nil {
		return nil, false, err
	}
	return saved, existing == nil, nil
}

// ListEntries returns entries matching f, ordered by (year, month, staff).
func (s *Store) ListEntries(ctx context.Context, f EntryFilter) ([]payroll.MonthlyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + entryColumns + " FROM monthly_entries WHERE 1=1"
	var args []any
	if f.StaffID != 0 {
		query += " AND staff_id = ?"
		args = append(args, f.StaffID)
	}
	if f.Year != 0 {
		query += " AND year = ?"
		args = append(args, f.Year)
	}
	if f.Month != 0 {
		query += " AND month = ?"
		args = append(args, int(f.Month))
	}
	query += " ORDER BY year, month, staff_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	entries := []payroll.MonthlyEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

const entryColumns = "id, staff_id, year, month, project_allocations, non_eu_days, created_at, updated_at"

func getEntry(ctx context.Context, q querier, staffID int64, year int, month time.Month) (*payroll.MonthlyEntry, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM monthly_entries WHERE staff_id = ? AND year = ? AND month = ?",
		staffID, year, int(month),
	)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func scanEntry(sc scanner) (*payroll.MonthlyEntry, error) {
	var (
		e                    payroll.MonthlyEntry
		month                int
		allocations          string
		createdAt, updatedAt string
	)
	if err := sc.Scan(&e.ID, &e.StaffID, &e.Year, &month, &allocations, &e.NonEUDays, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan entry: %w", err)
	}
	e.Month = time.Month(month)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	if err := json.Unmarshal([]byte(allocations), &e.Allocations); err != nil {
		return nil, fmt.Errorf("failed to decode allocations of entry %d: %w", e.ID, err)
	}
	return &e, nil
}

// =============================================================================
// EXCHANGE RATES
// =============================================================================

// UpsertRates stores each rate by date, reporting which dates were new and
// which replaced an existing value.
func (s *Store) UpsertRates(ctx context.Context, rates []payroll.Rate) (inserted, updated []payroll.Date, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	inserted, updated = []payroll.Date{}, []payroll.Date{}
	fetchedAt := formatTime(now())
	for _, r := range rates {
		var exists int
		err := sqlTx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM ecb_rates WHERE date = ?", r.Date.String(),
		).Scan(&exists)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to look up rate %s: %w", r.Date, err)
		}

		if exists > 0 {
			_, err = sqlTx.ExecContext(ctx,
				"UPDATE ecb_rates SET eur_sek = ?, fetched_at = ? WHERE date = ?",
				r.EURToLocal, fetchedAt, r.Date.String())
			updated = append(updated, r.Date)
		} else {
			_, err = sqlTx.ExecContext(ctx,
				"INSERT INTO ecb_rates (date, eur_sek, fetched_at) VALUES (?, ?, ?)",
				r.Date.String(), r.EURToLocal, fetchedAt)
			inserted = append(inserted, r.Date)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to store rate %s: %w", r.Date, err)
		}
	}

	return inserted, updated, sqlTx.Commit()
}

// LatestRates returns the newest limit rates, newest first.
func (s *Store) LatestRates(ctx context.Context, limit int) ([]payroll.Rate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT date, eur_sek, fetched_at FROM ecb_rates ORDER BY date DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rates: %w", err)
	}
	return scanRates(rows)
}

func ratesInRange(ctx context.Context, q querier, from, to payroll.Date) ([]payroll.Rate, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT date, eur_sek, fetched_at FROM ecb_rates WHERE date >= ? AND date <= ? ORDER BY date",
		from.String(), to.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query rates: %w", err)
	}
	return scanRates(rows)
}

func scanRates(rows *sql.Rows) ([]payroll.Rate, error) {
	defer rows.Close()

	rates := []payroll.Rate{}
	for rows.Next() {
		var (
			r         payroll.Rate
			date      string
			fetchedAt string
		)
		if err := rows.Scan(&date, &r.EURToLocal, &fetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rate: %w", err)
		}
		d, err := payroll.ParseDate(date)
		if err != nil {
			return nil, err
		}
		r.Date = d
		r.FetchedAt = parseTime(fetchedAt)
		rates = append(rates, r)
	}
	return rates, rows.Err()
}

// =============================================================================
// PAYMENTS
// =============================================================================

// ListPayments returns the newest limit payments with staff names.
func (s *Store) ListPayments(ctx context.Context, limit int) ([]payroll.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryPayments(ctx, s.db, `
		SELECT `+paymentColumns+`, s.name
		FROM payments p JOIN staff s ON s.id = p.staff_id
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT ?`, limit)
}

// PaymentsByStaff returns a staff member's payment history in period order.
func (s *Store) PaymentsByStaff(ctx context.Context, staffID int64) ([]payroll.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryPayments(ctx, s.db, `
		SELECT `+paymentColumns+`, s.name
		FROM payments p JOIN staff s ON s.id = p.staff_id
		WHERE p.staff_id = ?
		ORDER BY p.year, p.month, p.id`, staffID)
}

const paymentColumns = `p.id, p.reference, p.staff_id, p.year, p.month,
	p.gross_sek, p.eu_portion_sek, p.non_eu_portion_sek,
	p.total_eur_claimable, p.eu_eur_amount, p.non_eu_eur_amount, p.rates_used,
	p.cumulative_eur_to_date, p.cumulative_sek_paid_to_date, p.cumulative_avg_rate,
	p.calculation_breakdown, p.paid_at, p.created_at`

func paymentsBefore(ctx context.Context, q querier, staffID int64, year int, month time.Month) ([]payroll.Payment, error) {
	return queryPayments(ctx, q, `
		SELECT `+paymentColumns+`, s.name
		FROM payments p JOIN staff s ON s.id = p.staff_id
		WHERE p.staff_id = ? AND (p.year < ? OR (p.year = ? AND p.month < ?))
		ORDER BY p.year, p.month, p.id`,
		staffID, year, year, int(month))
}

func paymentsFor(ctx context.Context, q querier, staffID int64, year int, month time.Month) ([]payroll.Payment, error) {
	return queryPayments(ctx, q, `
		SELECT `+paymentColumns+`, s.name
		FROM payments p JOIN staff s ON s.id = p.staff_id
		WHERE p.staff_id = ? AND p.year = ? AND p.month = ?
		ORDER BY p.id`,
		staffID, year, int(month))
}

func appendPayment(ctx context.Context, q querier, p payroll.Payment) (int64, error) {
	ratesUsed, err := json.Marshal(p.RatesUsed)
	if err != nil {
		return 0, fmt.Errorf("failed to encode rates used: %w", err)
	}
	breakdown, err := json.Marshal(p.Breakdown)
	if err != nil {
		return 0, fmt.Errorf("failed to encode breakdown: %w", err)
	}

	var paidAt sql.NullString
	if p.PaidAt != nil {
		paidAt = sql.NullString{String: formatTime(*p.PaidAt), Valid: true}
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = now()
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO payments
		(reference, staff_id, year, month, gross_sek, eu_portion_sek, non_eu_portion_sek,
		 total_eur_claimable, eu_eur_amount, non_eu_eur_amount, rates_used,
		 cumulative_eur_to_date, cumulative_sek_paid_to_date, cumulative_avg_rate,
		 calculation_breakdown, paid_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Reference, p.StaffID, p.Year, int(p.Month),
		p.GrossLocal, p.EUPortionLocal, p.NonEUPortionLocal,
		p.TotalEURClaimable, p.EUEURAmount, p.NonEUEURAmount, string(ratesUsed),
		p.CumulativeEURToDate, p.CumulativeLocalPaidToDate, p.CumulativeAvgRate,
		string(breakdown), paidAt, formatTime(createdAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return 0, payroll.StaffNotFound(p.StaffID)
		}
		if isUniqueConstraintError(err) {
			return 0, fmt.Errorf("%w: payment reference %q already used", ErrConflict, p.Reference)
		}
		return 0, fmt.Errorf("failed to append payment: %w", err)
	}
	return res.LastInsertId()
}

func queryPayments(ctx context.Context, q querier, query string, args ...any) ([]payroll.Payment, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	payments := []payroll.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func scanPayment(rows *sql.Rows) (payroll.Payment, error) {
	var (
		p         payroll.Payment
		month     int
		ratesUsed string
		breakdown string
		paidAt    sql.NullString
		createdAt string
	)

	err := rows.Scan(
		&p.ID, &p.Reference, &p.StaffID, &p.Year, &month,
		&p.GrossLocal, &p.EUPortionLocal, &p.NonEUPortionLocal,
		&p.TotalEURClaimable, &p.EUEURAmount, &p.NonEUEURAmount, &ratesUsed,
		&p.CumulativeEURToDate, &p.CumulativeLocalPaidToDate, &p.CumulativeAvgRate,
		&breakdown, &paidAt, &createdAt, &p.StaffName,
	)
	if err != nil {
		return p, fmt.Errorf("failed to scan payment: %w", err)
	}

	p.Month = time.Month(month)
	p.CreatedAt = parseTime(createdAt)
	if paidAt.Valid {
		t := parseTime(paidAt.String)
		p.PaidAt = &t
	}
	if err := json.Unmarshal([]byte(ratesUsed), &p.RatesUsed); err != nil {
		return p, fmt.Errorf("failed to decode rates used of payment %d: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(breakdown), &p.Breakdown); err != nil {
		return p, fmt.Errorf("failed to decode breakdown of payment %d: %w", p.ID, err)
	}
	return p, nil
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears all data. Used by seeding.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"payments", "monthly_entries", "project_periods", "projects", "staff", "ecb_rates"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// Helper functions

var now = func() time.Time { return time.Now().UTC() }

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

func isForeignKeyError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
