/*
Package sqlite provides a SQLite-backed implementation of the loan collaborators.

PURPOSE:
  Implements loan.TxRepository and loan.Directory using SQLite. The
  PostgreSQL store (store/postgres) follows the same layout with a
  dialect-specific backstop.

INTERFACES IMPLEMENTED:
  loan.TxRepository: Transaction persistence, atomic replace
  loan.Directory:    Companies and employees

KEY TABLES:
  companies:     Lending and borrowing companies
  employees:     People who can be lent
  transactions:  One row per engagement, keyed by
                 (loan_company_id, borrowing_company_id, employee_id, start_date)

STORAGE BACKSTOP:
  The service checks overlaps before writing, but two processes sharing a
  database can still race. The schema therefore rejects overlaps itself:
  - idx_transactions_employee_start: one engagement per employee per start day
  - trg_transactions_no_overlap_*:   RAISE(ABORT) on an overlapping insert/update
  Both surface as *loan.AlreadyExistsError.

DATES:
  Calendar dates are stored as TEXT in YYYY-MM-DD, so string comparison in SQL
  is date comparison. Costs are stored as TEXT to keep decimal precision.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety within a process. WAL mode lets readers
  proceed while a writer holds the database.

USAGE:
  store, err := sqlite.New("./data/loans.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := loan.NewService(store, store, store)

SEE ALSO:
  - loan/repository.go: Interface definitions
  - loan/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/loan"
)

// Store implements loan.TxRepository and loan.Directory using SQLite.
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
	if strings.Contains(dbPath, ":memory:") {
		// Each connection would otherwise see its own empty database.
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

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS companies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		company_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transactions (
		loan_company_id TEXT NOT NULL REFERENCES companies(id),
		borrowing_company_id TEXT NOT NULL REFERENCES companies(id),
		employee_id TEXT NOT NULL REFERENCES employees(id),
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		total_cost TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (loan_company_id, borrowing_company_id, employee_id, start_date),
		CHECK (end_date > start_date)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_employee_start
		ON transactions(employee_id, start_date);
	CREATE INDEX IF NOT EXISTS idx_transactions_loan_company
		ON transactions(loan_company_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_borrowing_company
		ON transactions(borrowing_company_id);

	-- An employee cannot be in two places at once: [start, end) ranges of the
	-- same employee must not intersect.
	CREATE TRIGGER IF NOT EXISTS trg_transactions_no_overlap_insert
	BEFORE INSERT ON transactions
	FOR EACH ROW
	WHEN EXISTS (
		SELECT 1 FROM transactions t
		WHERE t.employee_id = NEW.employee_id
		  AND NEW.start_date < t.end_date
		  AND t.start_date < NEW.end_date
	)
	BEGIN
		SELECT RAISE(ABORT, 'overlapping engagement');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_transactions_no_overlap_update
	BEFORE UPDATE OF end_date ON transactions
	FOR EACH ROW
	WHEN EXISTS (
		SELECT 1 FROM transactions t
		WHERE t.employee_id = NEW.employee_id
		  AND NOT (t.loan_company_id = OLD.loan_company_id
		       AND t.borrowing_company_id = OLD.borrowing_company_id
		       AND t.start_date = OLD.start_date)
		  AND NEW.start_date < t.end_date
		  AND t.start_date < NEW.end_date
	)
	BEGIN
		SELECT RAISE(ABORT, 'overlapping engagement');
	END;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTION REPOSITORY (loan.Repository interface)
// =============================================================================

func (s *Store) FindByEmployee(ctx context.Context, employeeID string) ([]loan.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return repo{q: s.db}.FindByEmployee(ctx, employeeID)
}

func (s *Store) FindByKey(ctx context.Context, key loan.Key) (*loan.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return repo{q: s.db}.FindByKey(ctx, key)
}

func (s *Store) FindByEmployeeAndStartDate(ctx context.Context, employeeID string, startDate loan.Date) (*loan.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return repo{q: s.db}.FindByEmployeeAndStartDate(ctx, employeeID, startDate)
}

func (s *Store) FindByLoanCompany(ctx context.Context, companyID string) ([]loan.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return repo{q: s.db}.FindByLoanCompany(ctx, companyID)
}

func (s *Store) FindByBorrowingCompany(ctx context.Context, companyID string) ([]loan.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return repo{q: s.db}.FindByBorrowingCompany(ctx, companyID)
}

func (s *Store) FindAll(ctx context.Context) ([]loan.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return repo{q: s.db}.FindAll(ctx)
}

// Insert adds a transaction. The schema rejects duplicates and overlaps.
func (s *Store) Insert(ctx context.Context, tx loan.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return repo{q: s.db}.Insert(ctx, tx)
}

// Save rewrites end date, cost and status of a stored key.
func (s *Store) Save(ctx context.Context, tx loan.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return repo{q: s.db}.Save(ctx, tx)
}

func (s *Store) DeleteByKey(ctx context.Context, key loan.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return repo{q: s.db}.DeleteByKey(ctx, key)
}

// =============================================================================
// TRANSACTIONAL STORE (loan.TxRepository interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(r loan.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(repo{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// repo runs the transaction queries against a querier. The Store wraps it
// with locking; WithTx hands it out bound to a *sql.Tx.
type repo struct {
	q querier
}

const selectTransactions = `
	SELECT t.loan_company_id, t.borrowing_company_id, t.employee_id,
	       t.start_date, t.end_date, t.total_cost, t.status,
	       t.created_at, t.updated_at,
	       lc.name, bc.name, e.name, e.email, e.company_id
	FROM transactions t
	LEFT JOIN companies lc ON lc.id = t.loan_company_id
	LEFT JOIN companies bc ON bc.id = t.borrowing_company_id
	LEFT JOIN employees e ON e.id = t.employee_id
`

func (r repo) FindByEmployee(ctx context.Context, employeeID string) ([]loan.Transaction, error) {
	return r.query(ctx, selectTransactions+" WHERE t.employee_id = ? ORDER BY t.start_date", employeeID)
}

func (r repo) FindByKey(ctx context.Context, key loan.Key) (*loan.Transaction, error) {
	return r.queryOne(ctx, selectTransactions+`
		WHERE t.loan_company_id = ? AND t.borrowing_company_id = ?
		  AND t.employee_id = ? AND t.start_date = ?`,
		key.LoanCompanyID, key.BorrowingCompanyID, key.EmployeeID, key.StartDate.String(),
	)
}

func (r repo) FindByEmployeeAndStartDate(ctx context.Context, employeeID string, startDate loan.Date) (*loan.Transaction, error) {
	return r.queryOne(ctx, selectTransactions+" WHERE t.employee_id = ? AND t.start_date = ?",
		employeeID, startDate.String(),
	)
}

func (r repo) FindByLoanCompany(ctx context.Context, companyID string) ([]loan.Transaction, error) {
	return r.query(ctx, selectTransactions+" WHERE t.loan_company_id = ? ORDER BY t.start_date", companyID)
}

func (r repo) FindByBorrowingCompany(ctx context.Context, companyID string) ([]loan.Transaction, error) {
	return r.query(ctx, selectTransactions+" WHERE t.borrowing_company_id = ? ORDER BY t.start_date", companyID)
}

func (r repo) FindAll(ctx context.Context) ([]loan.Transaction, error) {
	return r.query(ctx, selectTransactions+" ORDER BY t.start_date, t.employee_id")
}

func (r repo) Insert(ctx context.Context, tx loan.Transaction) error {
	query := `
		INSERT INTO transactions
		(loan_company_id, borrowing_company_id, employee_id, start_date, end_date,
		 total_cost, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.q.ExecContext(ctx, query,
		tx.Key.LoanCompanyID,
		tx.Key.BorrowingCompanyID,
		tx.Key.EmployeeID,
		tx.Key.StartDate.String(),
		tx.EndDate.String(),
		tx.TotalCost.String(),
		tx.Status,
		formatTime(tx.CreatedAt),
		formatTime(tx.UpdatedAt),
	)
	if err != nil {
		return translateWriteError(tx.Key, err)
	}
	return nil
}

func (r repo) Save(ctx context.Context, tx loan.Transaction) error {
	query := `
		UPDATE transactions
		SET end_date = ?, total_cost = ?, status = ?, updated_at = ?
		WHERE loan_company_id = ? AND borrowing_company_id = ?
		  AND employee_id = ? AND start_date = ?
	`

	res, err := r.q.ExecContext(ctx, query,
		tx.EndDate.String(),
		tx.TotalCost.String(),
		tx.Status,
		formatTime(tx.UpdatedAt),
		tx.Key.LoanCompanyID,
		tx.Key.BorrowingCompanyID,
		tx.Key.EmployeeID,
		tx.Key.StartDate.String(),
	)
	if err != nil {
		return translateWriteError(tx.Key, err)
	}
	return requireAffected(res, tx.Key)
}

func (r repo) DeleteByKey(ctx context.Context, key loan.Key) error {
	res, err := r.q.ExecContext(ctx, `
		DELETE FROM transactions
		WHERE loan_company_id = ? AND borrowing_company_id = ?
		  AND employee_id = ? AND start_date = ?`,
		key.LoanCompanyID, key.BorrowingCompanyID, key.EmployeeID, key.StartDate.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return requireAffected(res, key)
}

func (r repo) query(ctx context.Context, query string, args ...any) ([]loan.Transaction, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var result []loan.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

func (r repo) queryOne(ctx context.Context, query string, args ...any) (*loan.Transaction, error) {
	txs, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (loan.Transaction, error) {
	var (
		tx                            loan.Transaction
		start, end, cost              string
		createdAt, updatedAt          string
		loanName, borrowName          sql.NullString
		empName, empEmail, empCompany sql.NullString
	)

	err := row.Scan(
		&tx.Key.LoanCompanyID, &tx.Key.BorrowingCompanyID, &tx.Key.EmployeeID,
		&start, &end, &cost, &tx.Status,
		&createdAt, &updatedAt,
		&loanName, &borrowName, &empName, &empEmail, &empCompany,
	)
	if err != nil {
		return loan.Transaction{}, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if tx.Key.StartDate, err = loan.ParseDate(start); err != nil {
		return loan.Transaction{}, fmt.Errorf("corrupt start_date %q: %w", start, err)
	}
	if tx.EndDate, err = loan.ParseDate(end); err != nil {
		return loan.Transaction{}, fmt.Errorf("corrupt end_date %q: %w", end, err)
	}
	if tx.TotalCost, err = decimal.NewFromString(cost); err != nil {
		return loan.Transaction{}, fmt.Errorf("corrupt total_cost %q: %w", cost, err)
	}
	tx.CreatedAt = parseTime(createdAt)
	tx.UpdatedAt = parseTime(updatedAt)

	if loanName.Valid {
		tx.LoanCompany = &loan.Company{ID: tx.Key.LoanCompanyID, Name: loanName.String}
	}
	if borrowName.Valid {
		tx.BorrowingCompany = &loan.Company{ID: tx.Key.BorrowingCompanyID, Name: borrowName.String}
	}
	if empName.Valid {
		tx.Employee = &loan.Employee{
			ID:        tx.Key.EmployeeID,
			Name:      empName.String,
			Email:     empEmail.String,
			CompanyID: empCompany.String,
		}
	}
	return tx, nil
}

// =============================================================================
// DIRECTORY (loan.Directory interface)
// =============================================================================

// SaveCompany creates or renames a company.
func (s *Store) SaveCompany(ctx context.Context, c loan.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO companies (id, name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		c.ID, c.Name, formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save company: %w", err)
	}
	return nil
}

// GetCompany retrieves a company by ID.
func (s *Store) GetCompany(ctx context.Context, id string) (*loan.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c loan.Company
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM companies WHERE id = ?", id,
	).Scan(&c.ID, &c.Name, &createdAt)

	if err == sql.ErrNoRows {
		return nil, &loan.NotFoundError{Entity: loan.EntityCompany, ID: id}
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

// ListCompanies returns all companies ordered by name.
func (s *Store) ListCompanies(ctx context.Context) ([]loan.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at FROM companies ORDER BY name, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var companies []loan.Company
	for rows.Next() {
		var c loan.Company
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Name, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt = parseTime(createdAt)
		companies = append(companies, c)
	}
	return companies, rows.Err()
}

// SaveEmployee creates or updates an employee.
func (s *Store) SaveEmployee(ctx context.Context, emp loan.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if emp.CreatedAt.IsZero() {
		emp.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, name, email, company_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			company_id = excluded.company_id`,
		emp.ID, emp.Name, nullString(emp.Email), nullString(emp.CompanyID), formatTime(emp.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

// GetEmployee retrieves an employee by ID.
func (s *Store) GetEmployee(ctx context.Context, id string) (*loan.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var emp loan.Employee
	var email, companyID sql.NullString
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, company_id, created_at FROM employees WHERE id = ?", id,
	).Scan(&emp.ID, &emp.Name, &email, &companyID, &createdAt)

	if err == sql.ErrNoRows {
		return nil, &loan.NotFoundError{Entity: loan.EntityEmployee, ID: id}
	}
	if err != nil {
		return nil, err
	}

	emp.Email = email.String
	emp.CompanyID = companyID.String
	emp.CreatedAt = parseTime(createdAt)
	return &emp, nil
}

// ListEmployees returns all employees ordered by name.
func (s *Store) ListEmployees(ctx context.Context) ([]loan.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, email, company_id, created_at FROM employees ORDER BY name, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []loan.Employee
	for rows.Next() {
		var emp loan.Employee
		var email, companyID sql.NullString
		var createdAt string
		if err := rows.Scan(&emp.ID, &emp.Name, &email, &companyID, &createdAt); err != nil {
			return nil, err
		}
		emp.Email = email.String
		emp.CompanyID = companyID.String
		emp.CreatedAt = parseTime(createdAt)
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"transactions", "employees", "companies"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func requireAffected(res sql.Result, key loan.Key) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &loan.NotFoundError{Entity: loan.EntityTransaction, ID: key.String()}
	}
	return nil
}

// translateWriteError maps SQLite constraint failures to loan errors.
func translateWriteError(key loan.Key, err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code != sqlite3.ErrConstraint {
		return fmt.Errorf("failed to write transaction: %w", err)
	}

	switch sqliteErr.ExtendedCode {
	case sqlite3.ErrConstraintForeignKey:
		return &loan.InvalidInputError{Field: "transaction", Reason: "references an unknown company or employee"}
	case sqlite3.ErrConstraintCheck:
		return &loan.InvalidInputError{Field: "end_date", Reason: "must be after start_date"}
	default:
		// primary key, idx_transactions_employee_start, overlap trigger
		return &loan.AlreadyExistsError{Key: key}
	}
}
