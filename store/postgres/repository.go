/*
Package postgres provides a PostgreSQL-backed implementation of the loan collaborators.

PURPOSE:
  Implements loan.TxRepository and loan.Directory on pgx/v5. The schema lives
  in migrations/ and is applied with Migrate (golang-migrate, embedded source).

STORAGE BACKSTOP:
  transactions_no_overlap is an exclusion constraint over
  (employee_id WITH =, daterange(start_date, end_date, '[)') WITH &&).
  Concurrent inserts that both passed the service's in-process check cannot
  both commit; the loser gets SQLSTATE 23P01, reported as
  *loan.AlreadyExistsError.

TRANSACTIONS:
  Every query goes through QueryerFromContext, so a repository call made with
  a context that carries a pgx.Tx joins that transaction. WithTx hands fn a
  repository bound to a fresh transaction.

SEE ALSO:
  - store/sqlite: Same contracts on SQLite
  - transaction.go: TransactionManager
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/loan"
)

// SQLSTATE codes translated into loan errors.
const (
	uniqueViolationCode     = "23505"
	exclusionViolationCode  = "23P01"
	foreignKeyViolationCode = "23503"
	checkViolationCode      = "23514"
)

// Store implements loan.TxRepository and loan.Directory.
type Store struct {
	db Queryer
	tm *TransactionManager
}

// New wraps a pool (or anything with the same query surface).
func New(db DB) *Store {
	return &Store{db: db, tm: NewTransactionManager(db)}
}

// =============================================================================
// TRANSACTION REPOSITORY
// =============================================================================

const selectTransactions = `
        SELECT t.loan_company_id, t.borrowing_company_id, t.employee_id,
               t.start_date, t.end_date, t.total_cost::text, t.status,
               t.created_at, t.updated_at,
               lc.name, bc.name, e.name, e.email, e.company_id
          FROM transactions t
          LEFT JOIN companies lc ON lc.id = t.loan_company_id
          LEFT JOIN companies bc ON bc.id = t.borrowing_company_id
          LEFT JOIN employees e ON e.id = t.employee_id
`

func (s *Store) FindByEmployee(ctx context.Context, employeeID string) ([]loan.Transaction, error) {
	return s.query(ctx, selectTransactions+` WHERE t.employee_id = $1 ORDER BY t.start_date`, employeeID)
}

func (s *Store) FindByKey(ctx context.Context, key loan.Key) (*loan.Transaction, error) {
	return s.queryOne(ctx, selectTransactions+` WHERE t.loan_company_id = $1 AND t.borrowing_company_id = $2
           AND t.employee_id = $3 AND t.start_date = $4`,
		key.LoanCompanyID, key.BorrowingCompanyID, key.EmployeeID, key.StartDate.Time,
	)
}

func (s *Store) FindByEmployeeAndStartDate(ctx context.Context, employeeID string, startDate loan.Date) (*loan.Transaction, error) {
	return s.queryOne(ctx, selectTransactions+` WHERE t.employee_id = $1 AND t.start_date = $2`,
		employeeID, startDate.Time,
	)
}

func (s *Store) FindByLoanCompany(ctx context.Context, companyID string) ([]loan.Transaction, error) {
	return s.query(ctx, selectTransactions+` WHERE t.loan_company_id = $1 ORDER BY t.start_date`, companyID)
}

func (s *Store) FindByBorrowingCompany(ctx context.Context, companyID string) ([]loan.Transaction, error) {
	return s.query(ctx, selectTransactions+` WHERE t.borrowing_company_id = $1 ORDER BY t.start_date`, companyID)
}

func (s *Store) FindAll(ctx context.Context) ([]loan.Transaction, error) {
	return s.query(ctx, selectTransactions+` ORDER BY t.start_date, t.employee_id`)
}

// Insert adds a transaction. Duplicate keys and overlaps are rejected by the schema.
func (s *Store) Insert(ctx context.Context, tx loan.Transaction) error {
	exec := QueryerFromContext(ctx, s.db)
	_, err := exec.Exec(ctx, `
        INSERT INTO transactions
            (loan_company_id, borrowing_company_id, employee_id, start_date, end_date,
             total_cost, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9)
    `,
		tx.Key.LoanCompanyID,
		tx.Key.BorrowingCompanyID,
		tx.Key.EmployeeID,
		tx.Key.StartDate.Time,
		tx.EndDate.Time,
		tx.TotalCost.String(),
		tx.Status,
		timestamp(tx.CreatedAt),
		timestamp(tx.UpdatedAt),
	)
	if err != nil {
		return translatePgError(tx.Key, err)
	}
	return nil
}

// Save rewrites end date, cost and status of a stored key.
func (s *Store) Save(ctx context.Context, tx loan.Transaction) error {
	exec := QueryerFromContext(ctx, s.db)
	tag, err := exec.Exec(ctx, `
        UPDATE transactions
           SET end_date = $1,
               total_cost = $2::numeric,
               status = $3,
               updated_at = $4
         WHERE loan_company_id = $5 AND borrowing_company_id = $6
           AND employee_id = $7 AND start_date = $8
    `,
		tx.EndDate.Time,
		tx.TotalCost.String(),
		tx.Status,
		timestamp(tx.UpdatedAt),
		tx.Key.LoanCompanyID,
		tx.Key.BorrowingCompanyID,
		tx.Key.EmployeeID,
		tx.Key.StartDate.Time,
	)
	if err != nil {
		return translatePgError(tx.Key, err)
	}
	if tag.RowsAffected() == 0 {
		return &loan.NotFoundError{Entity: loan.EntityTransaction, ID: tx.Key.String()}
	}
	return nil
}

func (s *Store) DeleteByKey(ctx context.Context, key loan.Key) error {
	exec := QueryerFromContext(ctx, s.db)
	tag, err := exec.Exec(ctx, `
        DELETE FROM transactions
         WHERE loan_company_id = $1 AND borrowing_company_id = $2
           AND employee_id = $3 AND start_date = $4
    `, key.LoanCompanyID, key.BorrowingCompanyID, key.EmployeeID, key.StartDate.Time)
	if err != nil {
		return fmt.Errorf("postgres: delete transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &loan.NotFoundError{Entity: loan.EntityTransaction, ID: key.String()}
	}
	return nil
}

// WithTx runs fn against a repository bound to one read-write transaction.
func (s *Store) WithTx(ctx context.Context, fn func(r loan.Repository) error) error {
	return s.tm.WithinReadWrite(ctx, func(txCtx context.Context) error {
		tx, ok := txFromContext(txCtx)
		if !ok {
			return fn(s)
		}
		return fn(&Store{db: tx})
	})
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]loan.Transaction, error) {
	exec := QueryerFromContext(ctx, s.db)
	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query transactions: %w", err)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate transactions: %w", err)
	}
	return result, nil
}

func (s *Store) queryOne(ctx context.Context, query string, args ...any) (*loan.Transaction, error) {
	txs, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

func scanTransaction(row pgx.Row) (loan.Transaction, error) {
	var (
		tx                            loan.Transaction
		start, end                    time.Time
		cost                          string
		loanName, borrowName          sql.NullString
		empName, empEmail, empCompany sql.NullString
	)

	err := row.Scan(
		&tx.Key.LoanCompanyID, &tx.Key.BorrowingCompanyID, &tx.Key.EmployeeID,
		&start, &end, &cost, &tx.Status,
		&tx.CreatedAt, &tx.UpdatedAt,
		&loanName, &borrowName, &empName, &empEmail, &empCompany,
	)
	if err != nil {
		return loan.Transaction{}, fmt.Errorf("postgres: scan transaction: %w", err)
	}

	tx.Key.StartDate = loan.DateOf(start)
	tx.EndDate = loan.DateOf(end)
	if tx.TotalCost, err = decimal.NewFromString(cost); err != nil {
		return loan.Transaction{}, fmt.Errorf("postgres: corrupt total_cost %q: %w", cost, err)
	}

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

func translatePgError(key loan.Key, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("postgres: write transaction: %w", err)
	}
	switch pgErr.Code {
	case uniqueViolationCode, exclusionViolationCode:
		return &loan.AlreadyExistsError{Key: key}
	case foreignKeyViolationCode:
		return &loan.InvalidInputError{Field: "transaction", Reason: "references an unknown company or employee"}
	case checkViolationCode:
		return &loan.InvalidInputError{Field: pgErr.ConstraintName, Reason: pgErr.Message}
	default:
		return fmt.Errorf("postgres: write transaction: %w", err)
	}
}

func timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
