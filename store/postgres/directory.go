package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/warp/loan-engine/loan"
)

// SaveCompany creates or renames a company.
func (s *Store) SaveCompany(ctx context.Context, c loan.Company) error {
	exec := QueryerFromContext(ctx, s.db)
	_, err := exec.Exec(ctx, `
        INSERT INTO companies (id, name, created_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
    `, c.ID, c.Name, timestamp(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("postgres: save company: %w", err)
	}
	return nil
}

func (s *Store) GetCompany(ctx context.Context, id string) (*loan.Company, error) {
	exec := QueryerFromContext(ctx, s.db)
	var c loan.Company
	err := exec.QueryRow(ctx, `
        SELECT id, name, created_at
          FROM companies
         WHERE id = $1
    `, id).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &loan.NotFoundError{Entity: loan.EntityCompany, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get company: %w", err)
	}
	return &c, nil
}

func (s *Store) ListCompanies(ctx context.Context) ([]loan.Company, error) {
	exec := QueryerFromContext(ctx, s.db)
	rows, err := exec.Query(ctx, `SELECT id, name, created_at FROM companies ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list companies: %w", err)
	}
	defer rows.Close()

	var out []loan.Company
	for rows.Next() {
		var c loan.Company
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan company: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveEmployee creates or updates an employee.
func (s *Store) SaveEmployee(ctx context.Context, e loan.Employee) error {
	exec := QueryerFromContext(ctx, s.db)
	_, err := exec.Exec(ctx, `
        INSERT INTO employees (id, name, email, company_id, created_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (id) DO UPDATE
           SET name = EXCLUDED.name,
               email = EXCLUDED.email,
               company_id = EXCLUDED.company_id
    `, e.ID, e.Name, nullable(e.Email), nullable(e.CompanyID), timestamp(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("postgres: save employee: %w", err)
	}
	return nil
}

func (s *Store) GetEmployee(ctx context.Context, id string) (*loan.Employee, error) {
	exec := QueryerFromContext(ctx, s.db)
	row := exec.QueryRow(ctx, `
        SELECT id, name, email, company_id, created_at
          FROM employees
         WHERE id = $1
    `, id)

	e, err := scanEmployee(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &loan.NotFoundError{Entity: loan.EntityEmployee, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get employee: %w", err)
	}
	return &e, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]loan.Employee, error) {
	exec := QueryerFromContext(ctx, s.db)
	rows, err := exec.Query(ctx, `
        SELECT id, name, email, company_id, created_at
          FROM employees
         ORDER BY name, id
    `)
	if err != nil {
		return nil, fmt.Errorf("postgres: list employees: %w", err)
	}
	defer rows.Close()

	var out []loan.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan employee: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	exec := QueryerFromContext(ctx, s.db)
	if _, err := exec.Exec(ctx, `TRUNCATE transactions, employees, companies`); err != nil {
		return fmt.Errorf("postgres: reset: %w", err)
	}
	return nil
}

func scanEmployee(row pgx.Row) (loan.Employee, error) {
	var (
		e                loan.Employee
		email, companyID sql.NullString
		createdAt        time.Time
	)
	if err := row.Scan(&e.ID, &e.Name, &email, &companyID, &createdAt); err != nil {
		return loan.Employee{}, err
	}
	e.Email = email.String
	e.CompanyID = companyID.String
	e.CreatedAt = createdAt
	return e, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
