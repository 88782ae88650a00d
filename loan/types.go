/*
Package loan decides whether an employee can be lent from one company to
another for a date range, and keeps every employee's engagements free of
overlap across create, replace, status update and delete.

KEY CONCEPTS IN THIS FILE (types.go):
  - Key: composite identity (loan company, borrowing company, employee, start date)
  - Transaction: one engagement; Key + end date, total cost, status
  - Company, Employee: collaborator entities, referenced but not owned here

IDENTITY:
  StartDate is part of the Key. Moving an engagement to another start date, or
  to another pair of companies, produces a different transaction. That is why
  the service has Replace (identity may change) and UpdateStatus (identity
  fixed), and no generic "update".

SEE ALSO:
  - interval.go: Overlap rules
  - service.go: Lifecycle operations
  - repository.go: Collaborator contracts
*/
package loan

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// KEY - Composite identity
// =============================================================================

// Key uniquely identifies a transaction. It is a value: two keys with the same
// fields are the same identity, and keys are safe to compare with ==.
type Key struct {
	LoanCompanyID      string
	BorrowingCompanyID string
	EmployeeID         string
	StartDate          Date
}

// NewKey builds a key, rejecting empty identifiers or a zero start date.
// The start date is reduced to its calendar day.
func NewKey(loanCompanyID, borrowingCompanyID, employeeID string, startDate Date) (Key, error) {
	k := Key{
		LoanCompanyID:      strings.TrimSpace(loanCompanyID),
		BorrowingCompanyID: strings.TrimSpace(borrowingCompanyID),
		EmployeeID:         strings.TrimSpace(employeeID),
		StartDate:          DateOf(startDate.Time),
	}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// Validate checks that all four components are present.
func (k Key) Validate() error {
	switch {
	case strings.TrimSpace(k.LoanCompanyID) == "":
		return &InvalidInputError{Field: "loan_company_id", Reason: "is required"}
	case strings.TrimSpace(k.BorrowingCompanyID) == "":
		return &InvalidInputError{Field: "borrowing_company_id", Reason: "is required"}
	case strings.TrimSpace(k.EmployeeID) == "":
		return &InvalidInputError{Field: "employee_id", Reason: "is required"}
	case k.StartDate.IsZero():
		return &InvalidInputError{Field: "start_date", Reason: "is required"}
	}
	return nil
}

func (k Key) String() string {
	return k.LoanCompanyID + "/" + k.BorrowingCompanyID + "/" + k.EmployeeID + "@" + k.StartDate.String()
}

// =============================================================================
// COLLABORATOR ENTITIES
// =============================================================================

// Company is a lending or borrowing company.
type Company struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Employee is a person who can be lent. CompanyID is the employer of record.
type Employee struct {
	ID        string
	Name      string
	Email     string
	CompanyID string
	CreatedAt time.Time
}

// =============================================================================
// TRANSACTION - One engagement
// =============================================================================

// Common status labels. The engine never interprets them.
const (
	StatusPending   = "Pending"
	StatusActive    = "Active"
	StatusCompleted = "Completed"
	StatusCancelled = "Cancelled"
)

// Transaction is one employee's assignment from the loan company to the
// borrowing company over [Key.StartDate, EndDate).
type Transaction struct {
	Key       Key
	EndDate   Date
	TotalCost decimal.Decimal
	Status    string

	// Denormalized references, filled by the store or by hydration.
	LoanCompany      *Company
	BorrowingCompany *Company
	Employee         *Employee

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Period returns the engagement as a half-open range.
func (t Transaction) Period() Period {
	return Period{Start: t.Key.StartDate, End: t.EndDate}
}

// Validate checks the candidate before any lookup happens.
func (t Transaction) Validate() error {
	if err := t.Key.Validate(); err != nil {
		return err
	}
	if err := t.Period().Validate(); err != nil {
		return err
	}
	if t.TotalCost.IsNegative() {
		return &InvalidInputError{Field: "total_cost", Reason: "must not be negative"}
	}
	return nil
}

// Days is the engagement length in days.
func (t Transaction) Days() int {
	return t.Period().Days()
}

// Clone returns a copy that shares no reference pointers with t.
func (t Transaction) Clone() Transaction {
	out := t
	if t.LoanCompany != nil {
		c := *t.LoanCompany
		out.LoanCompany = &c
	}
	if t.BorrowingCompany != nil {
		c := *t.BorrowingCompany
		out.BorrowingCompany = &c
	}
	if t.Employee != nil {
		e := *t.Employee
		out.Employee = &e
	}
	return out
}
