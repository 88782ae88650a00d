/*
repository.go - Collaborator contracts consumed by the service

PURPOSE:
  The engine owns no state. Everything it reads or writes goes through the
  interfaces below, injected at construction.

IMPLEMENTATIONS:
  - loan/store/memory.go:      In-memory, for tests and local runs
  - store/sqlite/sqlite.go:    SQLite (overlap trigger as storage backstop)
  - store/postgres:            PostgreSQL (exclusion constraint as storage backstop)

WRITE CONTRACT:
  Insert is strict: a key that is already stored, or a period the store
  itself knows to overlap, must fail with *AlreadyExistsError. Save only
  rewrites the mutable fields of a stored key.

SEE ALSO:
  - service.go: The only caller
*/
package loan

import (
	"context"
	"time"
)

//go:generate mockgen -destination=repository_mock.go -package=loan . Repository,EmployeeLookup,CompanyLookup,Publisher

// EmployeeLookup resolves employees. Absent employees yield *NotFoundError.
type EmployeeLookup interface {
	GetEmployee(ctx context.Context, id string) (*Employee, error)
}

// CompanyLookup resolves companies. Absent companies yield *NotFoundError.
type CompanyLookup interface {
	GetCompany(ctx context.Context, id string) (*Company, error)
}

// Repository persists transactions by key.
type Repository interface {
	// FindByEmployee returns every transaction of the employee, in any order.
	FindByEmployee(ctx context.Context, employeeID string) ([]Transaction, error)

	// FindByKey returns nil, nil when the key is not stored.
	FindByKey(ctx context.Context, key Key) (*Transaction, error)

	// FindByEmployeeAndStartDate returns nil, nil when nothing starts that day.
	FindByEmployeeAndStartDate(ctx context.Context, employeeID string, startDate Date) (*Transaction, error)

	FindByLoanCompany(ctx context.Context, companyID string) ([]Transaction, error)
	FindByBorrowingCompany(ctx context.Context, companyID string) ([]Transaction, error)
	FindAll(ctx context.Context) ([]Transaction, error)

	// Insert stores a new transaction. Storage constraint violations are
	// reported as *AlreadyExistsError.
	Insert(ctx context.Context, tx Transaction) error

	// Save rewrites end date, cost and status of a stored key.
	Save(ctx context.Context, tx Transaction) error

	// DeleteByKey removes the transaction, *NotFoundError if absent.
	DeleteByKey(ctx context.Context, key Key) error
}

// TxRepository is a Repository that can run several calls atomically.
// If fn returns an error, nothing fn did is kept.
type TxRepository interface {
	Repository
	WithTx(ctx context.Context, fn func(repo Repository) error) error
}

// Directory is the company/employee catalogue used by the HTTP and CLI layers.
// The engine itself only needs the lookup halves.
type Directory interface {
	EmployeeLookup
	CompanyLookup
	SaveCompany(ctx context.Context, c Company) error
	ListCompanies(ctx context.Context) ([]Company, error)
	SaveEmployee(ctx context.Context, e Employee) error
	ListEmployees(ctx context.Context) ([]Employee, error)
}

// =============================================================================
// EVENTS
// =============================================================================

// EventType names a lifecycle change.
type EventType string

const (
	EventCreated       EventType = "transaction.created"
	EventReplaced      EventType = "transaction.replaced"
	EventStatusUpdated EventType = "transaction.status_updated"
	EventDeleted       EventType = "transaction.deleted"
)

// Event describes a committed change. Previous is set for replace and delete.
type Event struct {
	Type        EventType
	Transaction *Transaction
	Previous    *Transaction
	OccurredAt  time.Time
}

// Publisher receives committed changes. Implementations must not block the
// caller for long; failures are theirs to log.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}
