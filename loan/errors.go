/*
errors.go - Error taxonomy for the loan engine

PURPOSE:
  Every outcome the engine can refuse is a returned error, never a panic.
  Callers branch with errors.Is on the sentinels and pull details out with
  errors.As on the structured types.

ERROR KINDS:
  InvalidInput     Missing field, malformed key, end_date <= start_date
  NotFound         Employee, company or transaction does not exist
  ScheduleConflict Candidate overlaps another engagement of the same employee
  AlreadyExists    The store rejected an insert the in-process check let through.
                   Classified as a conflict (errors.Is matches both sentinels).

TRANSPORT MAPPING (done by callers, see api/errors.go):
  InvalidInput -> 400, NotFound -> 404, ScheduleConflict/AlreadyExists -> 409

SEE ALSO:
  - service.go: Produces these errors
  - store/sqlite, store/postgres: Translate constraint violations to AlreadyExistsError
*/
package loan

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInput is returned for missing or malformed input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrScheduleConflict is returned when a loan period overlaps another
	// engagement of the same employee.
	ErrScheduleConflict = errors.New("schedule conflict")

	// ErrAlreadyExists is returned when the store's own uniqueness or overlap
	// constraint rejects an insert.
	ErrAlreadyExists = errors.New("already exists")
)

// Entity names carried by NotFoundError.
const (
	EntityEmployee    = "employee"
	EntityCompany     = "company"
	EntityTransaction = "transaction"
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidInputError names the offending field.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid input: %s %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// NotFoundError names the missing entity and the identifier that was looked up.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ScheduleConflictError carries the colliding transaction for diagnostics.
type ScheduleConflictError struct {
	Candidate       Key
	CandidatePeriod Period
	Existing        Key
	ExistingPeriod  Period
}

func (e *ScheduleConflictError) Error() string {
	return fmt.Sprintf("employee %s is already committed %s (transaction %s), requested %s",
		e.Existing.EmployeeID, e.ExistingPeriod, e.Existing, e.CandidatePeriod)
}

func (e *ScheduleConflictError) Unwrap() error { return ErrScheduleConflict }

// AlreadyExistsError is the storage-level backstop for ScheduleConflictError.
type AlreadyExistsError struct {
	Key Key
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("transaction already exists or overlaps a stored engagement: %s", e.Key)
}

func (e *AlreadyExistsError) Unwrap() []error {
	return []error{ErrAlreadyExists, ErrScheduleConflict}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is caused by the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNotFound) ||
		IsConflict(err)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true for schedule conflicts, including storage-level rejections.
func IsConflict(err error) bool {
	return errors.Is(err, ErrScheduleConflict) || errors.Is(err, ErrAlreadyExists)
}

func notFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}
