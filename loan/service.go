/*
service.go - Transaction lifecycle: create, replace, status update, delete

PURPOSE:
  Orchestrates every change to an employee's loans. Resolves the parties,
  checks the candidate period against all of the employee's other
  engagements, and delegates storage to the Repository.

INVARIANT:
  For any employee, all transactions are pairwise non-overlapping under
  half-open semantics [start, end).

OPERATIONS:
  Create        New identity. Conflict scan over all of the employee's loans.
  Replace       Identity may change. Old record located by (employee, original
                start date), excluded from the conflict scan, then deleted and
                the candidate inserted, atomically when the repository can.
  UpdateStatus  Identity fixed. Status rewritten in place, no conflict scan.
  Delete        Located by (employee, start date), removed by full key.

CONCURRENCY:
  Mutations take a per-employee lock for their whole read-check-write
  sequence. Across processes, the SQL stores reject overlapping inserts
  themselves; that rejection comes back as AlreadyExistsError.

SEE ALSO:
  - interval.go: Conflicts, CheckAgainstAll
  - repository.go: Collaborator contracts
  - errors.go: Error taxonomy
*/
package loan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Service is stateless between calls apart from the per-employee locks.
type Service struct {
	repo      Repository
	employees EmployeeLookup
	companies CompanyLookup
	publisher Publisher
	clock     Clock
	logger    *zap.Logger
	locks     *keyedMutex
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPublisher sets where committed changes are announced.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock overrides the time source used for CreatedAt/UpdatedAt.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewService wires the engine to its collaborators.
func NewService(repo Repository, employees EmployeeLookup, companies CompanyLookup, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		employees: employees,
		companies: companies,
		clock:     realClock{},
		logger:    zap.NewNop(),
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("loan_service")
	return s
}

// OriginalRef locates the transaction a Replace supersedes.
// An empty EmployeeID means "same employee as the candidate".
type OriginalRef struct {
	EmployeeID string
	StartDate  Date
}

// ReplaceInput is the candidate plus the identity it supersedes.
type ReplaceInput struct {
	Original  OriginalRef
	Candidate *Transaction
}

// =============================================================================
// CREATE
// =============================================================================

// Create stores a new engagement if the employee is free for the whole period.
func (s *Service) Create(ctx context.Context, candidate *Transaction) (*Transaction, error) {
	tx, err := normalizeCandidate(candidate)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(tx.Key.EmployeeID)
	defer unlock()

	if err := s.resolveParties(ctx, &tx); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByEmployee(ctx, tx.Key.EmployeeID)
	if err != nil {
		return nil, fmt.Errorf("load transactions of employee %s: %w", tx.Key.EmployeeID, err)
	}
	if err := CheckAgainstAll(tx, existing, nil); err != nil {
		s.logger.Info("schedule conflict on create", zap.Error(err))
		return nil, err
	}

	now := s.clock.Now()
	tx.CreatedAt = now
	tx.UpdatedAt = now

	if err := s.repo.Insert(ctx, tx); err != nil {
		return nil, wrapStoreErr("insert transaction", err)
	}

	s.logger.Info("transaction created",
		zap.Stringer("key", tx.Key),
		zap.Stringer("period", tx.Period()),
		zap.String("status", tx.Status),
	)
	s.publish(ctx, Event{Type: EventCreated, Transaction: ptr(tx.Clone()), OccurredAt: now})

	return &tx, nil
}

// =============================================================================
// REPLACE
// =============================================================================

// Replace supersedes the transaction at in.Original with in.Candidate, whose
// key may differ in any component.
func (s *Service) Replace(ctx context.Context, in ReplaceInput) (*Transaction, error) {
	tx, err := normalizeCandidate(in.Candidate)
	if err != nil {
		return nil, err
	}

	origEmployee := strings.TrimSpace(in.Original.EmployeeID)
	if origEmployee == "" {
		origEmployee = tx.Key.EmployeeID
	}
	if in.Original.StartDate.IsZero() {
		return nil, &InvalidInputError{Field: "original_start_date", Reason: "is required"}
	}
	origStart := DateOf(in.Original.StartDate.Time)

	unlock := s.locks.Lock(origEmployee, tx.Key.EmployeeID)
	defer unlock()

	if err := s.resolveParties(ctx, &tx); err != nil {
		return nil, err
	}

	old, err := s.repo.FindByEmployeeAndStartDate(ctx, origEmployee, origStart)
	if err != nil {
		return nil, fmt.Errorf("load original transaction: %w", err)
	}
	if old == nil {
		return nil, notFound(EntityTransaction, origEmployee+"@"+origStart.String())
	}

	existing, err := s.repo.FindByEmployee(ctx, tx.Key.EmployeeID)
	if err != nil {
		return nil, fmt.Errorf("load transactions of employee %s: %w", tx.Key.EmployeeID, err)
	}
	if err := CheckAgainstAll(tx, existing, &old.Key); err != nil {
		s.logger.Info("schedule conflict on replace",
			zap.Stringer("original", old.Key),
			zap.Error(err),
		)
		return nil, err
	}

	now := s.clock.Now()
	tx.CreatedAt = old.CreatedAt
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now

	if err := s.swap(ctx, *old, tx); err != nil {
		return nil, err
	}

	s.logger.Info("transaction replaced",
		zap.Stringer("original", old.Key),
		zap.Stringer("key", tx.Key),
		zap.Stringer("period", tx.Period()),
	)
	s.publish(ctx, Event{
		Type:        EventReplaced,
		Transaction: ptr(tx.Clone()),
		Previous:    ptr(old.Clone()),
		OccurredAt:  now,
	})

	return &tx, nil
}

// swap deletes old and inserts next as one unit.
func (s *Service) swap(ctx context.Context, old, next Transaction) error {
	if txRepo, ok := s.repo.(TxRepository); ok {
		err := txRepo.WithTx(ctx, func(r Repository) error {
			if err := r.DeleteByKey(ctx, old.Key); err != nil {
				return wrapStoreErr("delete original transaction", err)
			}
			if err := r.Insert(ctx, next); err != nil {
				return wrapStoreErr("insert replacement transaction", err)
			}
			return nil
		})
		return err
	}

	if err := s.repo.DeleteByKey(ctx, old.Key); err != nil {
		return wrapStoreErr("delete original transaction", err)
	}
	if err := s.repo.Insert(ctx, next); err != nil {
		if restoreErr := s.repo.Insert(ctx, old); restoreErr != nil {
			s.logger.Error("failed to restore original after failed replace",
				zap.Stringer("key", old.Key),
				zap.Error(restoreErr),
			)
			return errors.Join(wrapStoreErr("insert replacement transaction", err), restoreErr)
		}
		return wrapStoreErr("insert replacement transaction", err)
	}
	return nil
}

// =============================================================================
// STATUS UPDATE & DELETE
// =============================================================================

// UpdateStatus rewrites the status of the transaction starting on startDate.
// Status never affects scheduling, so there is no conflict scan.
func (s *Service) UpdateStatus(ctx context.Context, employeeID string, startDate Date, status string) (*Transaction, error) {
	employeeID, startDate, err := requireLocator(employeeID, startDate)
	if err != nil {
		return nil, err
	}
	status = strings.TrimSpace(status)
	if status == "" {
		return nil, &InvalidInputError{Field: "status", Reason: "is required"}
	}

	unlock := s.locks.Lock(employeeID)
	defer unlock()

	tx, err := s.find(ctx, employeeID, startDate)
	if err != nil {
		return nil, err
	}

	previous := tx.Status
	tx.Status = status
	tx.UpdatedAt = s.clock.Now()

	if err := s.repo.Save(ctx, *tx); err != nil {
		return nil, wrapStoreErr("save transaction", err)
	}

	s.logger.Info("transaction status updated",
		zap.Stringer("key", tx.Key),
		zap.String("from", previous),
		zap.String("to", status),
	)

	hydrated := s.hydrate(ctx, []Transaction{*tx})[0]
	s.publish(ctx, Event{Type: EventStatusUpdated, Transaction: ptr(hydrated.Clone()), OccurredAt: tx.UpdatedAt})

	return &hydrated, nil
}

// Delete removes the transaction starting on startDate.
func (s *Service) Delete(ctx context.Context, employeeID string, startDate Date) error {
	employeeID, startDate, err := requireLocator(employeeID, startDate)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(employeeID)
	defer unlock()

	tx, err := s.find(ctx, employeeID, startDate)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteByKey(ctx, tx.Key); err != nil {
		return wrapStoreErr("delete transaction", err)
	}

	s.logger.Info("transaction deleted", zap.Stringer("key", tx.Key))
	s.publish(ctx, Event{Type: EventDeleted, Previous: ptr(tx.Clone()), OccurredAt: s.clock.Now()})

	return nil
}

// =============================================================================
// READ PROJECTIONS
// =============================================================================

// ListByLoanCompany returns the transactions lent out by companyID.
func (s *Service) ListByLoanCompany(ctx context.Context, companyID string) ([]Transaction, error) {
	companyID = strings.TrimSpace(companyID)
	if companyID == "" {
		return nil, &InvalidInputError{Field: "loan_company_id", Reason: "is required"}
	}
	txs, err := s.repo.FindByLoanCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("list by loan company: %w", err)
	}
	return s.project(ctx, txs, func(t Transaction) bool { return t.Key.LoanCompanyID == companyID }), nil
}

// ListByBorrowingCompany returns the transactions borrowed by companyID.
func (s *Service) ListByBorrowingCompany(ctx context.Context, companyID string) ([]Transaction, error) {
	companyID = strings.TrimSpace(companyID)
	if companyID == "" {
		return nil, &InvalidInputError{Field: "borrowing_company_id", Reason: "is required"}
	}
	txs, err := s.repo.FindByBorrowingCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("list by borrowing company: %w", err)
	}
	return s.project(ctx, txs, func(t Transaction) bool { return t.Key.BorrowingCompanyID == companyID }), nil
}

// ListByEmployee returns every engagement of the employee.
func (s *Service) ListByEmployee(ctx context.Context, employeeID string) ([]Transaction, error) {
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return nil, &InvalidInputError{Field: "employee_id", Reason: "is required"}
	}
	txs, err := s.repo.FindByEmployee(ctx, employeeID)
	if err != nil {
		return nil, fmt.Errorf("list by employee: %w", err)
	}
	return s.project(ctx, txs, func(t Transaction) bool { return t.Key.EmployeeID == employeeID }), nil
}

// ListAll returns every stored transaction.
func (s *Service) ListAll(ctx context.Context) ([]Transaction, error) {
	txs, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return s.project(ctx, txs, nil), nil
}

// GetByEmployeeAndStartDate returns the transaction starting on startDate.
func (s *Service) GetByEmployeeAndStartDate(ctx context.Context, employeeID string, startDate Date) (*Transaction, error) {
	employeeID, startDate, err := requireLocator(employeeID, startDate)
	if err != nil {
		return nil, err
	}
	tx, err := s.find(ctx, employeeID, startDate)
	if err != nil {
		return nil, err
	}
	hydrated := s.hydrate(ctx, []Transaction{*tx})[0]
	return &hydrated, nil
}

// project filters, hydrates and orders a result set.
func (s *Service) project(ctx context.Context, txs []Transaction, keep func(Transaction) bool) []Transaction {
	out := make([]Transaction, 0, len(txs))
	for _, t := range txs {
		if keep == nil || keep(t) {
			out = append(out, t)
		}
	}
	out = s.hydrate(ctx, out)
	sortTransactions(out)
	return out
}

// hydrate fills missing party references. A party that can no longer be
// resolved stays nil; reads never fail because of it.
func (s *Service) hydrate(ctx context.Context, txs []Transaction) []Transaction {
	companies := make(map[string]*Company)
	employees := make(map[string]*Employee)

	company := func(id string) *Company {
		if c, ok := companies[id]; ok {
			return c
		}
		c, err := s.companies.GetCompany(ctx, id)
		if err != nil {
			s.logger.Debug("company not resolvable for projection", zap.String("company_id", id), zap.Error(err))
			c = nil
		}
		companies[id] = c
		return c
	}
	employee := func(id string) *Employee {
		if e, ok := employees[id]; ok {
			return e
		}
		e, err := s.employees.GetEmployee(ctx, id)
		if err != nil {
			s.logger.Debug("employee not resolvable for projection", zap.String("employee_id", id), zap.Error(err))
			e = nil
		}
		employees[id] = e
		return e
	}

	for i := range txs {
		if txs[i].LoanCompany == nil {
			txs[i].LoanCompany = company(txs[i].Key.LoanCompanyID)
		}
		if txs[i].BorrowingCompany == nil {
			txs[i].BorrowingCompany = company(txs[i].Key.BorrowingCompanyID)
		}
		if txs[i].Employee == nil {
			txs[i].Employee = employee(txs[i].Key.EmployeeID)
		}
	}
	return txs
}

// =============================================================================
// HELPERS
// =============================================================================

// resolveParties checks that the employee and both companies exist and
// attaches them to tx.
func (s *Service) resolveParties(ctx context.Context, tx *Transaction) error {
	emp, err := s.employees.GetEmployee(ctx, tx.Key.EmployeeID)
	if err != nil {
		return lookupErr(EntityEmployee, tx.Key.EmployeeID, err)
	}
	if emp == nil {
		return notFound(EntityEmployee, tx.Key.EmployeeID)
	}

	loanCo, err := s.companies.GetCompany(ctx, tx.Key.LoanCompanyID)
	if err != nil {
		return lookupErr(EntityCompany, tx.Key.LoanCompanyID, err)
	}
	if loanCo == nil {
		return notFound(EntityCompany, tx.Key.LoanCompanyID)
	}

	borrowCo, err := s.companies.GetCompany(ctx, tx.Key.BorrowingCompanyID)
	if err != nil {
		return lookupErr(EntityCompany, tx.Key.BorrowingCompanyID, err)
	}
	if borrowCo == nil {
		return notFound(EntityCompany, tx.Key.BorrowingCompanyID)
	}

	tx.Employee = emp
	tx.LoanCompany = loanCo
	tx.BorrowingCompany = borrowCo
	return nil
}

func (s *Service) find(ctx context.Context, employeeID string, startDate Date) (*Transaction, error) {
	tx, err := s.repo.FindByEmployeeAndStartDate(ctx, employeeID, startDate)
	if err != nil {
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	if tx == nil {
		return nil, notFound(EntityTransaction, employeeID+"@"+startDate.String())
	}
	return tx, nil
}

func (s *Service) publish(ctx context.Context, event Event) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, event)
}

// normalizeCandidate copies the candidate with a trimmed key and validates it.
func normalizeCandidate(candidate *Transaction) (Transaction, error) {
	if candidate == nil {
		return Transaction{}, &InvalidInputError{Field: "transaction", Reason: "is required"}
	}
	tx := candidate.Clone()

	key, err := NewKey(tx.Key.LoanCompanyID, tx.Key.BorrowingCompanyID, tx.Key.EmployeeID, tx.Key.StartDate)
	if err != nil {
		return Transaction{}, err
	}
	tx.Key = key
	tx.EndDate = DateOf(tx.EndDate.Time)

	if err := tx.Validate(); err != nil {
		return Transaction{}, err
	}
	if tx.Key.LoanCompanyID == tx.Key.BorrowingCompanyID {
		return Transaction{}, &InvalidInputError{
			Field:  "borrowing_company_id",
			Reason: "must differ from loan_company_id",
		}
	}
	tx.Status = strings.TrimSpace(tx.Status)

	// References are re-resolved from the key, never trusted from the caller.
	tx.LoanCompany, tx.BorrowingCompany, tx.Employee = nil, nil, nil
	return tx, nil
}

func requireLocator(employeeID string, startDate Date) (string, Date, error) {
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return "", Date{}, &InvalidInputError{Field: "employee_id", Reason: "is required"}
	}
	if startDate.IsZero() {
		return "", Date{}, &InvalidInputError{Field: "start_date", Reason: "is required"}
	}
	return employeeID, DateOf(startDate.Time), nil
}

func lookupErr(entity, id string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return notFound(entity, id)
	}
	return fmt.Errorf("lookup %s %s: %w", entity, id, err)
}

// wrapStoreErr keeps domain errors as they are and annotates the rest.
func wrapStoreErr(op string, err error) error {
	if errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func sortTransactions(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := txs[i].Key, txs[j].Key
		if !a.StartDate.Equal(b.StartDate) {
			return a.StartDate.Before(b.StartDate)
		}
		if a.EmployeeID != b.EmployeeID {
			return a.EmployeeID < b.EmployeeID
		}
		if a.LoanCompanyID != b.LoanCompanyID {
			return a.LoanCompanyID < b.LoanCompanyID
		}
		return a.BorrowingCompanyID < b.BorrowingCompanyID
	})
}

func ptr[T any](v T) *T { return &v }
