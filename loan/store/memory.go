// Package store provides an in-memory implementation of the loan collaborators.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/loan-engine/loan"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements loan.TxRepository and loan.Directory.
// Like the SQL stores, Insert rejects a key that exists or a period that
// overlaps another engagement of the same employee.
type Memory struct {
	mu           sync.RWMutex
	transactions map[loan.Key]loan.Transaction
	companies    map[string]loan.Company
	employees    map[string]loan.Employee
}

func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[loan.Key]loan.Transaction),
		companies:    make(map[string]loan.Company),
		employees:    make(map[string]loan.Employee),
	}
}

// =============================================================================
// REPOSITORY
// =============================================================================

func (m *Memory) FindByEmployee(_ context.Context, employeeID string) ([]loan.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(t loan.Transaction) bool { return t.Key.EmployeeID == employeeID }), nil
}

func (m *Memory) FindByKey(_ context.Context, key loan.Key) (*loan.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findByKeyLocked(key), nil
}

func (m *Memory) FindByEmployeeAndStartDate(_ context.Context, employeeID string, startDate loan.Date) (*loan.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findByEmployeeAndStartLocked(employeeID, startDate), nil
}

func (m *Memory) FindByLoanCompany(_ context.Context, companyID string) ([]loan.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(t loan.Transaction) bool { return t.Key.LoanCompanyID == companyID }), nil
}

func (m *Memory) FindByBorrowingCompany(_ context.Context, companyID string) ([]loan.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(t loan.Transaction) bool { return t.Key.BorrowingCompanyID == companyID }), nil
}

func (m *Memory) FindAll(_ context.Context) ([]loan.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(nil), nil
}

// Insert adds a transaction. Rejects an existing key or an overlapping period.
func (m *Memory) Insert(_ context.Context, tx loan.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(tx)
}

// Save rewrites the mutable fields of a stored key.
func (m *Memory) Save(_ context.Context, tx loan.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(tx)
}

func (m *Memory) DeleteByKey(_ context.Context, key loan.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(key)
}

func (m *Memory) filterLocked(keep func(loan.Transaction) bool) []loan.Transaction {
	var result []loan.Transaction
	for _, t := range m.transactions {
		if keep == nil || keep(t) {
			result = append(result, t.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key.StartDate.Before(result[j].Key.StartDate)
	})
	return result
}

func (m *Memory) findByKeyLocked(key loan.Key) *loan.Transaction {
	t, ok := m.transactions[key]
	if !ok {
		return nil
	}
	c := t.Clone()
	return &c
}

func (m *Memory) findByEmployeeAndStartLocked(employeeID string, startDate loan.Date) *loan.Transaction {
	for k, t := range m.transactions {
		if k.EmployeeID == employeeID && k.StartDate == startDate {
			c := t.Clone()
			return &c
		}
	}
	return nil
}

func (m *Memory) insertLocked(tx loan.Transaction) error {
	if _, ok := m.transactions[tx.Key]; ok {
		return &loan.AlreadyExistsError{Key: tx.Key}
	}
	for k, t := range m.transactions {
		if k.EmployeeID == tx.Key.EmployeeID && t.Period().Overlaps(tx.Period()) {
			return &loan.AlreadyExistsError{Key: tx.Key}
		}
	}
	m.transactions[tx.Key] = tx.Clone()
	return nil
}

func (m *Memory) saveLocked(tx loan.Transaction) error {
	cur, ok := m.transactions[tx.Key]
	if !ok {
		return &loan.NotFoundError{Entity: loan.EntityTransaction, ID: tx.Key.String()}
	}
	cur.EndDate = tx.EndDate
	cur.TotalCost = tx.TotalCost
	cur.Status = tx.Status
	cur.UpdatedAt = tx.UpdatedAt
	m.transactions[tx.Key] = cur
	return nil
}

func (m *Memory) deleteLocked(key loan.Key) error {
	if _, ok := m.transactions[key]; !ok {
		return &loan.NotFoundError{Entity: loan.EntityTransaction, ID: key.String()}
	}
	delete(m.transactions, key)
	return nil
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// WithTx runs fn against a view of the store. If fn fails, the store is
// restored from a snapshot taken before fn ran.
func (m *Memory) WithTx(_ context.Context, fn func(repo loan.Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(map[loan.Key]loan.Transaction, len(m.transactions))
	for k, v := range m.transactions {
		snapshot[k] = v
	}

	if err := fn(&txView{parent: m}); err != nil {
		m.transactions = snapshot
		return err
	}
	return nil
}

// txView runs against the parent while WithTx holds its lock.
type txView struct {
	parent *Memory
}

func (v *txView) FindByEmployee(_ context.Context, employeeID string) ([]loan.Transaction, error) {
	return v.parent.filterLocked(func(t loan.Transaction) bool { return t.Key.EmployeeID == employeeID }), nil
}

func (v *txView) FindByKey(_ context.Context, key loan.Key) (*loan.Transaction, error) {
	return v.parent.findByKeyLocked(key), nil
}

func (v *txView) FindByEmployeeAndStartDate(_ context.Context, employeeID string, startDate loan.Date) (*loan.Transaction, error) {
	return v.parent.findByEmployeeAndStartLocked(employeeID, startDate), nil
}

func (v *txView) FindByLoanCompany(_ context.Context, companyID string) ([]loan.Transaction, error) {
	return v.parent.filterLocked(func(t loan.Transaction) bool { return t.Key.LoanCompanyID == companyID }), nil
}

func (v *txView) FindByBorrowingCompany(_ context.Context, companyID string) ([]loan.Transaction, error) {
	return v.parent.filterLocked(func(t loan.Transaction) bool { return t.Key.BorrowingCompanyID == companyID }), nil
}

func (v *txView) FindAll(_ context.Context) ([]loan.Transaction, error) {
	return v.parent.filterLocked(nil), nil
}

func (v *txView) Insert(_ context.Context, tx loan.Transaction) error {
	return v.parent.insertLocked(tx)
}

func (v *txView) Save(_ context.Context, tx loan.Transaction) error {
	return v.parent.saveLocked(tx)
}

func (v *txView) DeleteByKey(_ context.Context, key loan.Key) error {
	return v.parent.deleteLocked(key)
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (m *Memory) SaveCompany(_ context.Context, c loan.Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.companies[c.ID] = c
	return nil
}

func (m *Memory) GetCompany(_ context.Context, id string) (*loan.Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.companies[id]
	if !ok {
		return nil, &loan.NotFoundError{Entity: loan.EntityCompany, ID: id}
	}
	return &c, nil
}

func (m *Memory) ListCompanies(_ context.Context) ([]loan.Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]loan.Company, 0, len(m.companies))
	for _, c := range m.companies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) SaveEmployee(_ context.Context, e loan.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[e.ID] = e
	return nil
}

func (m *Memory) GetEmployee(_ context.Context, id string) (*loan.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[id]
	if !ok {
		return nil, &loan.NotFoundError{Entity: loan.EntityEmployee, ID: id}
	}
	return &e, nil
}

func (m *Memory) ListEmployees(_ context.Context) ([]loan.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]loan.Employee, 0, len(m.employees))
	for _, e := range m.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Reset drops all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions = make(map[loan.Key]loan.Transaction)
	m.companies = make(map[string]loan.Company)
	m.employees = make(map[string]loan.Employee)
	return nil
}
