package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loan-engine/loan"
	"github.com/warp/loan-engine/loan/store"
)

func tx(employee, start, end string) loan.Transaction {
	return loan.Transaction{
		Key: loan.Key{
			LoanCompanyID:      "acme",
			BorrowingCompanyID: "globex",
			EmployeeID:         employee,
			StartDate:          loan.MustParseDate(start),
		},
		EndDate:   loan.MustParseDate(end),
		TotalCost: decimal.NewFromInt(100),
		Status:    loan.StatusPending,
	}
}

func TestMemory_InsertBackstop(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.Insert(ctx, tx("emp-1", "2021-01-10", "2021-01-20")))

	t.Run("same key", func(t *testing.T) {
		err := m.Insert(ctx, tx("emp-1", "2021-01-10", "2021-01-20"))
		assert.ErrorIs(t, err, loan.ErrAlreadyExists)
	})

	t.Run("overlapping period", func(t *testing.T) {
		err := m.Insert(ctx, tx("emp-1", "2021-01-15", "2021-01-25"))
		var exists *loan.AlreadyExistsError
		assert.ErrorAs(t, err, &exists)
	})

	t.Run("adjacent period", func(t *testing.T) {
		assert.NoError(t, m.Insert(ctx, tx("emp-1", "2021-01-20", "2021-01-25")))
	})

	t.Run("other employee", func(t *testing.T) {
		assert.NoError(t, m.Insert(ctx, tx("emp-2", "2021-01-10", "2021-01-20")))
	})
}

func TestMemory_SaveAndDelete(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	stored := tx("emp-1", "2021-01-10", "2021-01-20")
	require.NoError(t, m.Insert(ctx, stored))

	stored.Status = loan.StatusActive
	require.NoError(t, m.Save(ctx, stored))

	got, err := m.FindByEmployeeAndStartDate(ctx, "emp-1", stored.Key.StartDate)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, loan.StatusActive, got.Status)

	require.NoError(t, m.DeleteByKey(ctx, stored.Key))
	assert.ErrorIs(t, m.DeleteByKey(ctx, stored.Key), loan.ErrNotFound)
	assert.ErrorIs(t, m.Save(ctx, stored), loan.ErrNotFound)

	got, err = m.FindByKey(ctx, stored.Key)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemory_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	original := tx("emp-1", "2021-01-10", "2021-01-20")
	require.NoError(t, m.Insert(ctx, original))

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(repo loan.Repository) error {
		require.NoError(t, repo.DeleteByKey(ctx, original.Key))
		require.NoError(t, repo.Insert(ctx, tx("emp-1", "2021-02-01", "2021-02-05")))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	all, err := m.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, original.Key, all[0].Key)
}

func TestMemory_WithTxCommits(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	original := tx("emp-1", "2021-01-10", "2021-01-20")
	require.NoError(t, m.Insert(ctx, original))

	err := m.WithTx(ctx, func(repo loan.Repository) error {
		if err := repo.DeleteByKey(ctx, original.Key); err != nil {
			return err
		}
		return repo.Insert(ctx, tx("emp-1", "2021-01-12", "2021-01-22"))
	})
	require.NoError(t, err)

	all, err := m.FindByEmployee(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, loan.MustParseDate("2021-01-12"), all[0].Key.StartDate)
}

func TestMemory_Directory(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	require.NoError(t, m.SaveCompany(ctx, loan.Company{ID: "globex", Name: "Globex"}))
	require.NoError(t, m.SaveCompany(ctx, loan.Company{ID: "acme", Name: "Acme"}))
	require.NoError(t, m.SaveEmployee(ctx, loan.Employee{ID: "emp-1", Name: "Ada", CompanyID: "acme"}))

	companies, err := m.ListCompanies(ctx)
	require.NoError(t, err)
	require.Len(t, companies, 2)
	assert.Equal(t, "Acme", companies[0].Name)

	_, err = m.GetCompany(ctx, "nope")
	assert.ErrorIs(t, err, loan.ErrNotFound)

	e, err := m.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "acme", e.CompanyID)

	require.NoError(t, m.Reset(ctx))
	employees, err := m.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Empty(t, employees)
}
