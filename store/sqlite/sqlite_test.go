package sqlite_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loan-engine/loan"
	"github.com/warp/loan-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SaveCompany(ctx, loan.Company{ID: "acme", Name: "Acme Corp"}))
	require.NoError(t, store.SaveCompany(ctx, loan.Company{ID: "globex", Name: "Globex"}))
	require.NoError(t, store.SaveEmployee(ctx, loan.Employee{ID: "emp-1", Name: "Ada Lovelace", Email: "ada@acme.test", CompanyID: "acme"}))
	require.NoError(t, store.SaveEmployee(ctx, loan.Employee{ID: "emp-2", Name: "Alan Turing", CompanyID: "acme"}))
	return store
}

func engagement(employee, start, end string) loan.Transaction {
	return loan.Transaction{
		Key: loan.Key{
			LoanCompanyID:      "acme",
			BorrowingCompanyID: "globex",
			EmployeeID:         employee,
			StartDate:          loan.MustParseDate(start),
		},
		EndDate:   loan.MustParseDate(end),
		TotalCost: decimal.RequireFromString("1234.56"),
		Status:    loan.StatusPending,
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestInsertAndFind(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	tx := engagement("emp-1", "2021-01-10", "2021-01-20")

	require.NoError(t, store.Insert(ctx, tx))

	got, err := store.FindByKey(ctx, tx.Key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, tx.Key, got.Key)
	assert.Equal(t, tx.EndDate, got.EndDate)
	assert.True(t, got.TotalCost.Equal(tx.TotalCost), "cost %s", got.TotalCost)
	require.NotNil(t, got.LoanCompany)
	assert.Equal(t, "Acme Corp", got.LoanCompany.Name)
	require.NotNil(t, got.Employee)
	assert.Equal(t, "ada@acme.test", got.Employee.Email)

	byStart, err := store.FindByEmployeeAndStartDate(ctx, "emp-1", loan.MustParseDate("2021-01-10"))
	require.NoError(t, err)
	require.NotNil(t, byStart)

	missing, err := store.FindByEmployeeAndStartDate(ctx, "emp-1", loan.MustParseDate("2021-01-11"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInsert_Backstop(t *testing.T) {
	tests := []struct {
		name      string
		candidate loan.Transaction
		wantErr   error
	}{
		{"duplicate key", engagement("emp-1", "2021-01-10", "2021-01-20"), loan.ErrAlreadyExists},
		{"overlap starts inside", engagement("emp-1", "2021-01-11", "2021-01-25"), loan.ErrAlreadyExists},
		{"overlap ends inside", engagement("emp-1", "2021-01-05", "2021-01-15"), loan.ErrAlreadyExists},
		{"adjacent after", engagement("emp-1", "2021-01-20", "2021-01-21"), nil},
		{"adjacent before", engagement("emp-1", "2021-01-05", "2021-01-10"), nil},
		{"other employee", engagement("emp-2", "2021-01-10", "2021-01-20"), nil},
		{"unknown employee", engagement("ghost", "2021-03-01", "2021-03-02"), loan.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			ctx := context.Background()
			require.NoError(t, store.Insert(ctx, engagement("emp-1", "2021-01-10", "2021-01-20")))

			err := store.Insert(ctx, tt.candidate)

			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSave_UpdatesInPlace(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	tx := engagement("emp-1", "2021-01-10", "2021-01-20")
	require.NoError(t, store.Insert(ctx, tx))
	require.NoError(t, store.Insert(ctx, engagement("emp-1", "2021-01-25", "2021-02-01")))

	tx.Status = loan.StatusCompleted
	require.NoError(t, store.Save(ctx, tx))

	got, err := store.FindByKey(ctx, tx.Key)
	require.NoError(t, err)
	assert.Equal(t, loan.StatusCompleted, got.Status)
	assert.Equal(t, tx.EndDate, got.EndDate)

	// Stretching into the next engagement trips the update trigger.
	tx.EndDate = loan.MustParseDate("2021-01-28")
	assert.ErrorIs(t, store.Save(ctx, tx), loan.ErrAlreadyExists)

	ghost := engagement("emp-2", "2021-05-01", "2021-05-02")
	assert.ErrorIs(t, store.Save(ctx, ghost), loan.ErrNotFound)
}

func TestDeleteByKey(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	tx := engagement("emp-1", "2021-01-10", "2021-01-20")
	require.NoError(t, store.Insert(ctx, tx))

	require.NoError(t, store.DeleteByKey(ctx, tx.Key))
	assert.ErrorIs(t, store.DeleteByKey(ctx, tx.Key), loan.ErrNotFound)
}

func TestFindByCompany(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveCompany(ctx, loan.Company{ID: "initech", Name: "Initech"}))

	a := engagement("emp-1", "2021-01-10", "2021-01-20")
	b := engagement("emp-2", "2021-01-01", "2021-01-05")
	b.Key.LoanCompanyID = "initech"
	require.NoError(t, store.Insert(ctx, a))
	require.NoError(t, store.Insert(ctx, b))

	lent, err := store.FindByLoanCompany(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, lent, 1)
	assert.Equal(t, a.Key, lent[0].Key)

	borrowed, err := store.FindByBorrowingCompany(ctx, "globex")
	require.NoError(t, err)
	assert.Len(t, borrowed, 2)

	all, err := store.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b.Key, all[0].Key)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	original := engagement("emp-1", "2021-01-10", "2021-01-20")
	require.NoError(t, store.Insert(ctx, original))

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(r loan.Repository) error {
		require.NoError(t, r.DeleteByKey(ctx, original.Key))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.FindByKey(ctx, original.Key)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestService_ReplaceIsAtomic(t *testing.T) {
	// GIVEN: emp-1 on [01-10, 01-20) and emp-2 on [02-01, 02-10)
	store := newStore(t)
	ctx := context.Background()
	svc := loan.NewService(store, store, store)

	first, err := svc.Create(ctx, ptr(engagement("emp-1", "2021-01-10", "2021-01-20")))
	require.NoError(t, err)
	_, err = svc.Create(ctx, ptr(engagement("emp-2", "2021-02-01", "2021-02-10")))
	require.NoError(t, err)

	// WHEN: the first engagement moves to a new start date
	moved, err := svc.Replace(ctx, loan.ReplaceInput{
		Original:  loan.OriginalRef{EmployeeID: "emp-1", StartDate: first.Key.StartDate},
		Candidate: ptr(engagement("emp-1", "2021-01-15", "2021-01-30")),
	})
	require.NoError(t, err)

	// THEN
	txs, err := svc.ListByEmployee(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, moved.Key, txs[0].Key)
	assert.Equal(t, "Globex", txs[0].BorrowingCompany.Name)

	// Status updates never touch the schedule.
	_, err = svc.UpdateStatus(ctx, "emp-1", moved.Key.StartDate, loan.StatusActive)
	require.NoError(t, err)
	lent, err := svc.ListByLoanCompany(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, lent, 2)
	assert.Equal(t, moved.Period(), lent[0].Period())
}

// =============================================================================
// DIRECTORY
// =============================================================================

func TestDirectory(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	companies, err := store.ListCompanies(ctx)
	require.NoError(t, err)
	require.Len(t, companies, 2)
	assert.Equal(t, "Acme Corp", companies[0].Name)

	_, err = store.GetCompany(ctx, "nope")
	var nf *loan.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, loan.EntityCompany, nf.Entity)

	require.NoError(t, store.SaveEmployee(ctx, loan.Employee{ID: "emp-1", Name: "Ada King", CompanyID: "globex"}))
	emp, err := store.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada King", emp.Name)
	assert.Equal(t, "globex", emp.CompanyID)

	_, err = store.GetEmployee(ctx, "ghost")
	assert.ErrorIs(t, err, loan.ErrNotFound)

	require.NoError(t, store.Reset(ctx))
	employees, err := store.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Empty(t, employees)
}

func ptr[T any](v T) *T { return &v }
