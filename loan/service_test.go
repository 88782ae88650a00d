package loan_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/loan-engine/loan"
	"github.com/warp/loan-engine/loan/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2021, time.January, 1, 9, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []loan.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e loan.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []loan.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]loan.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	ctx       context.Context
	mem       *store.Memory
	svc       *loan.Service
	publisher *recordingPublisher
	logs      *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()

	for _, c := range []loan.Company{
		{ID: "acme", Name: "Acme Corp"},
		{ID: "globex", Name: "Globex"},
		{ID: "initech", Name: "Initech"},
	} {
		require.NoError(t, mem.SaveCompany(ctx, c))
	}
	for _, e := range []loan.Employee{
		{ID: "emp-1", Name: "Ada Lovelace", CompanyID: "acme"},
		{ID: "emp-2", Name: "Alan Turing", CompanyID: "acme"},
	} {
		require.NoError(t, mem.SaveEmployee(ctx, e))
	}

	core, logs := observer.New(zapcore.DebugLevel)
	pub := &recordingPublisher{}
	svc := loan.NewService(mem, mem, mem,
		loan.WithLogger(zap.New(core)),
		loan.WithPublisher(pub),
		loan.WithClock(fixedClock{testNow}),
	)
	return &fixture{ctx: ctx, mem: mem, svc: svc, publisher: pub, logs: logs}
}

func candidate(loanCo, borrowCo, employee, start, end string) *loan.Transaction {
	return &loan.Transaction{
		Key: loan.Key{
			LoanCompanyID:      loanCo,
			BorrowingCompanyID: borrowCo,
			EmployeeID:         employee,
			StartDate:          d(start),
		},
		EndDate:   d(end),
		TotalCost: decimal.RequireFromString("1500.00"),
		Status:    loan.StatusPending,
	}
}

// seedBaseline stores emp-1 on [2021-01-10, 2021-01-20) from acme to globex.
func (f *fixture) seedBaseline(t *testing.T) *loan.Transaction {
	t.Helper()
	tx, err := f.svc.Create(f.ctx, candidate("acme", "globex", "emp-1", "2021-01-10", "2021-01-20"))
	require.NoError(t, err)
	return tx
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_StoresAndHydrates(t *testing.T) {
	f := newFixture(t)

	tx := f.seedBaseline(t)

	assert.Equal(t, "Acme Corp", tx.LoanCompany.Name)
	assert.Equal(t, "Globex", tx.BorrowingCompany.Name)
	assert.Equal(t, "Ada Lovelace", tx.Employee.Name)
	assert.Equal(t, testNow, tx.CreatedAt)
	assert.Equal(t, 10, tx.Days())

	stored, err := f.mem.FindByKey(f.ctx, tx.Key)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.TotalCost.Equal(decimal.RequireFromString("1500")))

	assert.Equal(t, []loan.EventType{loan.EventCreated}, f.publisher.types())
	assert.Equal(t, 1, f.logs.FilterMessage("transaction created").Len())
}

func TestCreate_ScheduleScenarios(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		conflict   bool
	}{
		{"baseline conflict", "2021-01-10", "2021-01-20", true},
		{"internal-start conflict", "2021-01-11", "2021-01-25", true},
		{"internal-end conflict", "2021-01-05", "2021-01-15", true},
		{"adjacent-after success", "2021-01-20", "2021-01-21", false},
		{"adjacent-before success", "2021-01-05", "2021-01-10", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: emp-1 engaged on [2021-01-10, 2021-01-20)
			f := newFixture(t)
			baseline := f.seedBaseline(t)

			// WHEN: a second engagement is requested, through a different company pair
			_, err := f.svc.Create(f.ctx, candidate("initech", "globex", "emp-1", tt.start, tt.end))

			// THEN
			if !tt.conflict {
				require.NoError(t, err)
				all, err := f.svc.ListByEmployee(f.ctx, "emp-1")
				require.NoError(t, err)
				assert.Len(t, all, 2)
				return
			}
			var conflict *loan.ScheduleConflictError
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, baseline.Key, conflict.Existing)
			assert.True(t, loan.IsConflict(err))
		})
	}
}

func TestCreate_OtherEmployeeSamePeriod(t *testing.T) {
	f := newFixture(t)
	f.seedBaseline(t)

	_, err := f.svc.Create(f.ctx, candidate("acme", "globex", "emp-2", "2021-01-10", "2021-01-20"))
	assert.NoError(t, err)
}

func TestCreate_DegenerateRangeAlwaysInvalid(t *testing.T) {
	f := newFixture(t)
	start := d("2021-06-15")

	for offset := -40; offset <= 0; offset++ {
		c := candidate("acme", "globex", "emp-1", start.String(), start.AddDays(offset).String())

		_, err := f.svc.Create(f.ctx, c)

		require.ErrorIs(t, err, loan.ErrInvalidInput, "offset %d", offset)
	}
	all, err := f.svc.ListAll(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreate_InvalidInput(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		tx    *loan.Transaction
		field string
	}{
		{"nil candidate", nil, "transaction"},
		{"missing employee", candidate("acme", "globex", "", "2021-01-10", "2021-01-20"), "employee_id"},
		{"missing end date", &loan.Transaction{Key: candidate("acme", "globex", "emp-1", "2021-01-10", "2021-01-20").Key}, "end_date"},
		{"same company on both sides", candidate("acme", "acme", "emp-1", "2021-01-10", "2021-01-20"), "borrowing_company_id"},
		{"negative cost", func() *loan.Transaction {
			c := candidate("acme", "globex", "emp-1", "2021-01-10", "2021-01-20")
			c.TotalCost = decimal.NewFromInt(-1)
			return c
		}(), "total_cost"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(f.ctx, tt.tx)

			var invalid *loan.InvalidInputError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.field, invalid.Field)
		})
	}
}

func TestCreate_UnknownParties(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		tx     *loan.Transaction
		entity string
		id     string
	}{
		{"unknown employee", candidate("acme", "globex", "ghost", "2021-01-10", "2021-01-20"), loan.EntityEmployee, "ghost"},
		{"unknown loan company", candidate("nowhere", "globex", "emp-1", "2021-01-10", "2021-01-20"), loan.EntityCompany, "nowhere"},
		{"unknown borrowing company", candidate("acme", "nowhere", "emp-1", "2021-01-10", "2021-01-20"), loan.EntityCompany, "nowhere"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(f.ctx, tt.tx)

			var nf *loan.NotFoundError
			require.ErrorAs(t, err, &nf)
			assert.Equal(t, tt.entity, nf.Entity)
			assert.Equal(t, tt.id, nf.ID)
		})
	}
}

// =============================================================================
// REPLACE
// =============================================================================

func TestReplace_NoOpDoesNotConflictWithItself(t *testing.T) {
	f := newFixture(t)
	baseline := f.seedBaseline(t)

	same := candidate("acme", "globex", "emp-1", "2021-01-10", "2021-01-20")
	same.Status = loan.StatusActive

	got, err := f.svc.Replace(f.ctx, loan.ReplaceInput{
		Original:  loan.OriginalRef{StartDate: baseline.Key.StartDate},
		Candidate: same,
	})

	require.NoError(t, err)
	assert.Equal(t, baseline.Key, got.Key)
	assert.Equal(t, loan.StatusActive, got.Status)
}

func TestReplace_MovesStartDate(t *testing.T) {
	// GIVEN: emp-1 on [01-10, 01-20) and on [01-25, 02-01)
	f := newFixture(t)
	baseline := f.seedBaseline(t)
	_, err := f.svc.Create(f.ctx, candidate("acme", "globex", "emp-1", "2021-01-25", "2021-02-01"))
	require.NoError(t, err)

	// WHEN: the first engagement is moved to [01-12, 01-25)
	moved, err := f.svc.Replace(f.ctx, loan.ReplaceInput{
		Original:  loan.OriginalRef{EmployeeID: "emp-1", StartDate: baseline.Key.StartDate},
		Candidate: candidate("acme", "initech", "emp-1", "2021-01-12", "2021-01-25"),
	})

	// THEN: the old key is gone, the new one is stored, CreatedAt survives
	require.NoError(t, err)
	assert.Equal(t, d("2021-01-12"), moved.Key.StartDate)
	assert.Equal(t, baseline.CreatedAt, moved.CreatedAt)

	old, err := f.mem.FindByKey(f.ctx, baseline.Key)
	require.NoError(t, err)
	assert.Nil(t, old)

	all, err := f.svc.ListByEmployee(f.ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, moved.Key, all[0].Key)

	assert.Equal(t, []loan.EventType{loan.EventCreated, loan.EventCreated, loan.EventReplaced}, f.publisher.types())
}

func TestReplace_ConflictLeavesOriginalInPlace(t *testing.T) {
	f := newFixture(t)
	baseline := f.seedBaseline(t)
	other, err := f.svc.Create(f.ctx, candidate("acme", "globex", "emp-1", "2021-02-01", "2021-02-10"))
	require.NoError(t, err)

	_, err = f.svc.Replace(f.ctx, loan.ReplaceInput{
		Original:  loan.OriginalRef{StartDate: baseline.Key.StartDate},
		Candidate: candidate("acme", "globex", "emp-1", "2021-01-10", "2021-02-05"),
	})

	var conflict *loan.ScheduleConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, other.Key, conflict.Existing)

	stored, err := f.mem.FindByKey(f.ctx, baseline.Key)
	require.NoError(t, err)
	assert.NotNil(t, stored)
}

func TestReplace_ReassignsEmployee(t *testing.T) {
	f := newFixture(t)
	baseline := f.seedBaseline(t)

	got, err := f.svc.Replace(f.ctx, loan.ReplaceInput{
		Original:  loan.OriginalRef{EmployeeID: "emp-1", StartDate: baseline.Key.StartDate},
		Candidate: candidate("acme", "globex", "emp-2", "2021-01-10", "2021-01-20"),
	})
	require.NoError(t, err)
	assert.Equal(t, "emp-2", got.Key.EmployeeID)

	emp1, err := f.svc.ListByEmployee(f.ctx, "emp-1")
	require.NoError(t, err)
	assert.Empty(t, emp1)
}

func TestReplace_MissingOriginal(t *testing.T) {
	f := newFixture(t)
	f.seedBaseline(t)

	_, err := f.svc.Replace(f.ctx, loan.ReplaceInput{
		Original:  loan.OriginalRef{StartDate: d("2021-03-01")},
		Candidate: candidate("acme", "globex", "emp-1", "2021-03-01", "2021-03-05"),
	})
	var nf *loan.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, loan.EntityTransaction, nf.Entity)

	_, err = f.svc.Replace(f.ctx, loan.ReplaceInput{
		Candidate: candidate("acme", "globex", "emp-1", "2021-03-01", "2021-03-05"),
	})
	assert.ErrorIs(t, err, loan.ErrInvalidInput)
}

// =============================================================================
// CALENDAR DAYS
// =============================================================================

func TestDates_ReducedToCalendarDay(t *testing.T) {
	sgt := time.FixedZone("SGT", 8*60*60)

	t.Run("midnight in another zone is still back-to-back", func(t *testing.T) {
		// GIVEN: [2021-01-10, 2021-01-20)
		f := newFixture(t)
		f.seedBaseline(t)

		// WHEN: the next engagement starts on the 20th, built at midnight SGT
		c := candidate("acme", "globex", "emp-1", "2021-01-20", "2021-01-21")
		c.Key.StartDate = loan.Date{Time: time.Date(2021, 1, 20, 0, 0, 0, 0, sgt)}
		c.EndDate = loan.Date{Time: time.Date(2021, 1, 21, 0, 0, 0, 0, sgt)}
		tx, err := f.svc.Create(f.ctx, c)

		// THEN
		require.NoError(t, err)
		assert.Equal(t, d("2021-01-20"), tx.Key.StartDate)
		assert.Equal(t, d("2021-01-21"), tx.EndDate)
		assert.Equal(t, 1, tx.Days())
	})

	t.Run("time of day does not hide the record", func(t *testing.T) {
		// GIVEN: created with a start of 2021-02-01 09:00 UTC
		f := newFixture(t)
		c := candidate("acme", "globex", "emp-1", "2021-02-01", "2021-02-05")
		c.Key.StartDate = loan.Date{Time: time.Date(2021, 2, 1, 9, 0, 0, 0, time.UTC)}
		_, err := f.svc.Create(f.ctx, c)
		require.NoError(t, err)

		// WHEN / THEN: located by the plain calendar day, and the other way round
		updated, err := f.svc.UpdateStatus(f.ctx, "emp-1", loan.NewDate(2021, time.February, 1), loan.StatusActive)
		require.NoError(t, err)
		assert.Equal(t, loan.StatusActive, updated.Status)

		got, err := f.svc.GetByEmployeeAndStartDate(f.ctx, "emp-1",
			loan.Date{Time: time.Date(2021, 2, 1, 18, 30, 0, 0, time.UTC)})
		require.NoError(t, err)
		assert.Equal(t, d("2021-02-01"), got.Key.StartDate)
	})

	t.Run("NewKey keeps only the day", func(t *testing.T) {
		k, err := loan.NewKey("acme", "globex", "emp-1", loan.Date{Time: time.Date(2021, 1, 10, 23, 0, 0, 0, sgt)})
		require.NoError(t, err)
		assert.Equal(t, d("2021-01-10"), k.StartDate)
	})
}

// =============================================================================
// UPDATE STATUS & DELETE
// =============================================================================

func TestUpdateStatus_PreservesSchedule(t *testing.T) {
	// GIVEN
	f := newFixture(t)
	baseline := f.seedBaseline(t)
	before, err := f.svc.ListByLoanCompany(f.ctx, "acme")
	require.NoError(t, err)

	// WHEN
	updated, err := f.svc.UpdateStatus(f.ctx, "emp-1", d("2021-01-10"), loan.StatusCompleted)
	require.NoError(t, err)

	// THEN: only the status differs
	assert.Equal(t, loan.StatusCompleted, updated.Status)
	assert.Equal(t, baseline.Key, updated.Key)
	assert.Equal(t, "Ada Lovelace", updated.Employee.Name)

	after, err := f.svc.ListByLoanCompany(f.ctx, "acme")
	require.NoError(t, err)
	require.Len(t, after, len(before))
	assert.Equal(t, before[0].Period(), after[0].Period())
	assert.True(t, before[0].TotalCost.Equal(after[0].TotalCost))
	assert.Equal(t, loan.StatusCompleted, after[0].Status)
}

func TestUpdateStatus_Errors(t *testing.T) {
	f := newFixture(t)
	f.seedBaseline(t)

	_, err := f.svc.UpdateStatus(f.ctx, "emp-1", d("2021-01-11"), loan.StatusActive)
	assert.ErrorIs(t, err, loan.ErrNotFound)

	_, err = f.svc.UpdateStatus(f.ctx, "emp-1", d("2021-01-10"), "  ")
	assert.ErrorIs(t, err, loan.ErrInvalidInput)

	_, err = f.svc.UpdateStatus(f.ctx, "", d("2021-01-10"), loan.StatusActive)
	assert.ErrorIs(t, err, loan.ErrInvalidInput)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	baseline := f.seedBaseline(t)

	require.NoError(t, f.svc.Delete(f.ctx, "emp-1", baseline.Key.StartDate))

	err := f.svc.Delete(f.ctx, "emp-1", baseline.Key.StartDate)
	assert.True(t, loan.IsNotFound(err))

	// The freed slot can be booked again.
	_, err = f.svc.Create(f.ctx, candidate("acme", "globex", "emp-1", "2021-01-10", "2021-01-20"))
	assert.NoError(t, err)

	types := f.publisher.types()
	assert.Equal(t, loan.EventDeleted, types[1])
}

// =============================================================================
// READ PROJECTIONS
// =============================================================================

func TestProjections_FilterByCompany(t *testing.T) {
	f := newFixture(t)
	f.seedBaseline(t)
	_, err := f.svc.Create(f.ctx, candidate("globex", "initech", "emp-2", "2021-01-01", "2021-01-31"))
	require.NoError(t, err)
	_, err = f.svc.Create(f.ctx, candidate("acme", "initech", "emp-1", "2021-02-01", "2021-02-05"))
	require.NoError(t, err)

	lent, err := f.svc.ListByLoanCompany(f.ctx, "acme")
	require.NoError(t, err)
	require.Len(t, lent, 2)
	for _, tx := range lent {
		assert.Equal(t, "acme", tx.Key.LoanCompanyID)
	}
	assert.True(t, lent[0].Key.StartDate.Before(lent[1].Key.StartDate))

	borrowed, err := f.svc.ListByBorrowingCompany(f.ctx, "initech")
	require.NoError(t, err)
	assert.Len(t, borrowed, 2)

	all, err := f.svc.ListAll(f.ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = f.svc.ListByLoanCompany(f.ctx, "")
	assert.ErrorIs(t, err, loan.ErrInvalidInput)
}

func TestGetByEmployeeAndStartDate(t *testing.T) {
	f := newFixture(t)
	baseline := f.seedBaseline(t)

	got, err := f.svc.GetByEmployeeAndStartDate(f.ctx, "emp-1", d("2021-01-10"))
	require.NoError(t, err)
	assert.Equal(t, baseline.Key, got.Key)
	assert.Equal(t, "Globex", got.BorrowingCompany.Name)

	_, err = f.svc.GetByEmployeeAndStartDate(f.ctx, "emp-1", d("2021-01-11"))
	assert.ErrorIs(t, err, loan.ErrNotFound)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestCreate_ConcurrentOverlapsAdmitOnlyOne(t *testing.T) {
	f := newFixture(t)

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Every candidate contains 2021-01-10.
			start := d("2021-01-10").AddDays(-i)
			_, errs[i] = f.svc.Create(f.ctx, candidate("acme", "globex", "emp-1", start.String(), "2021-01-11"))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, loan.IsConflict(err), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	all, err := f.svc.ListByEmployee(f.ctx, "emp-1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
