package loan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/loan-engine/loan"
)

func d(s string) loan.Date { return loan.MustParseDate(s) }

// =============================================================================
// CONFLICTS - half-open intersection
// =============================================================================

func TestConflicts(t *testing.T) {
	existingStart, existingEnd := d("2021-01-10"), d("2021-01-20")

	tests := []struct {
		name       string
		start, end string
		want       bool
	}{
		{"identical range", "2021-01-10", "2021-01-20", true},
		{"starts inside", "2021-01-11", "2021-01-25", true},
		{"ends inside", "2021-01-05", "2021-01-15", true},
		{"contains existing", "2021-01-01", "2021-01-31", true},
		{"inside existing", "2021-01-12", "2021-01-13", true},
		{"adjacent after", "2021-01-20", "2021-01-21", false},
		{"adjacent before", "2021-01-05", "2021-01-10", false},
		{"entirely after", "2021-02-01", "2021-02-10", false},
		{"entirely before", "2020-12-01", "2020-12-10", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := loan.Conflicts(d(tt.start), d(tt.end), existingStart, existingEnd)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConflicts_Symmetric(t *testing.T) {
	base := d("2021-01-01")
	// Every pair of positive-length ranges inside a 12-day window.
	for s1 := 0; s1 < 12; s1++ {
		for e1 := s1 + 1; e1 <= 12; e1++ {
			for s2 := 0; s2 < 12; s2++ {
				for e2 := s2 + 1; e2 <= 12; e2++ {
					a := loan.Conflicts(base.AddDays(s1), base.AddDays(e1), base.AddDays(s2), base.AddDays(e2))
					b := loan.Conflicts(base.AddDays(s2), base.AddDays(e2), base.AddDays(s1), base.AddDays(e1))
					require.Equal(t, a, b, "[%d,%d) vs [%d,%d)", s1, e1, s2, e2)
				}
			}
		}
	}
}

func TestConflicts_BackToBackNeverConflicts(t *testing.T) {
	s := d("2021-03-01")
	for e1 := 1; e1 < 10; e1++ {
		for e2 := e1 + 1; e2 < 12; e2++ {
			assert.False(t, loan.Conflicts(s, s.AddDays(e1), s.AddDays(e1), s.AddDays(e2)))
		}
	}
}

func TestConflicts_StrictContainment(t *testing.T) {
	s := d("2021-03-01")
	// s1 < s2 < e2 < e1
	for s2 := 1; s2 < 8; s2++ {
		for e2 := s2 + 1; e2 < 9; e2++ {
			e1 := e2 + 1
			assert.True(t, loan.Conflicts(s, s.AddDays(e1), s.AddDays(s2), s.AddDays(e2)))
		}
	}
}

// =============================================================================
// CHECK AGAINST ALL
// =============================================================================

func engagement(employee, start, end string) loan.Transaction {
	return loan.Transaction{
		Key: loan.Key{
			LoanCompanyID:      "acme",
			BorrowingCompanyID: "globex",
			EmployeeID:         employee,
			StartDate:          d(start),
		},
		EndDate: d(end),
	}
}

func TestCheckAgainstAll(t *testing.T) {
	existing := []loan.Transaction{
		engagement("emp-1", "2021-01-01", "2021-01-05"),
		engagement("emp-1", "2021-01-10", "2021-01-20"),
		engagement("emp-2", "2021-01-05", "2021-01-10"),
	}

	t.Run("free slot between engagements", func(t *testing.T) {
		assert.NoError(t, loan.CheckAgainstAll(engagement("emp-1", "2021-01-05", "2021-01-10"), existing, nil))
	})

	t.Run("other employees are ignored", func(t *testing.T) {
		assert.NoError(t, loan.CheckAgainstAll(engagement("emp-3", "2021-01-01", "2021-02-01"), existing, nil))
	})

	t.Run("reports the colliding key", func(t *testing.T) {
		err := loan.CheckAgainstAll(engagement("emp-1", "2021-01-15", "2021-01-25"), existing, nil)

		var conflict *loan.ScheduleConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, existing[1].Key, conflict.Existing)
		assert.Equal(t, existing[1].Period(), conflict.ExistingPeriod)
		assert.ErrorIs(t, err, loan.ErrScheduleConflict)
	})

	t.Run("excluded key does not collide with itself", func(t *testing.T) {
		excluded := existing[1].Key
		assert.NoError(t, loan.CheckAgainstAll(engagement("emp-1", "2021-01-10", "2021-01-20"), existing, &excluded))
	})

	t.Run("order of existing does not matter", func(t *testing.T) {
		reversed := []loan.Transaction{existing[2], existing[1], existing[0]}
		candidate := engagement("emp-1", "2021-01-03", "2021-01-12")
		assert.Error(t, loan.CheckAgainstAll(candidate, existing, nil))
		assert.Error(t, loan.CheckAgainstAll(candidate, reversed, nil))
	})
}

// =============================================================================
// KEY & PERIOD
// =============================================================================

func TestNewKey_RequiresEveryComponent(t *testing.T) {
	start := d("2021-01-10")

	tests := []struct {
		name                 string
		loanCo, borrowCo, em string
		start                loan.Date
		field                string
	}{
		{"missing loan company", "", "globex", "emp-1", start, "loan_company_id"},
		{"missing borrowing company", "acme", "  ", "emp-1", start, "borrowing_company_id"},
		{"missing employee", "acme", "globex", "", start, "employee_id"},
		{"missing start date", "acme", "globex", "emp-1", loan.Date{}, "start_date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loan.NewKey(tt.loanCo, tt.borrowCo, tt.em, tt.start)

			var invalid *loan.InvalidInputError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.field, invalid.Field)
			assert.ErrorIs(t, err, loan.ErrInvalidInput)
		})
	}

	k, err := loan.NewKey(" acme ", "globex", "emp-1", start)
	require.NoError(t, err)
	assert.Equal(t, "acme", k.LoanCompanyID)
	assert.Equal(t, "acme/globex/emp-1@2021-01-10", k.String())
}

func TestKey_StructuralEquality(t *testing.T) {
	a, err := loan.NewKey("acme", "globex", "emp-1", d("2021-01-10"))
	require.NoError(t, err)
	b, err := loan.NewKey("acme", "globex", "emp-1", loan.NewDate(2021, 1, 10))
	require.NoError(t, err)

	assert.True(t, a == b)

	b.StartDate = b.StartDate.AddDays(1)
	assert.False(t, a == b)
}

func TestPeriod_Validate(t *testing.T) {
	assert.NoError(t, loan.Period{Start: d("2021-01-10"), End: d("2021-01-11")}.Validate())

	for _, end := range []string{"2021-01-10", "2021-01-09", "2020-01-01"} {
		err := loan.Period{Start: d("2021-01-10"), End: d(end)}.Validate()
		assert.ErrorIs(t, err, loan.ErrInvalidInput, "end %s", end)
	}
}

func TestPeriod_DaysAndContains(t *testing.T) {
	p := loan.Period{Start: d("2021-01-10"), End: d("2021-01-20")}

	assert.Equal(t, 10, p.Days())
	assert.True(t, p.Contains(d("2021-01-10")))
	assert.True(t, p.Contains(d("2021-01-19")))
	assert.False(t, p.Contains(d("2021-01-20")))
	assert.Equal(t, "[2021-01-10, 2021-01-20)", p.String())
}

func TestParseDate(t *testing.T) {
	got, err := loan.ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, loan.NewDate(2024, 2, 29), got)

	_, err = loan.ParseDate("29/02/2024")
	assert.Error(t, err)
}
