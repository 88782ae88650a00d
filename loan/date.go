/*
date.go - Calendar dates and half-open periods

PURPOSE:
  Loans are scheduled in whole calendar days. There is no time of day and no
  time zone: "2021-01-10" means the same day for every caller.

HALF-OPEN PERIODS:
  A Period is [Start, End). The end date is the first day the employee is
  back with the loan company, so two engagements can be back-to-back:

    [2021-01-10, 2021-01-20) and [2021-01-20, 2021-01-21)  -> no overlap
    [2021-01-10, 2021-01-20) and [2021-01-19, 2021-01-21)  -> overlap

SEE ALSO:
  - interval.go: Conflict detection built on Period
  - types.go: StartDate is part of the transaction identity
*/
package loan

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the ISO calendar date format used on every boundary.
const DateLayout = "2006-01-02"

// =============================================================================
// DATE
// =============================================================================

// Date is a calendar day stored as UTC midnight.
// Dates built with NewDate, DateOf or ParseDate compare correctly with ==.
// A Date literal holding another instant is reduced to its calendar day, in
// its own location, by NewKey and by every Service operation.
type Date struct {
	Time time.Time
}

// NewDate returns the calendar day year-month-day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf drops the time of day (and zone) of t.
func DateOf(t time.Time) Date {
	if t.IsZero() {
		return Date{}
	}
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses an ISO date (YYYY-MM-DD).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return DateOf(t), nil
}

// MustParseDate is ParseDate for literals in tests and scenarios.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) Before(other Date) bool { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool  { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool  { return d.Time.Equal(other.Time) }
func (d Date) IsZero() bool           { return d.Time.IsZero() }
func (d Date) AddDays(n int) Date     { return DateOf(d.Time.AddDate(0, 0, n)) }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time.Format(DateLayout)
}

// DaysBetween returns the number of days from "from" to "to" (negative if to is earlier).
func DaysBetween(from, to Date) int {
	return int(to.Time.Sub(from.Time).Hours() / 24)
}

// =============================================================================
// PERIOD
// =============================================================================

// Period is the half-open range [Start, End).
type Period struct {
	Start Date
	End   Date
}

// Validate rejects missing bounds and ranges with End <= Start.
func (p Period) Validate() error {
	if p.Start.IsZero() {
		return &InvalidInputError{Field: "start_date", Reason: "is required"}
	}
	if p.End.IsZero() {
		return &InvalidInputError{Field: "end_date", Reason: "is required"}
	}
	if !p.Start.Before(p.End) {
		return &InvalidInputError{
			Field:  "end_date",
			Reason: fmt.Sprintf("must be after start_date (%s <= %s)", p.End, p.Start),
		}
	}
	return nil
}

// Contains reports whether d falls in [Start, End).
func (p Period) Contains(d Date) bool {
	return !d.Before(p.Start) && d.Before(p.End)
}

// Overlaps reports whether the two periods share at least one day.
func (p Period) Overlaps(other Period) bool {
	return Conflicts(p.Start, p.End, other.Start, other.End)
}

// Days returns the length of the period in days.
func (p Period) Days() int {
	return DaysBetween(p.Start, p.End)
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + ")"
}
