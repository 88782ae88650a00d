package loan

// =============================================================================
// CONFLICT DETECTION
// =============================================================================

// Conflicts reports whether [newStart, newEnd) and [oldStart, oldEnd) share a day.
// Back-to-back ranges (newStart == oldEnd) do not conflict. The test is symmetric.
func Conflicts(newStart, newEnd, oldStart, oldEnd Date) bool {
	return newStart.Before(oldEnd) && oldStart.Before(newEnd)
}

// CheckAgainstAll returns a *ScheduleConflictError for the first transaction in
// existing that belongs to the candidate's employee and overlaps it.
//
// exclude, when non-nil, is skipped: it is the record being replaced, which
// would otherwise collide with its own successor.
func CheckAgainstAll(candidate Transaction, existing []Transaction, exclude *Key) error {
	p := candidate.Period()
	for _, other := range existing {
		if other.Key.EmployeeID != candidate.Key.EmployeeID {
			continue
		}
		if exclude != nil && other.Key == *exclude {
			continue
		}
		if Conflicts(p.Start, p.End, other.Key.StartDate, other.EndDate) {
			return &ScheduleConflictError{
				Candidate:       candidate.Key,
				CandidatePeriod: p,
				Existing:        other.Key,
				ExistingPeriod:  other.Period(),
			}
		}
	}
	return nil
}
