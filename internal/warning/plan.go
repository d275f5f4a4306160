package warning

import "time"

// Plan decides how a recomputed weekly count changes the stored snapshot.
// existing is nil when the student has no snapshot for the week. The returned
// snapshot has no ID for inserts; the store assigns one.
//
// A sent snapshot keeps its status when its count is refreshed. An unchanged
// count is never rewritten, pending or not, so rerunning a week with the same
// data writes nothing and last_updated_at only moves when the count does.
func Plan(existing *Snapshot, studentID string, weekStart time.Time, absences int, now time.Time) (Snapshot, Outcome) {
	if existing == nil {
		return Snapshot{
			StudentID:     studentID,
			WeekStart:     weekStart,
			Absences:      absences,
			Status:        StatusPending,
			CreatedAt:     now,
			LastUpdatedAt: now,
		}, OutcomeInserted
	}

	next := *existing
	if existing.Absences == absences {
		return next, OutcomeUnchanged
	}
	next.Absences = absences
	next.LastUpdatedAt = now
	if existing.Status != StatusSent {
		next.Status = StatusPending
	}
	return next, OutcomeUpdated
}
