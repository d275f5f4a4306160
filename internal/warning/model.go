package warning

import (
	"time"
)

// DefaultThreshold is the weekly absence count that triggers a warning.
const DefaultThreshold = 2

// Status of a warning snapshot.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusSent
}

// Snapshot is the per-student, per-week absence record that drives warning letters.
type Snapshot struct {
	ID            string     `json:"id"`
	StudentID     string     `json:"student_id"`
	WeekStart     time.Time  `json:"week_start"`
	Absences      int        `json:"absences"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	LastUpdatedAt time.Time  `json:"last_updated_at"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
}

// Outcome of applying a recomputed count to the stored snapshot.
type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
)

// StudentWeek is a student who met the threshold in a generation run.
type StudentWeek struct {
	StudentID   string   `json:"student_id"`
	LevelID     string   `json:"level_id"`
	Absences    int      `json:"absences"`
	MissedDates []string `json:"missed_dates"`
	Outcome     Outcome  `json:"outcome"`
}

// Result summarises one generation run.
type Result struct {
	WeekStart       string        `json:"week_start"`
	WeekEnd         string        `json:"week_end"`
	Generated       int           `json:"generated"`
	Updated         int           `json:"updated"`
	Unchanged       int           `json:"unchanged"`
	TotalServices   int           `json:"total_services"`
	SkippedServices int           `json:"skipped_services"`
	Flagged         []StudentWeek `json:"flagged"`
}
