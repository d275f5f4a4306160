package exeat

import (
	"context"
	"time"

	"chapel/internal/util"
)

// Status is the persisted state of an exeat.
type Status string

const (
	StatusActive   Status = "active"
	StatusEnded    Status = "ended"
	StatusCanceled Status = "canceled"
)

// Derived is the presentation status computed from stored state and the clock.
type Derived string

const (
	DerivedActive   Derived = "active"
	DerivedPast     Derived = "past"
	DerivedCanceled Derived = "canceled"
)

// Exeat is an approved leave of absence over a closed date range.
type Exeat struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Status    Status    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
}

// DerivedStatus computes the display status. Leave that has not started yet is
// reported as active together with leave in progress.
func DerivedStatus(e Exeat, now time.Time) Derived {
	if e.Status == StatusCanceled {
		return DerivedCanceled
	}
	dayAfterEnd := util.Day(e.EndDate).AddDate(0, 0, 1)
	if !now.UTC().Before(dayAfterEnd) {
		return DerivedPast
	}
	return DerivedActive
}

// Source lists a student's exeats.
type Source interface {
	ListExeatsForStudent(ctx context.Context, studentID string) ([]Exeat, error)
}
