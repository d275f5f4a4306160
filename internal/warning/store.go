package warning

import (
	"context"
	"time"

	"chapel/internal/attendance"
	"chapel/internal/directory"
	"chapel/internal/schedule"
)

// ServiceSource lists completed services in a date range.
type ServiceSource interface {
	ListCompletedServices(ctx context.Context, from, to time.Time) ([]schedule.Service, error)
}

// StudentSource lists the students currently enrolled.
type StudentSource interface {
	ListActiveStudents(ctx context.Context) ([]directory.Student, error)
}

// BatchReader returns the current confirmed version of each level batch feeding a service.
type BatchReader interface {
	CurrentVersionsForService(ctx context.Context, serviceID string) ([]attendance.BatchVersion, error)
}

// SnapshotStore persists weekly snapshots. Apply must serialise writers per
// (student, week) and decide the write with Plan against the row it locked.
type SnapshotStore interface {
	Apply(ctx context.Context, studentID string, weekStart time.Time, absences int, now time.Time) (Outcome, error)
	List(ctx context.Context, weekStart time.Time, status Status) ([]Snapshot, error)
	// MarkSent moves a pending snapshot to sent. It returns nil when no snapshot exists.
	MarkSent(ctx context.Context, studentID string, weekStart time.Time, at time.Time) (*Snapshot, error)
}

// RunLock keeps two generation runs for the same week from overlapping.
type RunLock interface {
	// Acquire returns ok=false when another holder owns key.
	Acquire(ctx context.Context, key string) (release func(), ok bool, err error)
}
