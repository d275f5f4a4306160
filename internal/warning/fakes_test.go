package warning

import (
	"context"
	"strconv"
	"sync"
	"time"

	"chapel/internal/apperr"
	"chapel/internal/attendance"
	"chapel/internal/directory"
	"chapel/internal/exeat"
	"chapel/internal/schedule"
)

type fakeServices []schedule.Service

func (f fakeServices) ListCompletedServices(_ context.Context, from, to time.Time) ([]schedule.Service, error) {
	var out []schedule.Service
	for _, s := range f {
		if s.Status == schedule.StatusCompleted && !s.Date.Before(from) && !s.Date.After(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeStudents []directory.Student

func (f fakeStudents) ListActiveStudents(_ context.Context) ([]directory.Student, error) {
	var out []directory.Student
	for _, s := range f {
		if s.Active() {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeBatches struct {
	versions map[string][]attendance.BatchVersion
	err      error
}

func (f *fakeBatches) CurrentVersionsForService(_ context.Context, serviceID string) ([]attendance.BatchVersion, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.versions[serviceID], nil
}

type fakeExeats map[string][]exeat.Exeat

func (f fakeExeats) ListExeatsForStudent(_ context.Context, studentID string) ([]exeat.Exeat, error) {
	return f[studentID], nil
}

type snapKey struct {
	student string
	week    string
}

// memSnapshots serialises writers with a mutex, the in-memory analogue of the row lock.
type memSnapshots struct {
	mu     sync.Mutex
	rows   map[snapKey]Snapshot
	writes int
	seq    int

	failures int
	failErr  error
	calls    int
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{rows: make(map[snapKey]Snapshot)}
}

func key(studentID string, week time.Time) snapKey {
	return snapKey{student: studentID, week: week.Format("2006-01-02")}
}

func (m *memSnapshots) Apply(_ context.Context, studentID string, weekStart time.Time, absences int, now time.Time) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failures > 0 {
		m.failures--
		return "", m.failErr
	}
	k := key(studentID, weekStart)
	var existing *Snapshot
	if s, ok := m.rows[k]; ok {
		existing = &s
	}
	next, outcome := Plan(existing, studentID, weekStart, absences, now)
	if outcome == OutcomeUnchanged {
		return outcome, nil
	}
	if next.ID == "" {
		m.seq++
		next.ID = "snap-" + strconv.Itoa(m.seq)
	}
	m.rows[k] = next
	m.writes++
	return outcome, nil
}

func (m *memSnapshots) List(_ context.Context, weekStart time.Time, status Status) ([]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Snapshot
	for _, s := range m.rows {
		if !weekStart.IsZero() && !s.WeekStart.Equal(weekStart) {
			continue
		}
		if status != "" && s.Status != status {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *memSnapshots) MarkSent(_ context.Context, studentID string, weekStart time.Time, at time.Time) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(studentID, weekStart)
	s, ok := m.rows[k]
	if !ok {
		return nil, nil
	}
	if s.Status == StatusSent {
		return nil, apperr.InvalidState("mark warning sent", "already sent")
	}
	s.Status = StatusSent
	s.SentAt = &at
	m.rows[k] = s
	return &s, nil
}

func (m *memSnapshots) get(studentID string, week time.Time) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[key(studentID, week)]
	return s, ok
}

type fakeLock struct {
	held     map[string]bool
	released []string
}

func (l *fakeLock) Acquire(_ context.Context, key string) (func(), bool, error) {
	if l.held[key] {
		return func() {}, false, nil
	}
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	l.held[key] = true
	return func() {
		delete(l.held, key)
		l.released = append(l.released, key)
	}, true, nil
}
