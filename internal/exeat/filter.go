package exeat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chapel/internal/util"
)

// Covers reports whether any non-canceled exeat contains date in its closed
// [start, end] range. Derived status is ignored: an exeat that starts after
// date never covers it because the range test already excludes it.
func Covers(exeats []Exeat, date time.Time) bool {
	for _, e := range exeats {
		if e.Status == StatusCanceled {
			continue
		}
		if util.Within(date, e.StartDate, e.EndDate) {
			return true
		}
	}
	return false
}

// Filter answers coverage questions against the exeats current at evaluation time.
type Filter struct {
	src Source
}

// NewFilter creates a filter backed by src.
func NewFilter(src Source) *Filter {
	return &Filter{src: src}
}

// IsCovered reports whether the student has approved leave on date.
func (f *Filter) IsCovered(ctx context.Context, studentID string, date time.Time) (bool, error) {
	exeats, err := f.src.ListExeatsForStudent(ctx, studentID)
	if err != nil {
		return false, fmt.Errorf("list exeats for %s: %w", studentID, err)
	}
	return Covers(exeats, date), nil
}

// Memo caches each student's exeats for one evaluation pass. Safe for concurrent use.
type Memo struct {
	src   Source
	mu    sync.Mutex
	cache map[string][]Exeat
}

// NewMemo creates an empty per-pass cache.
func NewMemo(src Source) *Memo {
	return &Memo{src: src, cache: make(map[string][]Exeat)}
}

// IsCovered behaves like Filter.IsCovered but loads each student's exeats once.
func (m *Memo) IsCovered(ctx context.Context, studentID string, date time.Time) (bool, error) {
	m.mu.Lock()
	exeats, ok := m.cache[studentID]
	m.mu.Unlock()
	if !ok {
		loaded, err := m.src.ListExeatsForStudent(ctx, studentID)
		if err != nil {
			return false, fmt.Errorf("list exeats for %s: %w", studentID, err)
		}
		m.mu.Lock()
		m.cache[studentID] = loaded
		m.mu.Unlock()
		exeats = loaded
	}
	return Covers(exeats, date), nil
}
