package directory

import (
	"context"
	"strings"
)

// Status of a student record.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Student is a registry entry. The reconciliation core only reads it.
type Student struct {
	ID           string `json:"id"`
	MatricNumber string `json:"matric_number"`
	FullName     string `json:"full_name"`
	LevelID      string `json:"level_id"`
	Status       Status `json:"status"`
	ChapelExempt bool   `json:"chapel_exempt"`
}

// Active reports whether the student is currently enrolled.
func (s Student) Active() bool { return s.Status == StatusActive }

// Directory is read-only access to the student registry.
type Directory interface {
	FindActiveStudentsByLevel(ctx context.Context, levelID string) ([]Student, error)
	// FindStudentByIdentifier matches either the id or the matric number; nil when absent.
	FindStudentByIdentifier(ctx context.Context, idOrMatric string) (*Student, error)
	ListActiveStudents(ctx context.Context) ([]Student, error)
}

// NormalizeIdentifier canonicalises a scanned identifier for lookups.
func NormalizeIdentifier(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Index maps normalised ids and matric numbers to students.
type Index map[string]Student

// NewIndex indexes students by both identifiers.
func NewIndex(students []Student) Index {
	idx := make(Index, len(students)*2)
	for _, s := range students {
		idx[NormalizeIdentifier(s.ID)] = s
		if s.MatricNumber != "" {
			idx[NormalizeIdentifier(s.MatricNumber)] = s
		}
	}
	return idx
}

// Lookup finds a student by a raw identifier.
func (idx Index) Lookup(raw string) (Student, bool) {
	s, ok := idx[NormalizeIdentifier(raw)]
	return s, ok
}
