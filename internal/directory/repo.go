package directory

import (
	"context"
	"database/sql"
	"errors"

	"chapel/internal/apperr"
)

// Repository reads students from Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const studentColumns = `id, matric_number, full_name, level_id, status, chapel_exempt`

func scanStudent(row interface{ Scan(...any) error }) (Student, error) {
	var s Student
	err := row.Scan(&s.ID, &s.MatricNumber, &s.FullName, &s.LevelID, &s.Status, &s.ChapelExempt)
	return s, err
}

// FindActiveStudentsByLevel lists active students of a level ordered by matric number.
func (r *Repository) FindActiveStudentsByLevel(ctx context.Context, levelID string) ([]Student, error) {
	return r.list(ctx, `SELECT `+studentColumns+` FROM students
		WHERE level_id = $1 AND status = 'active'
		ORDER BY matric_number`, levelID)
}

// ListActiveStudents lists every active student.
func (r *Repository) ListActiveStudents(ctx context.Context) ([]Student, error) {
	return r.list(ctx, `SELECT `+studentColumns+` FROM students
		WHERE status = 'active'
		ORDER BY matric_number`)
}

// FindStudentByIdentifier returns the student whose id or matric number matches, or nil.
func (r *Repository) FindStudentByIdentifier(ctx context.Context, idOrMatric string) (*Student, error) {
	key := NormalizeIdentifier(idOrMatric)
	if key == "" {
		return nil, nil
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students
		WHERE UPPER(id) = $1 OR UPPER(matric_number) = $1
		ORDER BY (status = 'active') DESC
		LIMIT 1`, key)
	s, err := scanStudent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.DB("find student", err)
	}
	return &s, nil
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.DB("list students", err)
	}
	defer rows.Close()
	var res []Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, apperr.DB("scan student", err)
		}
		res = append(res, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.DB("list students", err)
	}
	return res, nil
}
