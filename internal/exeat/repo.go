package exeat

import (
	"context"
	"database/sql"

	"chapel/internal/apperr"
	"chapel/internal/util"
)

// Repository reads exeats from Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// ListExeatsForStudent returns every exeat of the student, canceled ones included.
func (r *Repository) ListExeatsForStudent(ctx context.Context, studentID string) ([]Exeat, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, start_date, end_date, status, reason
		FROM exeats
		WHERE student_id = $1
		ORDER BY start_date
	`, studentID)
	if err != nil {
		return nil, apperr.DB("list exeats", err)
	}
	defer rows.Close()

	var res []Exeat
	for rows.Next() {
		var e Exeat
		if err := rows.Scan(&e.ID, &e.StudentID, &e.StartDate, &e.EndDate, &e.Status, &e.Reason); err != nil {
			return nil, apperr.DB("scan exeat", err)
		}
		e.StartDate = util.Day(e.StartDate)
		e.EndDate = util.Day(e.EndDate)
		res = append(res, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.DB("list exeats", err)
	}
	return res, nil
}
