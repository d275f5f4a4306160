package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chapel/internal/apperr"
	"chapel/internal/util"
)

// Repository reads services from Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetService returns a service by id, or nil when it does not exist.
func (r *Repository) GetService(ctx context.Context, id string) (*Service, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, service_date, service_time, service_type, status, array_to_json(levels)::text
		FROM services WHERE id = $1
	`, id)
	s, err := scanService(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.DB("get service", err)
	}
	return &s, nil
}

// ListCompletedServices returns completed services in [from, to] ordered by date.
func (r *Repository) ListCompletedServices(ctx context.Context, from, to time.Time) ([]Service, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, service_date, service_time, service_type, status, array_to_json(levels)::text
		FROM services
		WHERE status = 'completed' AND service_date BETWEEN $1 AND $2
		ORDER BY service_date, service_time
	`, util.Day(from), util.Day(to))
	if err != nil {
		return nil, apperr.DB("list services", err)
	}
	defer rows.Close()
	var res []Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, apperr.DB("scan service", err)
		}
		res = append(res, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.DB("list services", err)
	}
	return res, nil
}

func scanService(row interface{ Scan(...any) error }) (Service, error) {
	var s Service
	var levels string
	if err := row.Scan(&s.ID, &s.Date, &s.Time, &s.Type, &s.Status, &levels); err != nil {
		return Service{}, err
	}
	s.Date = util.Day(s.Date)
	if err := json.Unmarshal([]byte(levels), &s.Levels); err != nil {
		return Service{}, fmt.Errorf("decode levels of service %s: %w", s.ID, err)
	}
	return s, nil
}
