package warning

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"chapel/internal/apperr"
	"chapel/internal/store"
)

// Repository stores snapshots in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const snapshotColumns = `id, student_id, week_start, absences, status, created_at, last_updated_at, sent_at`

func scanSnapshot(row interface{ Scan(...any) error }) (Snapshot, error) {
	var s Snapshot
	var status string
	if err := row.Scan(&s.ID, &s.StudentID, &s.WeekStart, &s.Absences, &status, &s.CreatedAt, &s.LastUpdatedAt, &s.SentAt); err != nil {
		return Snapshot{}, err
	}
	s.Status = Status(status)
	return s, nil
}

func lockSnapshot(ctx context.Context, tx *sql.Tx, studentID string, weekStart time.Time) (*Snapshot, error) {
	s, err := scanSnapshot(tx.QueryRowContext(ctx, `SELECT `+snapshotColumns+` FROM warning_weekly_snapshots
		WHERE student_id = $1 AND week_start = $2
		FOR UPDATE`, studentID, weekStart))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// Apply locks the (student, week) row, plans the change and writes it in one transaction.
// A concurrent insert of the same key loses the race quietly and is re-planned against the winner.
func (r *Repository) Apply(ctx context.Context, studentID string, weekStart time.Time, absences int, now time.Time) (Outcome, error) {
	var outcome Outcome
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		for attempt := 0; attempt < 2; attempt++ {
			existing, err := lockSnapshot(ctx, tx, studentID, weekStart)
			if err != nil {
				return err
			}
			next, planned := Plan(existing, studentID, weekStart, absences, now)
			switch planned {
			case OutcomeUnchanged:
				outcome = planned
				return nil
			case OutcomeUpdated:
				_, err := tx.ExecContext(ctx, `
					UPDATE warning_weekly_snapshots
					SET absences = $2, status = $3, last_updated_at = $4
					WHERE id = $1
				`, next.ID, next.Absences, string(next.Status), next.LastUpdatedAt)
				if err != nil {
					return err
				}
				outcome = planned
				return nil
			}

			res, err := tx.ExecContext(ctx, `
				INSERT INTO warning_weekly_snapshots (id, student_id, week_start, absences, status, created_at, last_updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT ON CONSTRAINT warning_weekly_snapshots_student_week DO NOTHING
			`, uuid.NewString(), next.StudentID, next.WeekStart, next.Absences, string(next.Status), next.CreatedAt, next.LastUpdatedAt)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 1 {
				outcome = planned
				return nil
			}
		}
		return fmt.Errorf("snapshot for student %s changed concurrently", studentID)
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// List returns snapshots ordered by week then student. Zero weekStart and empty status match everything.
func (r *Repository) List(ctx context.Context, weekStart time.Time, status Status) ([]Snapshot, error) {
	var (
		where []string
		args  []any
	)
	if !weekStart.IsZero() {
		args = append(args, weekStart)
		where = append(where, fmt.Sprintf("week_start = $%d", len(args)))
	}
	if status != "" {
		args = append(args, string(status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + snapshotColumns + ` FROM warning_weekly_snapshots`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY week_start DESC, student_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// MarkSent flips a pending snapshot to sent. Sending twice is an INVALID_STATE.
func (r *Repository) MarkSent(ctx context.Context, studentID string, weekStart time.Time, at time.Time) (*Snapshot, error) {
	var out *Snapshot
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		existing, err := lockSnapshot(ctx, tx, studentID, weekStart)
		if err != nil || existing == nil {
			return err
		}
		if existing.Status == StatusSent {
			return apperr.InvalidState("mark warning sent", "warning for student %s is already sent", studentID)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE warning_weekly_snapshots SET status = 'sent', sent_at = $2 WHERE id = $1
		`, existing.ID, at); err != nil {
			return err
		}
		existing.Status = StatusSent
		existing.SentAt = &at
		out = existing
		return nil
	})
	return out, err
}
