package attendance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chapel/internal/store"
)

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const uploadColumns = `id, service_id, level_id, file_hash, file_name, storage_path, uploaded_by, uploaded_at,
	state, records_processed, matched_count, unmatched_count, absent_count, batch_id,
	confirmed_by, confirmed_at, canceled_by, canceled_at`

func scanUpload(row interface{ Scan(...any) error }) (Upload, error) {
	var u Upload
	var batchID sql.NullString
	err := row.Scan(&u.ID, &u.ServiceID, &u.LevelID, &u.FileHash, &u.FileName, &u.StoragePath, &u.UploadedBy, &u.UploadedAt,
		&u.State, &u.RecordsProcessed, &u.MatchedCount, &u.UnmatchedCount, &u.AbsentCount, &batchID,
		&u.ConfirmedBy, &u.ConfirmedAt, &u.CanceledBy, &u.CanceledAt)
	if err != nil {
		return Upload{}, err
	}
	if batchID.Valid {
		u.BatchID = &batchID.String
	}
	return u, nil
}

func getUpload(ctx context.Context, q queryer, query string, args ...any) (*Upload, error) {
	u, err := scanUpload(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// FindLiveUploadByHash returns a staged or confirmed upload with the same content hash.
func (r *Repository) FindLiveUploadByHash(ctx context.Context, serviceID, levelID, hash string) (*Upload, error) {
	return getUpload(ctx, r.db, `SELECT `+uploadColumns+` FROM attendance_uploads
		WHERE service_id = $1 AND level_id = $2 AND file_hash = $3 AND state IN ('staged', 'confirmed')
		ORDER BY uploaded_at DESC
		LIMIT 1`, serviceID, levelID, hash)
}

// GetUpload returns a single upload by id, or nil.
func (r *Repository) GetUpload(ctx context.Context, id string) (*Upload, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return getUpload(ctx, r.db, `SELECT `+uploadColumns+` FROM attendance_uploads WHERE id = $1`, id)
}

// CreateStagedUpload writes the upload and its rows together.
func (r *Repository) CreateStagedUpload(ctx context.Context, u Upload, rows []Row) error {
	return store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attendance_uploads (id, service_id, level_id, file_hash, file_name, storage_path,
				uploaded_by, uploaded_at, state, records_processed, matched_count, unmatched_count, absent_count)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`, u.ID, u.ServiceID, u.LevelID, u.FileHash, u.FileName, u.StoragePath,
			u.UploadedBy, u.UploadedAt, string(u.State), u.RecordsProcessed, u.MatchedCount, u.UnmatchedCount, u.AbsentCount)
		if err != nil {
			return err
		}
		return insertRows(ctx, tx, u.ID, rows)
	})
}

func insertRows(ctx context.Context, q queryer, uploadID string, rows []Row) error {
	for _, row := range rows {
		var studentID, reason any
		if row.StudentID != "" {
			studentID = row.StudentID
		}
		if row.Reason != "" {
			reason = string(row.Reason)
		}
		if _, err := q.ExecContext(ctx, `
			INSERT INTO attendance_upload_rows (upload_id, line_no, identifier, raw_payload, matched, student_id, reason)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, uploadID, row.Line, row.Identifier, row.Raw, row.Matched, studentID, reason); err != nil {
			return fmt.Errorf("insert row %d: %w", row.Line, err)
		}
	}
	return nil
}

// ListRows returns an upload's rows in manifest order.
func (r *Repository) ListRows(ctx context.Context, uploadID string) ([]Row, error) {
	return listRows(ctx, r.db, uploadID)
}

func listRows(ctx context.Context, q queryer, uploadID string) ([]Row, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT line_no, identifier, raw_payload, matched, COALESCE(student_id, ''), COALESCE(reason, '')
		FROM attendance_upload_rows
		WHERE upload_id = $1
		ORDER BY line_no
	`, uploadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.Line, &row.Identifier, &row.Raw, &row.Matched, &row.StudentID, &row.Reason); err != nil {
			return nil, err
		}
		res = append(res, row)
	}
	return res, rows.Err()
}

const versionColumns = `v.id, v.batch_id, b.service_id, b.level_id, v.version, v.upload_id, v.is_current,
	v.attendees::text, v.absentees::text, v.created_by, v.created_at`

func scanVersion(row interface{ Scan(...any) error }) (BatchVersion, error) {
	var v BatchVersion
	var attendees, absentees string
	if err := row.Scan(&v.ID, &v.BatchID, &v.ServiceID, &v.LevelID, &v.Version, &v.UploadID, &v.IsCurrent,
		&attendees, &absentees, &v.CreatedBy, &v.CreatedAt); err != nil {
		return BatchVersion{}, err
	}
	var rejected []string
	var err error
	if v.Attendees, rejected, err = DecodeAttendees([]byte(attendees)); err != nil {
		return BatchVersion{}, fmt.Errorf("version %s: %w", v.ID, err)
	}
	v.Rejected = append(v.Rejected, rejected...)
	if v.Absentees, rejected, err = DecodeAbsentees([]byte(absentees)); err != nil {
		return BatchVersion{}, fmt.Errorf("version %s: %w", v.ID, err)
	}
	v.Rejected = append(v.Rejected, rejected...)
	return v, nil
}

func (r *Repository) listVersions(ctx context.Context, query string, args ...any) ([]BatchVersion, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []BatchVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// ListBatchVersions returns every version of a batch, oldest first.
func (r *Repository) ListBatchVersions(ctx context.Context, batchID string) ([]BatchVersion, error) {
	if _, err := uuid.Parse(batchID); err != nil {
		return nil, nil
	}
	return r.listVersions(ctx, `SELECT `+versionColumns+`
		FROM attendance_batch_versions v
		JOIN attendance_batches b ON b.id = v.batch_id
		WHERE v.batch_id = $1
		ORDER BY v.version`, batchID)
}

// CurrentVersionsForService returns the current version of each level batch of a service.
func (r *Repository) CurrentVersionsForService(ctx context.Context, serviceID string) ([]BatchVersion, error) {
	return r.listVersions(ctx, `SELECT `+versionColumns+`
		FROM attendance_batch_versions v
		JOIN attendance_batches b ON b.id = v.batch_id
		WHERE b.service_id = $1 AND v.is_current
		ORDER BY b.level_id`, serviceID)
}

// InTx runs fn inside a database transaction.
func (r *Repository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockUpload(ctx context.Context, id string) (*Upload, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return getUpload(ctx, t.tx, `SELECT `+uploadColumns+` FROM attendance_uploads WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) ListRows(ctx context.Context, uploadID string) ([]Row, error) {
	return listRows(ctx, t.tx, uploadID)
}

func (t *pgTx) ReplaceRows(ctx context.Context, uploadID string, rows []Row) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM attendance_upload_rows WHERE upload_id = $1`, uploadID); err != nil {
		return err
	}
	return insertRows(ctx, t.tx, uploadID, rows)
}

func (t *pgTx) EnsureBatch(ctx context.Context, serviceID, levelID string) (string, error) {
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO attendance_batches (id, service_id, level_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (service_id, level_id) DO NOTHING
	`, uuid.NewString(), serviceID, levelID); err != nil {
		return "", err
	}
	var id string
	err := t.tx.QueryRowContext(ctx, `
		SELECT id FROM attendance_batches
		WHERE service_id = $1 AND level_id = $2
		FOR UPDATE
	`, serviceID, levelID).Scan(&id)
	return id, err
}

func (t *pgTx) NextVersion(ctx context.Context, batchID string) (int, error) {
	var next int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1 FROM attendance_batch_versions WHERE batch_id = $1
	`, batchID).Scan(&next)
	return next, err
}

func (t *pgTx) InsertCurrentVersion(ctx context.Context, v BatchVersion) error {
	if _, err := t.tx.ExecContext(ctx, `
		UPDATE attendance_batch_versions SET is_current = FALSE
		WHERE batch_id = $1 AND is_current
	`, v.BatchID); err != nil {
		return err
	}
	attendees, err := json.Marshal(v.Attendees)
	if err != nil {
		return err
	}
	absentees, err := json.Marshal(v.Absentees)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO attendance_batch_versions (id, batch_id, version, upload_id, is_current, attendees, absentees, created_by, created_at)
		VALUES ($1, $2, $3, $4, TRUE, $5::jsonb, $6::jsonb, $7, $8)
	`, v.ID, v.BatchID, v.Version, v.UploadID, string(attendees), string(absentees), v.CreatedBy, v.CreatedAt)
	return err
}

func (t *pgTx) MarkConfirmed(ctx context.Context, u Upload) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE attendance_uploads
		SET state = 'confirmed', records_processed = $2, matched_count = $3, unmatched_count = $4,
			absent_count = $5, batch_id = $6, confirmed_by = $7, confirmed_at = $8
		WHERE id = $1 AND state = 'staged'
	`, u.ID, u.RecordsProcessed, u.MatchedCount, u.UnmatchedCount, u.AbsentCount, u.BatchID, u.ConfirmedBy, u.ConfirmedAt)
	if err != nil {
		return err
	}
	return expectOne(res, u.ID)
}

func (t *pgTx) MarkCanceled(ctx context.Context, id, actorID string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE attendance_uploads
		SET state = 'canceled', canceled_by = $2, canceled_at = $3
		WHERE id = $1 AND state = 'staged'
	`, id, actorID, at)
	if err != nil {
		return err
	}
	return expectOne(res, id)
}

func expectOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("upload %s changed state concurrently", id)
	}
	return nil
}
