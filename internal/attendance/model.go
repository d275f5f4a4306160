package attendance

import (
	"time"
)

// State is the lifecycle state of an upload.
type State string

const (
	StateStaged    State = "staged"
	StateConfirmed State = "confirmed"
	StateCanceled  State = "canceled"
)

// CanTransition reports whether the upload lifecycle allows moving from s to next.
// Only staged uploads move, and only to a terminal state.
func (s State) CanTransition(next State) bool {
	return s == StateStaged && (next == StateConfirmed || next == StateCanceled)
}

// Reason explains why a scanned entry did not become an attendee.
type Reason string

const (
	ReasonNotFound      Reason = "NOT_FOUND"
	ReasonWrongLevel    Reason = "WRONG_LEVEL"
	ReasonDuplicateScan Reason = "DUPLICATE_SCAN"
)

// Upload is one scanned-attendance file for a (service, level) pair.
type Upload struct {
	ID               string     `json:"id"`
	ServiceID        string     `json:"service_id"`
	LevelID          string     `json:"level_id"`
	FileHash         string     `json:"file_hash"`
	FileName         string     `json:"file_name,omitempty"`
	StoragePath      string     `json:"storage_path"`
	UploadedBy       string     `json:"uploaded_by"`
	UploadedAt       time.Time  `json:"uploaded_at"`
	State            State      `json:"state"`
	RecordsProcessed int        `json:"records_processed"`
	MatchedCount     int        `json:"matched_count"`
	UnmatchedCount   int        `json:"unmatched_count"`
	AbsentCount      int        `json:"absent_count"`
	BatchID          *string    `json:"batch_id,omitempty"`
	ConfirmedBy      *string    `json:"confirmed_by,omitempty"`
	ConfirmedAt      *time.Time `json:"confirmed_at,omitempty"`
	CanceledBy       *string    `json:"canceled_by,omitempty"`
	CanceledAt       *time.Time `json:"canceled_at,omitempty"`
}

// Row is the match outcome of one manifest entry. Unmatched rows keep the raw payload.
type Row struct {
	Line       int    `json:"line"`
	Identifier string `json:"identifier"`
	Raw        string `json:"raw"`
	Matched    bool   `json:"matched"`
	StudentID  string `json:"student_id,omitempty"`
	Reason     Reason `json:"reason,omitempty"`
}

// Attendee is a student present at a service.
type Attendee struct {
	StudentID    string `json:"student_id" validate:"required"`
	MatricNumber string `json:"matric_number"`
	FullName     string `json:"full_name"`
	LevelID      string `json:"level_id"`
}

// Absentee is an active student of the level who was not scanned.
type Absentee struct {
	StudentID    string `json:"student_id" validate:"required"`
	MatricNumber string `json:"matric_number"`
	FullName     string `json:"full_name"`
	LevelID      string `json:"level_id" validate:"required"`
	Exempted     bool   `json:"exempted"`
}

// Batch is the reconciliation unit for a (service, level).
type Batch struct {
	ID        string    `json:"id"`
	ServiceID string    `json:"service_id"`
	LevelID   string    `json:"level_id"`
	CreatedAt time.Time `json:"created_at"`
}

// BatchVersion is an immutable snapshot created by one confirmation.
type BatchVersion struct {
	ID        string     `json:"id"`
	BatchID   string     `json:"batch_id"`
	ServiceID string     `json:"service_id"`
	LevelID   string     `json:"level_id"`
	Version   int        `json:"version"`
	UploadID  string     `json:"upload_id"`
	IsCurrent bool       `json:"is_current"`
	Attendees []Attendee `json:"attendees"`
	Absentees []Absentee `json:"absentees"`
	CreatedBy string     `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`

	// Rejected lists absentee entries dropped while decoding stored data.
	Rejected []string `json:"-"`
}

// UploadRequest carries a raw manifest for staging.
type UploadRequest struct {
	ServiceID   string
	LevelID     string
	Content     []byte
	ContentType string
	FileName    string
	FileHash    string
	UploadedBy  string
}

// UploadResult summarises a staged upload.
type UploadResult struct {
	UploadID         string `json:"upload_id"`
	State            State  `json:"state"`
	RecordsProcessed int    `json:"records_processed"`
	MatchedCount     int    `json:"matched_count"`
	UnmatchedCount   int    `json:"unmatched_count"`
	AbsentCount      int    `json:"absent_count"`
	ErrorRows        []Row  `json:"error_rows"`
	Duplicate        bool   `json:"duplicate"`
}

// ConfirmResult is returned by a successful confirmation.
type ConfirmResult struct {
	BatchID          string `json:"batch_id"`
	VersionID        string `json:"version_id"`
	Version          int    `json:"version"`
	RecordsProcessed int    `json:"records_processed"`
	MatchedCount     int    `json:"matched_count"`
	UnmatchedCount   int    `json:"unmatched_count"`
}

// UploadDetail is an upload together with its match rows.
type UploadDetail struct {
	Upload
	Rows []Row `json:"rows"`
}

func errorRows(rows []Row) []Row {
	out := make([]Row, 0)
	for _, r := range rows {
		if !r.Matched {
			out = append(out, r)
		}
	}
	return out
}
