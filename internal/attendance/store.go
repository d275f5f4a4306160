package attendance

import (
	"context"
	"time"
)

// Store persists uploads, rows and batch versions.
type Store interface {
	// FindLiveUploadByHash returns a staged or confirmed upload with the same content, or nil.
	FindLiveUploadByHash(ctx context.Context, serviceID, levelID, hash string) (*Upload, error)
	CreateStagedUpload(ctx context.Context, u Upload, rows []Row) error
	GetUpload(ctx context.Context, id string) (*Upload, error)
	ListRows(ctx context.Context, uploadID string) ([]Row, error)
	ListBatchVersions(ctx context.Context, batchID string) ([]BatchVersion, error)
	CurrentVersionsForService(ctx context.Context, serviceID string) ([]BatchVersion, error)
	// InTx runs fn atomically: every write made through tx commits together or not at all.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write surface available inside a confirmation or cancellation.
type Tx interface {
	// LockUpload loads the upload and holds it against concurrent transitions; nil when missing.
	LockUpload(ctx context.Context, id string) (*Upload, error)
	ListRows(ctx context.Context, uploadID string) ([]Row, error)
	ReplaceRows(ctx context.Context, uploadID string, rows []Row) error
	// EnsureBatch returns the batch id for (service, level), creating it if needed, locked for versioning.
	EnsureBatch(ctx context.Context, serviceID, levelID string) (string, error)
	NextVersion(ctx context.Context, batchID string) (int, error)
	// InsertCurrentVersion demotes the batch's current version and inserts v as current.
	InsertCurrentVersion(ctx context.Context, v BatchVersion) error
	MarkConfirmed(ctx context.Context, u Upload) error
	MarkCanceled(ctx context.Context, id, actorID string, at time.Time) error
}

// Archive keeps the raw manifest bytes and returns a storage path.
type Archive interface {
	Put(ctx context.Context, name string, content []byte) (string, error)
}
