package attendance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chapel/internal/apperr"
	"chapel/internal/directory"
	"chapel/internal/metrics"
	"chapel/internal/schedule"
)

// Service reconciles scanned attendance into versioned batches.
type Service struct {
	store    Store
	dir      directory.Directory
	services schedule.Source
	archive  Archive
	metrics  *metrics.Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithArchive stores raw manifests in an object store.
func WithArchive(a Archive) Option { return func(s *Service) { s.archive = a } }

// WithMetrics records pipeline metrics.
func WithMetrics(m *metrics.Recorder) Option { return func(s *Service) { s.metrics = m } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService creates a service.
func NewService(store Store, dir directory.Directory, services schedule.Source, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		dir:      dir,
		services: services,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessUpload parses a manifest, matches it against the level roster and stages the upload.
// Nothing becomes authoritative until Confirm.
func (s *Service) ProcessUpload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	const op = "process upload"
	res, err := s.processUpload(ctx, req)
	switch {
	case err != nil:
		s.metrics.Upload(metrics.Outcome(err, string(apperr.KindOf(err))))
	case res.Duplicate:
		s.metrics.Upload("duplicate")
	default:
		s.metrics.Upload("staged")
	}
	if err != nil {
		s.logger.Warn(op+" failed",
			zap.String("service_id", req.ServiceID),
			zap.String("level_id", req.LevelID),
			zap.Error(err))
	}
	return res, err
}

func (s *Service) processUpload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	const op = "process upload"
	if req.ServiceID == "" || req.LevelID == "" {
		return UploadResult{}, apperr.Validation(op, "service_id and level_id are required")
	}
	if req.UploadedBy == "" {
		return UploadResult{}, apperr.Validation(op, "uploader is required")
	}
	if len(req.Content) == 0 {
		return UploadResult{}, apperr.Validation(op, "manifest is empty")
	}

	svc, err := s.services.GetService(ctx, req.ServiceID)
	if err != nil {
		return UploadResult{}, apperr.DB(op, err)
	}
	if svc == nil {
		return UploadResult{}, apperr.NotFound(op, "service %s not found", req.ServiceID)
	}
	if svc.Status == schedule.StatusCanceled {
		return UploadResult{}, apperr.Validation(op, "service %s is canceled", svc.ID)
	}
	if !svc.AppliesTo(req.LevelID) {
		return UploadResult{}, apperr.Validation(op, "level %s does not attend service %s", req.LevelID, svc.ID)
	}

	hash := req.FileHash
	if hash == "" {
		sum := sha256.Sum256(req.Content)
		hash = hex.EncodeToString(sum[:])
	}
	if existing, err := s.store.FindLiveUploadByHash(ctx, req.ServiceID, req.LevelID, hash); err != nil {
		return UploadResult{}, apperr.DB(op, err)
	} else if existing != nil {
		return s.duplicateResult(ctx, *existing)
	}

	entries, err := ParseManifest(req.Content, req.ContentType)
	if err != nil {
		return UploadResult{}, apperr.Parse(op, err)
	}

	roster, err := s.dir.FindActiveStudentsByLevel(ctx, req.LevelID)
	if err != nil {
		return UploadResult{}, apperr.DB(op, err)
	}
	rec, err := reconcile(ctx, entries, roster, s.dir.FindStudentByIdentifier)
	if err != nil {
		return UploadResult{}, apperr.DB(op, err)
	}

	uploadID := uuid.NewString()
	storagePath := fmt.Sprintf("uploads/%s/%s/%s", req.ServiceID, req.LevelID, hash)
	if s.archive != nil {
		name := req.FileName
		if name == "" {
			name = uploadID
		}
		storagePath, err = s.archive.Put(ctx, name, req.Content)
		if err != nil {
			return UploadResult{}, apperr.DB("archive manifest", err)
		}
	}

	u := Upload{
		ID:               uploadID,
		ServiceID:        req.ServiceID,
		LevelID:          req.LevelID,
		FileHash:         hash,
		FileName:         req.FileName,
		StoragePath:      storagePath,
		UploadedBy:       req.UploadedBy,
		UploadedAt:       s.now(),
		State:            StateStaged,
		RecordsProcessed: len(rec.Rows),
		MatchedCount:     rec.matched(),
		UnmatchedCount:   rec.unmatched(),
		AbsentCount:      len(rec.Absentees),
	}
	if err := s.store.CreateStagedUpload(ctx, u, rec.Rows); err != nil {
		if apperr.IsUniqueViolation(err, "attendance_uploads_live_hash") {
			existing, ferr := s.store.FindLiveUploadByHash(ctx, req.ServiceID, req.LevelID, hash)
			if ferr == nil && existing != nil {
				return s.duplicateResult(ctx, *existing)
			}
		}
		return UploadResult{}, apperr.DB(op, err)
	}

	s.recordRows(rec.Rows)
	s.logger.Info("upload staged",
		zap.String("upload_id", u.ID),
		zap.String("service_id", u.ServiceID),
		zap.String("level_id", u.LevelID),
		zap.Int("records", u.RecordsProcessed),
		zap.Int("matched", u.MatchedCount),
		zap.Int("unmatched", u.UnmatchedCount),
		zap.Int("absent", u.AbsentCount))

	return UploadResult{
		UploadID:         u.ID,
		State:            u.State,
		RecordsProcessed: u.RecordsProcessed,
		MatchedCount:     u.MatchedCount,
		UnmatchedCount:   u.UnmatchedCount,
		AbsentCount:      u.AbsentCount,
		ErrorRows:        errorRows(rec.Rows),
	}, nil
}

func (s *Service) duplicateResult(ctx context.Context, u Upload) (UploadResult, error) {
	rows, err := s.store.ListRows(ctx, u.ID)
	if err != nil {
		return UploadResult{}, apperr.DB("process upload", err)
	}
	s.logger.Info("upload already processed",
		zap.String("upload_id", u.ID),
		zap.String("state", string(u.State)))
	return UploadResult{
		UploadID:         u.ID,
		State:            u.State,
		RecordsProcessed: u.RecordsProcessed,
		MatchedCount:     u.MatchedCount,
		UnmatchedCount:   u.UnmatchedCount,
		AbsentCount:      u.AbsentCount,
		ErrorRows:        errorRows(rows),
		Duplicate:        true,
	}, nil
}

func (s *Service) recordRows(rows []Row) {
	counts := map[string]int{}
	for _, r := range rows {
		if r.Matched {
			counts["matched"]++
		} else {
			counts[string(r.Reason)]++
		}
	}
	for result, n := range counts {
		s.metrics.ScanRows(result, n)
	}
}

// GetUpload returns an upload with its rows.
func (s *Service) GetUpload(ctx context.Context, id string) (UploadDetail, error) {
	const op = "get upload"
	u, err := s.store.GetUpload(ctx, id)
	if err != nil {
		return UploadDetail{}, apperr.DB(op, err)
	}
	if u == nil {
		return UploadDetail{}, apperr.NotFound(op, "upload %s not found", id)
	}
	rows, err := s.store.ListRows(ctx, id)
	if err != nil {
		return UploadDetail{}, apperr.DB(op, err)
	}
	return UploadDetail{Upload: *u, Rows: rows}, nil
}

// ListBatchVersions returns the audit history of a batch, oldest first.
func (s *Service) ListBatchVersions(ctx context.Context, batchID string) ([]BatchVersion, error) {
	const op = "list batch versions"
	versions, err := s.store.ListBatchVersions(ctx, batchID)
	if err != nil {
		return nil, apperr.DB(op, err)
	}
	if len(versions) == 0 {
		return nil, apperr.NotFound(op, "batch %s not found", batchID)
	}
	return versions, nil
}
