package attendance

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chapel/internal/apperr"
	"chapel/internal/metrics"
)

// Confirm promotes a staged upload to a new current batch version. Counts are
// recomputed against the directory as it is now, not as it was at staging.
// The state check, version insert and upload transition commit as one unit.
func (s *Service) Confirm(ctx context.Context, uploadID, actorID string) (ConfirmResult, error) {
	res, err := s.confirm(ctx, uploadID, actorID)
	s.metrics.Confirmation(metrics.Outcome(err, string(apperr.KindOf(err))))
	if err != nil {
		s.logger.Warn("confirm upload failed",
			zap.String("upload_id", uploadID),
			zap.String("actor_id", actorID),
			zap.Bool("retryable", apperr.IsRetryable(err)),
			zap.Error(err))
		return ConfirmResult{}, err
	}
	s.logger.Info("upload confirmed",
		zap.String("upload_id", uploadID),
		zap.String("batch_id", res.BatchID),
		zap.Int("version", res.Version),
		zap.Int("matched", res.MatchedCount),
		zap.Int("unmatched", res.UnmatchedCount))
	return res, nil
}

func (s *Service) confirm(ctx context.Context, uploadID, actorID string) (ConfirmResult, error) {
	const op = "confirm upload"
	if uploadID == "" || actorID == "" {
		return ConfirmResult{}, apperr.Validation(op, "upload id and actor id are required")
	}

	var res ConfirmResult
	err := s.store.InTx(ctx, func(tx Tx) error {
		u, err := tx.LockUpload(ctx, uploadID)
		if err != nil {
			return apperr.DB(op, err)
		}
		if u == nil {
			return apperr.NotFound(op, "upload %s not found", uploadID)
		}
		if !u.State.CanTransition(StateConfirmed) {
			return apperr.InvalidState(op, "upload %s is %s", uploadID, u.State)
		}

		rows, err := tx.ListRows(ctx, u.ID)
		if err != nil {
			return apperr.DB(op, err)
		}
		roster, err := s.dir.FindActiveStudentsByLevel(ctx, u.LevelID)
		if err != nil {
			return apperr.DB(op, err)
		}
		rec, err := reconcile(ctx, entriesFromRows(rows), roster, s.dir.FindStudentByIdentifier)
		if err != nil {
			return apperr.DB(op, err)
		}
		if rec.matched() != u.MatchedCount || len(rec.Absentees) != u.AbsentCount {
			s.logger.Info("directory changed since staging",
				zap.String("upload_id", u.ID),
				zap.Int("staged_matched", u.MatchedCount),
				zap.Int("matched", rec.matched()),
				zap.Int("staged_absent", u.AbsentCount),
				zap.Int("absent", len(rec.Absentees)))
		}
		if err := tx.ReplaceRows(ctx, u.ID, rec.Rows); err != nil {
			return apperr.DB(op, err)
		}

		batchID, err := tx.EnsureBatch(ctx, u.ServiceID, u.LevelID)
		if err != nil {
			return apperr.DB(op, err)
		}
		version, err := tx.NextVersion(ctx, batchID)
		if err != nil {
			return apperr.DB(op, err)
		}
		now := s.now()
		v := BatchVersion{
			ID:        uuid.NewString(),
			BatchID:   batchID,
			ServiceID: u.ServiceID,
			LevelID:   u.LevelID,
			Version:   version,
			UploadID:  u.ID,
			IsCurrent: true,
			Attendees: nonNil(rec.Attendees),
			Absentees: nonNil(rec.Absentees),
			CreatedBy: actorID,
			CreatedAt: now,
		}
		if err := tx.InsertCurrentVersion(ctx, v); err != nil {
			if apperr.IsUniqueViolation(err, "") {
				return apperr.InvalidState(op, "batch %s was confirmed concurrently", batchID)
			}
			return apperr.DB(op, err)
		}

		u.State = StateConfirmed
		u.RecordsProcessed = len(rec.Rows)
		u.MatchedCount = rec.matched()
		u.UnmatchedCount = rec.unmatched()
		u.AbsentCount = len(rec.Absentees)
		u.BatchID = &batchID
		u.ConfirmedBy = &actorID
		u.ConfirmedAt = &now
		if err := tx.MarkConfirmed(ctx, *u); err != nil {
			return apperr.DB(op, err)
		}

		res = ConfirmResult{
			BatchID:          batchID,
			VersionID:        v.ID,
			Version:          version,
			RecordsProcessed: u.RecordsProcessed,
			MatchedCount:     u.MatchedCount,
			UnmatchedCount:   u.UnmatchedCount,
		}
		return nil
	})
	if err != nil {
		return ConfirmResult{}, apperr.DB(op, err)
	}
	return res, nil
}

// Cancel discards a staged upload. It is irreversible and never touches batch versions.
func (s *Service) Cancel(ctx context.Context, uploadID, actorID string) error {
	const op = "cancel upload"
	err := func() error {
		if uploadID == "" || actorID == "" {
			return apperr.Validation(op, "upload id and actor id are required")
		}
		return s.store.InTx(ctx, func(tx Tx) error {
			u, err := tx.LockUpload(ctx, uploadID)
			if err != nil {
				return apperr.DB(op, err)
			}
			if u == nil {
				return apperr.NotFound(op, "upload %s not found", uploadID)
			}
			if !u.State.CanTransition(StateCanceled) {
				return apperr.InvalidState(op, "upload %s is %s", uploadID, u.State)
			}
			if err := tx.MarkCanceled(ctx, u.ID, actorID, s.now()); err != nil {
				return apperr.DB(op, err)
			}
			return nil
		})
	}()
	err = apperr.DB(op, err)
	s.metrics.Cancellation(metrics.Outcome(err, string(apperr.KindOf(err))))
	if err != nil {
		s.logger.Warn("cancel upload failed", zap.String("upload_id", uploadID), zap.Error(err))
		return err
	}
	s.logger.Info("upload canceled", zap.String("upload_id", uploadID), zap.String("actor_id", actorID))
	return nil
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
