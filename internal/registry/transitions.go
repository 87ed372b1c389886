package registry

import (
	"fmt"
	"time"

	"github.com/Lllllllleong/archivedownloadflow/internal/models"
)

// The transition functions below hold the whole state machine. Both backends
// run them inside their per-object atomic section (Firestore transaction,
// in-memory mutex) so the lifecycle rules are implemented exactly once.

// applyRegistered folds a registration into the current record (nil if the
// object is unknown). It returns the record to persist and whether a new
// record lineage was created (the caller publishes file-registered only for
// those).
func applyRegistered(current *models.StagingRecord, objectID string, reg Registration, policy ReregistrationPolicy, now time.Time) (*models.StagingRecord, bool, error) {
	if current == nil {
		return freshRecord(objectID, reg, now), true, nil
	}

	if current.DedupKey == reg.DedupKey {
		// Duplicate delivery of the same inbound event.
		return current, false, nil
	}

	switch current.Status {
	case models.StatusRegistered:
		// A re-registration before staging updates the dedup lineage in
		// place; the record itself is not new.
		updated := *current
		updated.DedupKey = reg.DedupKey
		updated.SourceEventID = reg.SourceEventID
		updated.Checksum = reg.Checksum
		updated.Size = reg.Size
		updated.CreationDate = reg.CreationDate
		return &updated, false, nil
	case models.StatusStaged:
		if now.Before(current.ExpiresAt) && policy == PolicyReject {
			return nil, false, fmt.Errorf("object %s re-registered while staged until %s: %w",
				objectID, current.ExpiresAt.Format(time.RFC3339), ErrConflict)
		}
		// Staged-but-expired, or reset policy: start a fresh lineage.
		return freshRecord(objectID, reg, now), true, nil
	case models.StatusExpired, models.StatusDeleted:
		return freshRecord(objectID, reg, now), true, nil
	default:
		return nil, false, fmt.Errorf("object %s has unknown status %q: %w", objectID, current.Status, ErrInvalidState)
	}
}

func freshRecord(objectID string, reg Registration, now time.Time) *models.StagingRecord {
	return &models.StagingRecord{
		ObjectID:      objectID,
		Status:        models.StatusRegistered,
		DedupKey:      reg.DedupKey,
		SourceEventID: reg.SourceEventID,
		Checksum:      reg.Checksum,
		Size:          reg.Size,
		CreationDate:  reg.CreationDate,
		RegisteredAt:  now,
	}
}

// applyStaged mutates the record for a staging confirmation. The returned
// bool is false for the idempotent re-confirmation no-op.
func applyStaged(rec *models.StagingRecord, checksum string, size int64, ttl time.Duration, now time.Time) (bool, error) {
	switch rec.Status {
	case models.StatusRegistered:
		rec.Status = models.StatusStaged
		rec.Checksum = checksum
		rec.Size = size
		rec.StagedAt = now
		rec.ExpiresAt = now.Add(ttl)
		return true, nil
	case models.StatusStaged:
		if rec.Checksum == checksum && rec.Size == size {
			return false, nil
		}
		return false, fmt.Errorf("object %s already staged with different data (checksum %s, size %d): %w",
			rec.ObjectID, rec.Checksum, rec.Size, ErrInvalidState)
	case models.StatusExpired, models.StatusDeleted:
		return false, fmt.Errorf("object %s is %s: %w", rec.ObjectID, rec.Status, ErrInvalidState)
	default:
		return false, fmt.Errorf("object %s has unknown status %q: %w", rec.ObjectID, rec.Status, ErrInvalidState)
	}
}

func applyExpired(rec *models.StagingRecord, now time.Time) (bool, error) {
	switch rec.Status {
	case models.StatusStaged:
		rec.Status = models.StatusExpired
		if rec.ExpiresAt.IsZero() || now.Before(rec.ExpiresAt) {
			rec.ExpiresAt = now
		}
		return true, nil
	case models.StatusExpired, models.StatusDeleted:
		return false, nil
	case models.StatusRegistered:
		return false, fmt.Errorf("object %s is not staged: %w", rec.ObjectID, ErrInvalidTransition)
	default:
		return false, fmt.Errorf("object %s has unknown status %q: %w", rec.ObjectID, rec.Status, ErrInvalidTransition)
	}
}

// applyDeleted retires a record on an upstream deletion request. Valid from
// every state; re-deleting is a no-op. The record is kept with the terminal
// status so later duplicate deliveries stay idempotent.
func applyDeleted(rec *models.StagingRecord, now time.Time) bool {
	if rec.Status == models.StatusDeleted {
		return false
	}
	rec.Status = models.StatusDeleted
	rec.DeletedAt = now
	rec.ExpiresAt = time.Time{}
	return true
}

// applyHealUnstaged reverts a Staged record whose bytes turned out to be
// missing. The stagedAt guard makes the correction a no-op when another
// writer re-staged or expired the record in the meantime.
func applyHealUnstaged(rec *models.StagingRecord, stagedAt time.Time) bool {
	if rec.Status != models.StatusStaged || !rec.StagedAt.Equal(stagedAt) {
		return false
	}
	rec.Status = models.StatusRegistered
	rec.StagedAt = time.Time{}
	rec.ExpiresAt = time.Time{}
	return true
}
