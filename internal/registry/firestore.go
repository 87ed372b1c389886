package registry

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/archivedownloadflow/internal/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore keeps staging records in a Firestore collection, one
// document per object id. Firestore transactions give the per-object
// compare-and-swap semantics the state machine needs; there is no global
// critical section.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	policy     ReregistrationPolicy
}

func NewFirestoreStore(client *firestore.Client, collection string, policy ReregistrationPolicy) *FirestoreStore {
	return &FirestoreStore{
		client:     client,
		collection: collection,
		policy:     policy,
	}
}

func (s *FirestoreStore) doc(objectID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(objectID)
}

// getInTx reads the current record inside a transaction, mapping the
// Firestore NotFound code to a nil record.
func getInTx(tx *firestore.Transaction, ref *firestore.DocumentRef) (*models.StagingRecord, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read staging record: %w", err)
	}
	var rec models.StagingRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode staging record %s: %w", ref.ID, err)
	}
	return &rec, nil
}

func (s *FirestoreStore) UpsertRegistered(ctx context.Context, objectID string, reg Registration, now time.Time) (bool, error) {
	var created bool
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := s.doc(objectID)
		current, err := getInTx(tx, ref)
		if err != nil {
			return err
		}
		next, isNew, err := applyRegistered(current, objectID, reg, s.policy, now)
		if err != nil {
			return err
		}
		created = isNew
		if next == current {
			// Duplicate delivery, nothing to persist.
			return nil
		}
		return tx.Set(ref, next)
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (s *FirestoreStore) MarkStaged(ctx context.Context, objectID, checksum string, size int64, ttl time.Duration, now time.Time) (bool, error) {
	var changed bool
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := s.doc(objectID)
		rec, err := getInTx(tx, ref)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("object %s: %w", objectID, ErrNotFound)
		}
		changed, err = applyStaged(rec, checksum, size, ttl, now)
		if err != nil || !changed {
			return err
		}
		return tx.Set(ref, rec)
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (s *FirestoreStore) Lookup(ctx context.Context, objectID string) (*models.StagingRecord, error) {
	snap, err := s.doc(objectID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("object %s: %w", objectID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read staging record %s: %w", objectID, err)
	}
	var rec models.StagingRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode staging record %s: %w", objectID, err)
	}
	return &rec, nil
}

func (s *FirestoreStore) TouchAccessAttempt(ctx context.Context, objectID string, now time.Time) error {
	_, err := s.doc(objectID).Update(ctx, []firestore.Update{
		{Path: "lastAccessAttemptAt", Value: now},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("object %s: %w", objectID, ErrNotFound)
		}
		return fmt.Errorf("failed to record access attempt for %s: %w", objectID, err)
	}
	return nil
}

func (s *FirestoreStore) MarkExpired(ctx context.Context, objectID string, now time.Time) (bool, error) {
	var changed bool
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := s.doc(objectID)
		rec, err := getInTx(tx, ref)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("object %s: %w", objectID, ErrNotFound)
		}
		changed, err = applyExpired(rec, now)
		if err != nil || !changed {
			return err
		}
		return tx.Set(ref, rec)
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (s *FirestoreStore) MarkDeleted(ctx context.Context, objectID string, now time.Time) (bool, error) {
	var changed bool
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := s.doc(objectID)
		rec, err := getInTx(tx, ref)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("object %s: %w", objectID, ErrNotFound)
		}
		changed = applyDeleted(rec, now)
		if !changed {
			return nil
		}
		return tx.Set(ref, rec)
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (s *FirestoreStore) HealUnstaged(ctx context.Context, objectID string, stagedAt time.Time, _ time.Time) (bool, error) {
	var healed bool
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := s.doc(objectID)
		rec, err := getInTx(tx, ref)
		if err != nil {
			return err
		}
		if rec == nil {
			// Nothing to heal.
			return nil
		}
		healed = applyHealUnstaged(rec, stagedAt)
		if !healed {
			return nil
		}
		return tx.Set(ref, rec)
	})
	if err != nil {
		return false, err
	}
	return healed, nil
}
