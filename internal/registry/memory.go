package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Lllllllleong/archivedownloadflow/internal/models"
)

// MemoryStore is an in-process registry backend with the same transition
// semantics as the Firestore one. It backs unit tests and local development;
// the deployed service always runs against Firestore.
//
// Atomicity is per object id, mirroring the per-document Firestore
// transactions: each object carries its own mutex, and the store-level mutex
// only guards the maps, never a transition.
type MemoryStore struct {
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	records map[string]*models.StagingRecord
	policy  ReregistrationPolicy
}

func NewMemoryStore(policy ReregistrationPolicy) *MemoryStore {
	return &MemoryStore{
		locks:   make(map[string]*sync.Mutex),
		records: make(map[string]*models.StagingRecord),
		policy:  policy,
	}
}

func (s *MemoryStore) lockObject(objectID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[objectID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[objectID] = lock
	}
	return lock
}

func (s *MemoryStore) getRecord(objectID string) *models.StagingRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[objectID]
}

func (s *MemoryStore) putRecord(objectID string, rec *models.StagingRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[objectID] = rec
}

func (s *MemoryStore) UpsertRegistered(_ context.Context, objectID string, reg Registration, now time.Time) (bool, error) {
	lock := s.lockObject(objectID)
	lock.Lock()
	defer lock.Unlock()

	next, created, err := applyRegistered(s.getRecord(objectID), objectID, reg, s.policy, now)
	if err != nil {
		return false, err
	}
	s.putRecord(objectID, next)
	return created, nil
}

func (s *MemoryStore) MarkStaged(_ context.Context, objectID, checksum string, size int64, ttl time.Duration, now time.Time) (bool, error) {
	lock := s.lockObject(objectID)
	lock.Lock()
	defer lock.Unlock()

	rec := s.getRecord(objectID)
	if rec == nil {
		return false, fmt.Errorf("object %s: %w", objectID, ErrNotFound)
	}
	return applyStaged(rec, checksum, size, ttl, now)
}

func (s *MemoryStore) Lookup(_ context.Context, objectID string) (*models.StagingRecord, error) {
	lock := s.lockObject(objectID)
	lock.Lock()
	defer lock.Unlock()

	rec := s.getRecord(objectID)
	if rec == nil {
		return nil, fmt.Errorf("object %s: %w", objectID, ErrNotFound)
	}
	snapshot := *rec
	return &snapshot, nil
}

func (s *MemoryStore) TouchAccessAttempt(_ context.Context, objectID string, now time.Time) error {
	lock := s.lockObject(objectID)
	lock.Lock()
	defer lock.Unlock()

	rec := s.getRecord(objectID)
	if rec == nil {
		return fmt.Errorf("object %s: %w", objectID, ErrNotFound)
	}
	rec.LastAccessAttemptAt = now
	return nil
}

func (s *MemoryStore) MarkExpired(_ context.Context, objectID string, now time.Time) (bool, error) {
	lock := s.lockObject(objectID)
	lock.Lock()
	defer lock.Unlock()

	rec := s.getRecord(objectID)
	if rec == nil {
		return false, fmt.Errorf("object %s: %w", objectID, ErrNotFound)
	}
	return applyExpired(rec, now)
}

func (s *MemoryStore) MarkDeleted(_ context.Context, objectID string, now time.Time) (bool, error) {
	lock := s.lockObject(objectID)
	lock.Lock()
	defer lock.Unlock()

	rec := s.getRecord(objectID)
	if rec == nil {
		return false, fmt.Errorf("object %s: %w", objectID, ErrNotFound)
	}
	return applyDeleted(rec, now), nil
}

func (s *MemoryStore) HealUnstaged(_ context.Context, objectID string, stagedAt time.Time, _ time.Time) (bool, error) {
	lock := s.lockObject(objectID)
	lock.Lock()
	defer lock.Unlock()

	rec := s.getRecord(objectID)
	if rec == nil {
		return false, nil
	}
	return applyHealUnstaged(rec, stagedAt), nil
}
