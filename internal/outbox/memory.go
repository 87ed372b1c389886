package outbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and local development.
// StatErr, when set, simulates an unreachable bucket.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]int64

	StatErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]int64)}
}

// Put stages an object of the given size.
func (s *MemoryStore) Put(objectID string, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectID] = size
}

func (s *MemoryStore) Stat(_ context.Context, objectID string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StatErr != nil {
		return 0, false, s.StatErr
	}
	size, ok := s.objects[objectID]
	return size, ok, nil
}

func (s *MemoryStore) SignedURL(objectID string, expires time.Time) (string, error) {
	return fmt.Sprintf("https://outbox.invalid/%s?expires=%d", objectID, expires.Unix()), nil
}

func (s *MemoryStore) Delete(_ context.Context, objectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, objectID)
	return nil
}

func (s *MemoryStore) ListObjectIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.objects))
	for id := range s.objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
