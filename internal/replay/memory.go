package replay

import (
	"context"
	"sync"
	"time"

	"webhook-verifier/internal/common/logging"
)

// MemoryStore keeps nonces in a process-local map. Expired entries are
// ignored on lookup and purged by a background sweep once Start is called.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
	sweeper *Sweeper
}

// NewMemoryStore creates an empty store. The sweep is not scheduled until Start.
func NewMemoryStore(sweepInterval time.Duration, logger logging.Logger) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
	s.sweeper = NewSweeper(s, sweepInterval, logger)
	return s
}

// Start schedules the expiry sweep.
func (s *MemoryStore) Start() error {
	return s.sweeper.Start()
}

// Close stops the expiry sweep. Stored entries are kept.
func (s *MemoryStore) Close() error {
	s.sweeper.Stop()
	return nil
}

func (s *MemoryStore) Seen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveLocked(key), nil
}

func (s *MemoryStore) Record(_ context.Context, key string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = expiresAt
	return nil
}

func (s *MemoryStore) Claim(_ context.Context, key string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.liveLocked(key) {
		return false, nil
	}
	s.entries[key] = expiresAt
	return true, nil
}

func (s *MemoryStore) Cleanup(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, expiresAt := range s.entries {
		if !expiresAt.After(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Health(_ context.Context) error {
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) liveLocked(key string) bool {
	expiresAt, ok := s.entries[key]
	return ok && expiresAt.After(s.now())
}
