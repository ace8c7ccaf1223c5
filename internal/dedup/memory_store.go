package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/notifyhub/villa-dispatch/internal/domain"
)

// MemoryStore is an in-process Store. It backs single-instance deployments,
// the live feed's per-subscriber guard, and tests.
type MemoryStore struct {
	mu         sync.Mutex
	records    map[string]Record
	maxEntries int
}

// NewMemoryStore returns a MemoryStore holding at most maxEntries records.
// maxEntries <= 0 means unbounded.
func NewMemoryStore(maxEntries int) *MemoryStore {
	return &MemoryStore{records: make(map[string]Record), maxEntries: maxEntries}
}

func (s *MemoryStore) Claim(_ context.Context, rec Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.ID]; ok && existing.LiveAt(rec.CreatedAt) {
		return false, nil
	}
	s.records[rec.ID] = rec
	if s.maxEntries > 0 && len(s.records) > s.maxEntries {
		s.evict(rec.CreatedAt, rec.ID)
	}
	return true, nil
}

// evict drops expired records, then the soonest-expiring ones, until the
// store is back under its bound. keep is never evicted.
func (s *MemoryStore) evict(now time.Time, keep string) {
	for id, r := range s.records {
		if !r.LiveAt(now) && id != keep {
			delete(s.records, id)
		}
	}
	for len(s.records) > s.maxEntries {
		var victim string
		var soonest time.Time
		for id, r := range s.records {
			if id == keep {
				continue
			}
			if victim == "" || r.ExpiresAt.Before(soonest) {
				victim, soonest = id, r.ExpiresAt
			}
		}
		if victim == "" {
			return
		}
		delete(s.records, victim)
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

func (s *MemoryStore) Release(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[rec.ID]; ok && existing.CreatedAt.Equal(rec.CreatedAt) {
		delete(s.records, rec.ID)
	}
	return nil
}

func (s *MemoryStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.records {
		if !r.LiveAt(now) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

var _ Store = (*MemoryStore)(nil)
