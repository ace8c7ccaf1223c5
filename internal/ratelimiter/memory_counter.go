package ratelimiter

import (
	"context"
	"sync"
	"time"
)

// MemoryCounterStore is an in-process CounterStore.
type MemoryCounterStore struct {
	mu      sync.Mutex
	windows map[string]Window
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{windows: make(map[string]Window)}
}

func (s *MemoryCounterStore) Increment(_ context.Context, recipientID string, now time.Time, window time.Duration) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[recipientID]
	if !ok || !w.WindowStart.Add(window).After(now) {
		w = Window{RecipientID: recipientID, WindowStart: now}
	}
	w.Count++
	s.windows[recipientID] = w
	return w, nil
}

func (s *MemoryCounterStore) PurgeStale(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, w := range s.windows {
		if w.WindowStart.Before(cutoff) {
			delete(s.windows, id)
			n++
		}
	}
	return n, nil
}

var _ CounterStore = (*MemoryCounterStore)(nil)
