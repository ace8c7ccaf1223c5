// Package stream fans freshly stored inbox items out to connected staff
// clients. Publishing never blocks: a subscriber whose buffer is full misses
// the item and picks it up from the inbox on its next refresh.
package stream

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/villa-dispatch/internal/dedup"
	"github.com/notifyhub/villa-dispatch/internal/domain"
)

// Hooks carries metric callbacks; nil fields are no-ops.
type Hooks struct {
	OnDropped    func()
	OnSuppressed func()
}

// Hub routes inbox items to the subscriptions of their staff member.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	closed bool

	buffer int
	window time.Duration
	now    func() time.Time
	hooks  Hooks
	logger *zap.Logger
}

// NewHub returns a Hub whose subscriptions buffer up to buffer items and
// suppress repeats of the same (job, event type) within window.
func NewHub(buffer int, window time.Duration, logger *zap.Logger, hooks Hooks) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	if hooks.OnDropped == nil {
		hooks.OnDropped = func() {}
	}
	if hooks.OnSuppressed == nil {
		hooks.OnSuppressed = func() {}
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		window: window,
		now:    time.Now,
		hooks:  hooks,
		logger: logger,
	}
}

// WithClock replaces time.Now for the per-subscription guards created
// afterwards and returns the hub.
func (h *Hub) WithClock(now func() time.Time) *Hub {
	h.now = now
	return h
}

// Subscription is one live listener. Items arrive on C, which is closed by
// Close or when the hub shuts down.
type Subscription struct {
	C <-chan domain.InboxItem

	ch      chan domain.InboxItem
	staffID string
	guard   *dedup.Deduplicator
	hub     *Hub
	once    sync.Once
}

// Subscribe registers a listener for staffID.
func (h *Hub) Subscribe(staffID string) *Subscription {
	ch := make(chan domain.InboxItem, h.buffer)
	sub := &Subscription{C: ch, ch: ch, staffID: staffID, hub: h}
	if h.window > 0 {
		// New only fails for a non-positive TTL.
		sub.guard, _ = dedup.New(dedup.NewMemoryStore(4*h.buffer), h.window, dedup.WithClock(h.now))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.once.Do(func() { close(ch) })
		return sub
	}
	if h.subs[staffID] == nil {
		h.subs[staffID] = make(map[*Subscription]struct{})
	}
	h.subs[staffID][sub] = struct{}{}
	h.logger.Debug("feed subscriber joined", zap.String("staff_id", staffID))
	return sub
}

// Close unsubscribes and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if set, ok := s.hub.subs[s.staffID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.hub.subs, s.staffID)
		}
	}
	s.once.Do(func() { close(s.ch) })
}

// Publish delivers item to every subscription of item.StaffID.
func (h *Hub) Publish(item domain.InboxItem) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[item.StaffID] {
		if sub.guard != nil {
			_, fresh, err := sub.guard.Claim(context.Background(), item.JobID, item.StaffID, item.EventType)
			if err == nil && !fresh {
				h.hooks.OnSuppressed()
				continue
			}
		}
		select {
		case sub.ch <- item:
		default:
			h.hooks.OnDropped()
			h.logger.Warn("feed subscriber is slow, dropping item",
				zap.String("staff_id", item.StaffID),
				zap.String("inbox_item_id", item.ID))
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// Close ends every subscription; later Subscribe calls get a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for staffID, set := range h.subs {
		for sub := range set {
			sub.once.Do(func() { close(sub.ch) })
		}
		delete(h.subs, staffID)
	}
}
