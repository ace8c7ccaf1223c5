package ratelimiter

import (
	"context"
	"fmt"
	"time"
)

// Window is the stored counter for one recipient.
type Window struct {
	RecipientID string
	WindowStart time.Time
	Count       int
}

// CounterStore keeps per-recipient counters.
type CounterStore interface {
	// Increment adds one attempt for recipientID at now. If the stored window
	// started at or before now-window, it restarts at now with count 1.
	// The read-modify-write is atomic.
	Increment(ctx context.Context, recipientID string, now time.Time, window time.Duration) (Window, error)
	// PurgeStale deletes windows that started before cutoff.
	PurgeStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Decision is the verdict for one attempt.
type Decision struct {
	Allowed     bool      `json:"allowed"`
	Count       int       `json:"count"`
	Limit       int       `json:"limit"`
	WindowStart time.Time `json:"window_start"`
	ResetAt     time.Time `json:"reset_at"`
}

// RecipientLimiter allows at most limit attempts per recipient per window.
// Blocked attempts still count.
type RecipientLimiter struct {
	store  CounterStore
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRecipientLimiter returns a limiter; limit <= 0 or window <= 0 disables it.
func NewRecipientLimiter(store CounterStore, limit int, window time.Duration) *RecipientLimiter {
	return &RecipientLimiter{store: store, limit: limit, window: window, now: time.Now}
}

// WithClock replaces time.Now and returns the limiter.
func (l *RecipientLimiter) WithClock(now func() time.Time) *RecipientLimiter {
	l.now = now
	return l
}

func (l *RecipientLimiter) enabled() bool {
	return l.limit > 0 && l.window > 0
}

// Allow records an attempt for recipientID and reports whether it may proceed.
func (l *RecipientLimiter) Allow(ctx context.Context, recipientID string) (Decision, error) {
	if !l.enabled() {
		return Decision{Allowed: true}, nil
	}
	now := l.now().UTC().Truncate(time.Microsecond)
	w, err := l.store.Increment(ctx, recipientID, now, l.window)
	if err != nil {
		return Decision{}, fmt.Errorf("increment rate window for %s: %w", recipientID, err)
	}
	return Decision{
		Allowed:     w.Count <= l.limit,
		Count:       w.Count,
		Limit:       l.limit,
		WindowStart: w.WindowStart,
		ResetAt:     w.WindowStart.Add(l.window),
	}, nil
}

// Purge removes windows that can no longer affect a decision.
func (l *RecipientLimiter) Purge(ctx context.Context) (int64, error) {
	if !l.enabled() {
		return 0, nil
	}
	return l.store.PurgeStale(ctx, l.now().UTC().Add(-l.window))
}
