package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/notifyhub/villa-dispatch/internal/domain"
)

// ErrInvalidTTL is returned by New for a non-positive TTL.
var ErrInvalidTTL = errors.New("dedup ttl must be positive")

// Deduplicator claims fingerprints for a fixed TTL.
type Deduplicator struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// Option configures a Deduplicator.
type Option func(*Deduplicator)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Deduplicator) { d.now = now }
}

func New(store Store, ttl time.Duration, opts ...Option) (*Deduplicator, error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	d := &Deduplicator{store: store, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// TTL returns the suppression window.
func (d *Deduplicator) TTL() time.Duration { return d.ttl }

// Claim tries to take the fingerprint for (jobID, staffID, eventType).
// claimed=false means a live claim exists and the send must be skipped.
func (d *Deduplicator) Claim(ctx context.Context, jobID, staffID string, eventType domain.EventType) (Record, bool, error) {
	rec := NewRecord(jobID, staffID, eventType, d.now().UTC(), d.ttl)
	claimed, err := d.store.Claim(ctx, rec)
	if err != nil {
		return rec, false, fmt.Errorf("claim fingerprint %s: %w", rec.ID, err)
	}
	return rec, claimed, nil
}

// Release gives back a claim that did not lead to a send.
func (d *Deduplicator) Release(ctx context.Context, rec Record) error {
	if err := d.store.Release(ctx, rec); err != nil {
		return fmt.Errorf("release fingerprint %s: %w", rec.ID, err)
	}
	return nil
}

// Purge removes expired records and returns how many were deleted.
func (d *Deduplicator) Purge(ctx context.Context) (int64, error) {
	return d.store.PurgeExpired(ctx, d.now().UTC())
}
