package dedup

import (
	"context"
	"time"
)

// Store persists fingerprint records.
type Store interface {
	// Claim inserts rec, or replaces an existing record with the same ID
	// whose ExpiresAt is not after rec.CreatedAt. It returns false when a
	// live record already holds the fingerprint.
	Claim(ctx context.Context, rec Record) (bool, error)
	// Get returns the stored record, live or expired, or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)
	// Release deletes rec if it is still the stored claim.
	Release(ctx context.Context, rec Record) error
	// PurgeExpired deletes every record expired at now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
