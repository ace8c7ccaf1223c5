// Package dedup suppresses repeat notifications for the same job event.
//
// A fingerprint identifies the tuple (job, staff member, event type). The
// first send attempt claims the fingerprint for a TTL; any further attempt
// inside that window loses the claim and is skipped. The claim is a single
// atomic check-and-set in every Store implementation, so two producers
// racing on the same event cannot both win.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/notifyhub/villa-dispatch/internal/domain"
)

// Fingerprint returns the hex SHA-256 of the normalised tuple. Parts are
// length-prefixed so ("ab", "c") and ("a", "bc") never collide.
func Fingerprint(jobID, staffID string, eventType domain.EventType) string {
	h := sha256.New()
	for _, part := range []string{
		strings.TrimSpace(jobID),
		strings.TrimSpace(staffID),
		string(eventType.Normalize()),
	} {
		fmt.Fprintf(h, "%d:%s|", len(part), part)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Record is a claimed fingerprint.
type Record struct {
	ID        string           `json:"fingerprint_id"`
	JobID     string           `json:"job_id"`
	StaffID   string           `json:"staff_id"`
	EventType domain.EventType `json:"event_type"`
	CreatedAt time.Time        `json:"created_at"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// NewRecord builds the record for a send attempt made at now. Timestamps
// are truncated to microseconds to round-trip through Postgres unchanged.
func NewRecord(jobID, staffID string, eventType domain.EventType, now time.Time, ttl time.Duration) Record {
	now = now.Truncate(time.Microsecond)
	return Record{
		ID:        Fingerprint(jobID, staffID, eventType),
		JobID:     strings.TrimSpace(jobID),
		StaffID:   strings.TrimSpace(staffID),
		EventType: eventType.Normalize(),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// LiveAt reports whether the record still blocks a claim made at t.
func (r Record) LiveAt(t time.Time) bool {
	return r.ExpiresAt.After(t)
}
