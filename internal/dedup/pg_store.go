package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/villa-dispatch/internal/domain"
)

type pgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore returns a Store backed by the notification_fingerprints table.
func NewPgStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

// Claim is one upsert: the conditional DO UPDATE only fires when the stored
// row has expired, and RETURNING yields no row when it did not fire.
func (s *pgStore) Claim(ctx context.Context, rec Record) (bool, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO notification_fingerprints AS f
			(fingerprint_id, job_id, staff_id, event_type, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (fingerprint_id) DO UPDATE
		SET job_id = EXCLUDED.job_id,
		    staff_id = EXCLUDED.staff_id,
		    event_type = EXCLUDED.event_type,
		    created_at = EXCLUDED.created_at,
		    expires_at = EXCLUDED.expires_at
		WHERE f.expires_at <= EXCLUDED.created_at
		RETURNING fingerprint_id`,
		rec.ID, rec.JobID, rec.StaffID, rec.EventType, rec.CreatedAt, rec.ExpiresAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("upsert fingerprint: %w", err)
	}
	return true, nil
}

func (s *pgStore) Get(ctx context.Context, id string) (*Record, error) {
	var r Record
	err := s.pool.QueryRow(ctx, `
		SELECT fingerprint_id, job_id, staff_id, event_type, created_at, expires_at
		FROM notification_fingerprints WHERE fingerprint_id = $1`, id,
	).Scan(&r.ID, &r.JobID, &r.StaffID, &r.EventType, &r.CreatedAt, &r.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get fingerprint: %w", err)
	}
	return &r, nil
}

func (s *pgStore) Release(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM notification_fingerprints
		WHERE fingerprint_id = $1 AND created_at = $2`, rec.ID, rec.CreatedAt)
	return err
}

func (s *pgStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM notification_fingerprints WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge fingerprints: %w", err)
	}
	return tag.RowsAffected(), nil
}
