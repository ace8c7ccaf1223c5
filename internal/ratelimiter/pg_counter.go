package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type pgCounterStore struct {
	pool *pgxpool.Pool
}

// NewPgCounterStore returns a CounterStore backed by notification_rate_limits.
func NewPgCounterStore(pool *pgxpool.Pool) CounterStore {
	return &pgCounterStore{pool: pool}
}

// Increment is one upsert; both CASE branches read the pre-update row.
func (s *pgCounterStore) Increment(ctx context.Context, recipientID string, now time.Time, window time.Duration) (Window, error) {
	w := Window{RecipientID: recipientID}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO notification_rate_limits AS rl (recipient_id, window_start, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (recipient_id) DO UPDATE
		SET count = CASE
		        WHEN rl.window_start + ($3::bigint * INTERVAL '1 microsecond') <= EXCLUDED.window_start THEN 1
		        ELSE rl.count + 1
		    END,
		    window_start = CASE
		        WHEN rl.window_start + ($3::bigint * INTERVAL '1 microsecond') <= EXCLUDED.window_start THEN EXCLUDED.window_start
		        ELSE rl.window_start
		    END
		RETURNING window_start, count`,
		recipientID, now, window.Microseconds(),
	).Scan(&w.WindowStart, &w.Count)
	if err != nil {
		return Window{}, fmt.Errorf("upsert rate window: %w", err)
	}
	return w, nil
}

func (s *pgCounterStore) PurgeStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM notification_rate_limits WHERE window_start < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge rate windows: %w", err)
	}
	return tag.RowsAffected(), nil
}
