package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/villa-dispatch/internal/domain"
)

const inboxColumns = `
	id, staff_id, notification_id, job_id, event_type, fingerprint_id,
	title, body, data, read, created_at, read_at`

type pgInboxRepository struct {
	pool *pgxpool.Pool
}

// NewPgInboxRepository returns an InboxRepository backed by staff_notifications.
func NewPgInboxRepository(pool *pgxpool.Pool) InboxRepository {
	return &pgInboxRepository{pool: pool}
}

// Insert relies on the unique notification_id: a retried delivery finds
// the row written by the first attempt instead of adding a second one.
func (r *pgInboxRepository) Insert(ctx context.Context, item *domain.InboxItem) (*domain.InboxItem, bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO staff_notifications
			(id, staff_id, notification_id, job_id, event_type, fingerprint_id,
			 title, body, data, read, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,FALSE,$10)
		ON CONFLICT (notification_id) DO NOTHING`,
		item.ID, item.StaffID, item.NotificationID, item.JobID, item.EventType,
		item.FingerprintID, item.Title, item.Body, item.Data, item.CreatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert inbox item: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return item, true, nil
	}

	existing, err := scanInboxItem(r.pool.QueryRow(ctx,
		`SELECT`+inboxColumns+` FROM staff_notifications WHERE notification_id = $1`, item.NotificationID))
	if err != nil {
		return nil, false, fmt.Errorf("load existing inbox item: %w", err)
	}
	return existing, false, nil
}

func (r *pgInboxRepository) List(ctx context.Context, staffID string, unreadOnly bool, limit int) ([]*domain.InboxItem, error) {
	query := `SELECT` + inboxColumns + ` FROM staff_notifications WHERE staff_id = $1`
	if unreadOnly {
		query += ` AND read = FALSE`
	}
	query += ` ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, staffID, limit)
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	defer rows.Close()

	var items []*domain.InboxItem
	for rows.Next() {
		item, err := scanInboxItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *pgInboxRepository) MarkRead(ctx context.Context, staffID, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE staff_notifications
		SET read = TRUE, read_at = COALESCE(read_at, $3)
		WHERE staff_id = $1 AND id = $2`, staffID, id, at)
	if err != nil {
		return fmt.Errorf("mark inbox item read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *pgInboxRepository) MarkAllRead(ctx context.Context, staffID string, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE staff_notifications SET read = TRUE, read_at = $2
		WHERE staff_id = $1 AND read = FALSE`, staffID, at)
	if err != nil {
		return 0, fmt.Errorf("mark all inbox items read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanInboxItem(row pgx.Row) (*domain.InboxItem, error) {
	var item domain.InboxItem
	err := row.Scan(
		&item.ID, &item.StaffID, &item.NotificationID, &item.JobID, &item.EventType,
		&item.FingerprintID, &item.Title, &item.Body, &item.Data, &item.Read,
		&item.CreatedAt, &item.ReadAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}
