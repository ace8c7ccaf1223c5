package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/villa-dispatch/internal/domain"
)

const notificationColumns = `
	id, dispatch_id, job_id, staff_id, event_type, channel, title, body, data,
	priority, status, fingerprint_id, retry_count, max_retries, next_retry_at,
	sent_at, provider_msg_id, error_message, created_at, updated_at`

type pgNotificationRepository struct {
	pool *pgxpool.Pool
}

// NewPgNotificationRepository returns a NotificationRepository backed by PostgreSQL.
func NewPgNotificationRepository(pool *pgxpool.Pool) NotificationRepository {
	return &pgNotificationRepository{pool: pool}
}

func (r *pgNotificationRepository) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT`+notificationColumns+` FROM notifications WHERE id = $1`, id)

	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return n, err
}

func (r *pgNotificationRepository) List(ctx context.Context, f domain.ListFilter) ([]*domain.Notification, int, error) {
	where, args := buildListWhere(f)
	offset := (f.Page - 1) * f.Limit

	var total int
	countQuery := "SELECT COUNT(*) FROM notifications" + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	args = append(args, f.Limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM notifications%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, notificationColumns, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notifications, err := scanNotifications(rows)
	return notifications, total, err
}

func (r *pgNotificationRepository) Transition(ctx context.Context, id string, to domain.Status, from ...domain.Status) error {
	expected := make([]string, len(from))
	for i, s := range from {
		expected[i] = string(s)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET status = $1 WHERE id = $2 AND status = ANY($3)`, to, id, expected)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s not in %v: %w", id, from, domain.ErrConflict)
	}
	return nil
}

func (r *pgNotificationRepository) MarkSent(ctx context.Context, id, providerMsgID string, sentAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'sent', provider_msg_id = $1, sent_at = $2, error_message = NULL, next_retry_at = NULL
		WHERE id = $3`, providerMsgID, sentAt, id)
	return err
}

func (r *pgNotificationRepository) MarkFailed(ctx context.Context, id, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'failed', error_message = $1, next_retry_at = NULL
		WHERE id = $2`, errMsg, id)
	return err
}

func (r *pgNotificationRepository) ScheduleRetry(ctx context.Context, id string, retryCount int, nextRetry time.Time, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'failed', retry_count = $1, next_retry_at = $2, error_message = $3
		WHERE id = $4`, retryCount, nextRetry, errMsg, id)
	return err
}

// Cancel only touches rows that are still cancellable. Worker pickup and
// retry requeue are conditional too, so whichever update lands first wins.
func (r *pgNotificationRepository) Cancel(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET status = 'cancelled', next_retry_at = NULL
		WHERE id = $1
		  AND (status IN ('pending','queued') OR (status = 'failed' AND next_retry_at IS NOT NULL))`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotCancellable
	}
	return nil
}

func (r *pgNotificationRepository) FindDueRetries(ctx context.Context) ([]*domain.Notification, error) {
	rows, err := r.pool.Query(ctx, `SELECT`+notificationColumns+`
		FROM notifications
		WHERE status = 'failed'
		  AND retry_count <= max_retries
		  AND next_retry_at <= NOW()
		ORDER BY next_retry_at
		LIMIT 500`)
	if err != nil {
		return nil, fmt.Errorf("find due retries: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

func (r *pgNotificationRepository) CreateDispatch(ctx context.Context, d *domain.Dispatch, notifications []*domain.Notification) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO dispatches
			(id, job_id, event_type, total, pending, sent, failed, cancelled,
			 suppressed, rate_limited, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,0,0,0,$6,$7,$8,$9)`,
		d.ID, d.JobID, d.EventType, d.Total, d.Pending,
		d.Suppressed, d.RateLimited, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dispatch: %w", err)
	}

	if len(notifications) > 0 {
		batch := &pgx.Batch{}
		for _, n := range notifications {
			batch.Queue(`
				INSERT INTO notifications
					(id, dispatch_id, job_id, staff_id, event_type, channel, title, body, data,
					 priority, status, fingerprint_id, retry_count, max_retries, created_at, updated_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
				n.ID, n.DispatchID, n.JobID, n.StaffID, n.EventType, n.Channel, n.Title, n.Body, n.Data,
				n.Priority, n.Status, n.FingerprintID, n.RetryCount, n.MaxRetries, n.CreatedAt, n.UpdatedAt,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert dispatch notifications: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit dispatch: %w", err)
	}
	return nil
}

func (r *pgNotificationRepository) GetDispatch(ctx context.Context, dispatchID string) (*domain.Dispatch, []*domain.Notification, error) {
	var d domain.Dispatch
	err := r.pool.QueryRow(ctx, `
		SELECT id, job_id, event_type, total, pending, sent, failed, cancelled,
		       suppressed, rate_limited, created_at, updated_at
		FROM dispatches WHERE id = $1`, dispatchID,
	).Scan(&d.ID, &d.JobID, &d.EventType, &d.Total, &d.Pending, &d.Sent, &d.Failed,
		&d.Cancelled, &d.Suppressed, &d.RateLimited, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get dispatch: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT`+notificationColumns+`
		FROM notifications WHERE dispatch_id = $1 ORDER BY created_at ASC`, dispatchID)
	if err != nil {
		return nil, nil, fmt.Errorf("get dispatch notifications: %w", err)
	}
	defer rows.Close()

	notifications, err := scanNotifications(rows)
	return &d, notifications, err
}

// UpdateDispatchCounts recomputes the counters from the notification rows.
// A failed row with a retry still scheduled counts as pending.
func (r *pgNotificationRepository) UpdateDispatchCounts(ctx context.Context, dispatchID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE dispatches d
		SET
			pending    = (SELECT COUNT(*) FROM notifications WHERE dispatch_id = d.id
			                AND (status IN ('pending','queued','processing')
			                     OR (status = 'failed' AND next_retry_at IS NOT NULL))),
			sent       = (SELECT COUNT(*) FROM notifications WHERE dispatch_id = d.id AND status = 'sent'),
			failed     = (SELECT COUNT(*) FROM notifications WHERE dispatch_id = d.id
			                AND status = 'failed' AND next_retry_at IS NULL),
			cancelled  = (SELECT COUNT(*) FROM notifications WHERE dispatch_id = d.id AND status = 'cancelled'),
			updated_at = NOW()
		WHERE id = $1`, dispatchID)
	return err
}

// ---- helpers ----

// scanNotification reads a single notification row from any pgx row type.
func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var n domain.Notification
	err := row.Scan(
		&n.ID, &n.DispatchID, &n.JobID, &n.StaffID, &n.EventType, &n.Channel,
		&n.Title, &n.Body, &n.Data, &n.Priority, &n.Status, &n.FingerprintID,
		&n.RetryCount, &n.MaxRetries, &n.NextRetryAt, &n.SentAt,
		&n.ProviderMsgID, &n.ErrorMessage, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func scanNotifications(rows pgx.Rows) ([]*domain.Notification, error) {
	var result []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

// buildListWhere builds a parameterised WHERE clause from a ListFilter.
func buildListWhere(f domain.ListFilter) (string, []any) {
	var conditions []string
	var args []any

	add := func(condition string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.Channel != nil {
		add("channel = $%d", *f.Channel)
	}
	if f.JobID != nil {
		add("job_id = $%d", *f.JobID)
	}
	if f.StaffID != nil {
		add("staff_id = $%d", *f.StaffID)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
