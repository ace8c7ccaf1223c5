package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/villa-dispatch/internal/domain"
)

type pgDeviceRepository struct {
	pool *pgxpool.Pool
}

// NewPgDeviceRepository returns a DeviceRepository backed by device_tokens.
func NewPgDeviceRepository(pool *pgxpool.Pool) DeviceRepository {
	return &pgDeviceRepository{pool: pool}
}

func (r *pgDeviceRepository) Upsert(ctx context.Context, d *domain.DeviceToken) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO device_tokens (token, staff_id, platform, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (token) DO UPDATE
		SET staff_id = EXCLUDED.staff_id, platform = EXCLUDED.platform, updated_at = EXCLUDED.updated_at`,
		d.Token, d.StaffID, d.Platform, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert device token: %w", err)
	}
	return nil
}

func (r *pgDeviceRepository) Delete(ctx context.Context, staffID, token string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM device_tokens WHERE staff_id = $1 AND token = $2`, staffID, token)
	if err != nil {
		return fmt.Errorf("delete device token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *pgDeviceRepository) DeleteTokens(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `DELETE FROM device_tokens WHERE token = ANY($1)`, tokens)
	if err != nil {
		return fmt.Errorf("delete device tokens: %w", err)
	}
	return nil
}

func (r *pgDeviceRepository) ListByStaff(ctx context.Context, staffID string) ([]*domain.DeviceToken, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT staff_id, token, platform, created_at, updated_at
		FROM device_tokens WHERE staff_id = $1 ORDER BY updated_at DESC`, staffID)
	if err != nil {
		return nil, fmt.Errorf("list device tokens: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.DeviceToken, error) {
		var d domain.DeviceToken
		err := row.Scan(&d.StaffID, &d.Token, &d.Platform, &d.CreatedAt, &d.UpdatedAt)
		return &d, err
	})
}
