package repository

import (
	"context"
	"time"

	"github.com/notifyhub/villa-dispatch/internal/domain"
)

// NotificationRepository defines all persistence operations for dispatches
// and their notifications. The pgx implementation is in pg_notification_repo.go.
// Tests use a hand-written mock (mock_notification_repo.go).
type NotificationRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	List(ctx context.Context, filter domain.ListFilter) ([]*domain.Notification, int, error)
	// Transition moves the notification to status `to` only while it is in
	// one of the `from` states. It returns domain.ErrConflict otherwise.
	Transition(ctx context.Context, id string, to domain.Status, from ...domain.Status) error
	MarkSent(ctx context.Context, id string, providerMsgID string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	ScheduleRetry(ctx context.Context, id string, retryCount int, nextRetry time.Time, errMsg string) error
	Cancel(ctx context.Context, id string) error
	FindDueRetries(ctx context.Context) ([]*domain.Notification, error)

	// CreateDispatch stores the dispatch and all its notifications atomically.
	CreateDispatch(ctx context.Context, d *domain.Dispatch, notifications []*domain.Notification) error
	GetDispatch(ctx context.Context, dispatchID string) (*domain.Dispatch, []*domain.Notification, error)
	UpdateDispatchCounts(ctx context.Context, dispatchID string) error
}

// DeviceRepository stores FCM registration tokens per staff member.
type DeviceRepository interface {
	// Upsert registers the token, moving it to d.StaffID if another staff
	// member held it before.
	Upsert(ctx context.Context, d *domain.DeviceToken) error
	Delete(ctx context.Context, staffID, token string) error
	DeleteTokens(ctx context.Context, tokens []string) error
	ListByStaff(ctx context.Context, staffID string) ([]*domain.DeviceToken, error)
}

// InboxRepository stores in-app notifications (staff_notifications).
type InboxRepository interface {
	// Insert stores the item unless one already exists for the same
	// notification. It returns the stored item and whether it was new.
	Insert(ctx context.Context, item *domain.InboxItem) (*domain.InboxItem, bool, error)
	List(ctx context.Context, staffID string, unreadOnly bool, limit int) ([]*domain.InboxItem, error)
	MarkRead(ctx context.Context, staffID, id string, at time.Time) error
	MarkAllRead(ctx context.Context, staffID string, at time.Time) (int64, error)
}
