package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/notifyhub/villa-dispatch/internal/domain"
)

// MockNotificationRepository is a hand-written, in-memory implementation of
// NotificationRepository used in unit tests. No mock-generation library needed.
type MockNotificationRepository struct {
	mu            sync.RWMutex
	notifications map[string]*domain.Notification
	dispatches    map[string]*domain.Dispatch

	// Optional error overrides, set in tests to simulate failure paths.
	CreateDispatchErr error
	GetByIDErr        error
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{
		notifications: make(map[string]*domain.Notification),
		dispatches:    make(map[string]*domain.Dispatch),
	}
}

func cloneNotification(n *domain.Notification) *domain.Notification {
	c := *n
	if n.Data != nil {
		c.Data = make(map[string]string, len(n.Data))
		for k, v := range n.Data {
			c.Data[k] = v
		}
	}
	return &c
}

func (m *MockNotificationRepository) GetByID(_ context.Context, id string) (*domain.Notification, error) {
	if m.GetByIDErr != nil {
		return nil, m.GetByIDErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneNotification(n), nil
}

func (m *MockNotificationRepository) List(_ context.Context, f domain.ListFilter) ([]*domain.Notification, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*domain.Notification, 0, len(m.notifications))
	for _, n := range m.notifications {
		switch {
		case f.Status != nil && n.Status != *f.Status,
			f.Channel != nil && n.Channel != *f.Channel,
			f.JobID != nil && n.JobID != *f.JobID,
			f.StaffID != nil && n.StaffID != *f.StaffID,
			f.From != nil && n.CreatedAt.Before(*f.From),
			f.To != nil && n.CreatedAt.After(*f.To):
			continue
		}
		matched = append(matched, cloneNotification(n))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	if f.Limit > 0 {
		start := (max(f.Page, 1) - 1) * f.Limit
		if start > total {
			start = total
		}
		end := min(start+f.Limit, total)
		matched = matched[start:end]
	}
	return matched, total, nil
}

func (m *MockNotificationRepository) Transition(_ context.Context, id string, to domain.Status, from ...domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || !slices.Contains(from, n.Status) {
		return fmt.Errorf("notification %s not in %v: %w", id, from, domain.ErrConflict)
	}
	n.Status = to
	n.UpdatedAt = time.Now().UTC()
	return nil
}

// SetStatus forces a status; tests use it to stage rows.
func (m *MockNotificationRepository) SetStatus(id string, status domain.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.notifications[id]; ok {
		n.Status = status
		n.UpdatedAt = time.Now().UTC()
	}
}

func (m *MockNotificationRepository) MarkSent(_ context.Context, id, providerMsgID string, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.notifications[id]; ok {
		n.Status = domain.StatusSent
		n.ProviderMsgID = &providerMsgID
		n.SentAt = &sentAt
		n.ErrorMessage = nil
		n.NextRetryAt = nil
	}
	return nil
}

func (m *MockNotificationRepository) MarkFailed(_ context.Context, id, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.notifications[id]; ok {
		n.Status = domain.StatusFailed
		n.ErrorMessage = &errMsg
		n.NextRetryAt = nil
	}
	return nil
}

func (m *MockNotificationRepository) ScheduleRetry(_ context.Context, id string, retryCount int, nextRetry time.Time, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.notifications[id]; ok {
		n.RetryCount = retryCount
		n.NextRetryAt = &nextRetry
		n.ErrorMessage = &errMsg
		n.Status = domain.StatusFailed
	}
	return nil
}

func (m *MockNotificationRepository) Cancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	switch {
	case n.Status == domain.StatusPending, n.Status == domain.StatusQueued,
		n.Status == domain.StatusFailed && n.NextRetryAt != nil:
		n.Status = domain.StatusCancelled
		n.NextRetryAt = nil
		return nil
	}
	return domain.ErrNotCancellable
}

func (m *MockNotificationRepository) FindDueRetries(_ context.Context) ([]*domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now().UTC()
	var due []*domain.Notification
	for _, n := range m.notifications {
		if n.Status == domain.StatusFailed && n.NextRetryAt != nil && !n.NextRetryAt.After(now) {
			due = append(due, cloneNotification(n))
		}
	}
	return due, nil
}

func (m *MockNotificationRepository) CreateDispatch(_ context.Context, d *domain.Dispatch, notifications []*domain.Notification) error {
	if m.CreateDispatchErr != nil {
		return m.CreateDispatchErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	dc := *d
	m.dispatches[d.ID] = &dc
	for _, n := range notifications {
		m.notifications[n.ID] = cloneNotification(n)
	}
	return nil
}

func (m *MockNotificationRepository) GetDispatch(_ context.Context, dispatchID string) (*domain.Dispatch, []*domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.dispatches[dispatchID]
	if !ok {
		return nil, nil, domain.ErrNotFound
	}
	var notifications []*domain.Notification
	for _, n := range m.notifications {
		if n.DispatchID == dispatchID {
			notifications = append(notifications, cloneNotification(n))
		}
	}
	sort.Slice(notifications, func(i, j int) bool {
		return notifications[i].CreatedAt.Before(notifications[j].CreatedAt)
	})
	dc := *d
	return &dc, notifications, nil
}

func (m *MockNotificationRepository) UpdateDispatchCounts(_ context.Context, dispatchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dispatches[dispatchID]
	if !ok {
		return nil
	}
	d.Pending, d.Sent, d.Failed, d.Cancelled = 0, 0, 0, 0
	for _, n := range m.notifications {
		if n.DispatchID != dispatchID {
			continue
		}
		switch {
		case n.Status == domain.StatusSent:
			d.Sent++
		case n.Status == domain.StatusCancelled:
			d.Cancelled++
		case n.Status == domain.StatusFailed && n.NextRetryAt == nil:
			d.Failed++
		default:
			d.Pending++
		}
	}
	d.UpdatedAt = time.Now().UTC()
	return nil
}

var _ NotificationRepository = (*MockNotificationRepository)(nil)
