package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/notifyhub/villa-dispatch/internal/domain"
)

// MockInboxRepository is an in-memory InboxRepository for tests.
type MockInboxRepository struct {
	mu    sync.RWMutex
	items map[string]*domain.InboxItem

	InsertErr error
}

func NewMockInboxRepository() *MockInboxRepository {
	return &MockInboxRepository{items: make(map[string]*domain.InboxItem)}
}

func (m *MockInboxRepository) Insert(_ context.Context, item *domain.InboxItem) (*domain.InboxItem, bool, error) {
	if m.InsertErr != nil {
		return nil, false, m.InsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.NotificationID == item.NotificationID {
			c := *existing
			return &c, false, nil
		}
	}
	c := *item
	m.items[item.ID] = &c
	return item, true, nil
}

func (m *MockInboxRepository) List(_ context.Context, staffID string, unreadOnly bool, limit int) ([]*domain.InboxItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.InboxItem
	for _, item := range m.items {
		if item.StaffID != staffID || (unreadOnly && item.Read) {
			continue
		}
		c := *item
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockInboxRepository) MarkRead(_ context.Context, staffID, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok || item.StaffID != staffID {
		return domain.ErrNotFound
	}
	if !item.Read {
		item.Read = true
		item.ReadAt = &at
	}
	return nil
}

func (m *MockInboxRepository) MarkAllRead(_ context.Context, staffID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, item := range m.items {
		if item.StaffID == staffID && !item.Read {
			item.Read = true
			item.ReadAt = &at
			n++
		}
	}
	return n, nil
}

var _ InboxRepository = (*MockInboxRepository)(nil)
