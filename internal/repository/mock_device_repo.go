package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/notifyhub/villa-dispatch/internal/domain"
)

// MockDeviceRepository is an in-memory DeviceRepository for tests.
type MockDeviceRepository struct {
	mu     sync.RWMutex
	tokens map[string]*domain.DeviceToken

	ListErr error
}

func NewMockDeviceRepository() *MockDeviceRepository {
	return &MockDeviceRepository{tokens: make(map[string]*domain.DeviceToken)}
}

func (m *MockDeviceRepository) Upsert(_ context.Context, d *domain.DeviceToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *d
	if existing, ok := m.tokens[d.Token]; ok {
		c.CreatedAt = existing.CreatedAt
	}
	m.tokens[d.Token] = &c
	return nil
}

func (m *MockDeviceRepository) Delete(_ context.Context, staffID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.tokens[token]
	if !ok || d.StaffID != staffID {
		return domain.ErrNotFound
	}
	delete(m.tokens, token)
	return nil
}

func (m *MockDeviceRepository) DeleteTokens(_ context.Context, tokens []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tokens {
		delete(m.tokens, t)
	}
	return nil
}

func (m *MockDeviceRepository) ListByStaff(_ context.Context, staffID string) ([]*domain.DeviceToken, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.DeviceToken
	for _, d := range m.tokens {
		if d.StaffID == staffID {
			c := *d
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

var _ DeviceRepository = (*MockDeviceRepository)(nil)
