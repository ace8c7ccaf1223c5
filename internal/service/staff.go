package service

import (
	"context"
	"strings"

	"github.com/notifyhub/villa-dispatch/internal/domain"
)

const (
	defaultInboxLimit = 50
	maxInboxLimit     = 200
)

// RegisterDevice stores an FCM token for the staff member. Registering a
// token that belonged to someone else moves it.
func (s *DispatchService) RegisterDevice(ctx context.Context, staffID string, req domain.RegisterDeviceRequest) (*domain.DeviceToken, error) {
	staffID = strings.TrimSpace(staffID)
	if staffID == "" {
		return nil, domain.ErrInvalidStaffID
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	d := &domain.DeviceToken{
		StaffID:   staffID,
		Token:     req.Token,
		Platform:  req.Platform,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.devices.Upsert(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *DispatchService) UnregisterDevice(ctx context.Context, staffID, token string) error {
	return s.devices.Delete(ctx, staffID, token)
}

func (s *DispatchService) ListDevices(ctx context.Context, staffID string) ([]*domain.DeviceToken, error) {
	return s.devices.ListByStaff(ctx, staffID)
}

// ListInbox returns the newest inbox items first. limit is clamped to
// 1..200 with 50 as the default.
func (s *DispatchService) ListInbox(ctx context.Context, staffID string, unreadOnly bool, limit int) ([]*domain.InboxItem, error) {
	switch {
	case limit <= 0:
		limit = defaultInboxLimit
	case limit > maxInboxLimit:
		limit = maxInboxLimit
	}
	items, err := s.inbox.List(ctx, staffID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*domain.InboxItem{}
	}
	return items, nil
}

func (s *DispatchService) MarkRead(ctx context.Context, staffID, itemID string) error {
	return s.inbox.MarkRead(ctx, staffID, itemID, s.now().UTC())
}

func (s *DispatchService) MarkAllRead(ctx context.Context, staffID string) (int64, error) {
	return s.inbox.MarkAllRead(ctx, staffID, s.now().UTC())
}
