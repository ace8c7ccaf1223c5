package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/notifyhub/villa-dispatch/internal/domain"
	"github.com/notifyhub/villa-dispatch/internal/repository"
)

// Publisher pushes freshly stored inbox items to live listeners.
type Publisher interface {
	Publish(item domain.InboxItem)
}

// InAppProvider writes the notification into the staff member's inbox and
// announces it on the live feed.
type InAppProvider struct {
	inbox     repository.InboxRepository
	publisher Publisher
}

// NewInAppProvider returns an InAppProvider; publisher may be nil.
func NewInAppProvider(inbox repository.InboxRepository, publisher Publisher) *InAppProvider {
	return &InAppProvider{inbox: inbox, publisher: publisher}
}

// Send is idempotent per notification: a retry after a partial failure finds
// the stored item and does not publish it a second time.
func (p *InAppProvider) Send(ctx context.Context, n *domain.Notification) (*SendResponse, error) {
	now := time.Now().UTC()
	stored, created, err := p.inbox.Insert(ctx, &domain.InboxItem{
		ID:             uuid.New().String(),
		StaffID:        n.StaffID,
		NotificationID: n.ID,
		JobID:          n.JobID,
		EventType:      n.EventType,
		FingerprintID:  n.FingerprintID,
		Title:          n.Title,
		Body:           n.Body,
		Data:           n.Data,
		CreatedAt:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("store inbox item: %w", err)
	}

	status := "duplicate"
	if created {
		status = "stored"
		if p.publisher != nil {
			p.publisher.Publish(*stored)
		}
	}
	return &SendResponse{
		MessageID: stored.ID,
		Status:    status,
		Timestamp: now.Format(time.RFC3339),
	}, nil
}

var _ Provider = (*InAppProvider)(nil)
