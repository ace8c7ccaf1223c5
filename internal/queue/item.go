package queue

import "github.com/notifyhub/villa-dispatch/internal/domain"

// Item is the minimal data placed on the queue. Workers load the full
// notification by ID so the database stays authoritative.
type Item struct {
	NotificationID string
	DispatchID     string
	Channel        domain.Channel
	Priority       domain.Priority
}

// ItemFor builds the queue item for a notification.
func ItemFor(n *domain.Notification) Item {
	return Item{
		NotificationID: n.ID,
		DispatchID:     n.DispatchID,
		Channel:        n.Channel,
		Priority:       n.Priority,
	}
}
