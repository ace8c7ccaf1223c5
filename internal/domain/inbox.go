package domain

import "time"

// InboxItem is the in-app copy of a notification that the mobile app
// renders in its notification list and banner.
type InboxItem struct {
	ID             string            `json:"id"`
	StaffID        string            `json:"staff_id"`
	NotificationID string            `json:"notification_id"`
	JobID          string            `json:"job_id"`
	EventType      EventType         `json:"event_type"`
	FingerprintID  string            `json:"fingerprint_id"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	Data           map[string]string `json:"data,omitempty"`
	Read           bool              `json:"read"`
	CreatedAt      time.Time         `json:"created_at"`
	ReadAt         *time.Time        `json:"read_at,omitempty"`
}
