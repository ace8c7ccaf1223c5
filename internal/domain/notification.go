package domain

import (
	"strings"
	"time"
)

// Channel is the delivery channel for a notification.
type Channel string

const (
	ChannelPush    Channel = "push"
	ChannelInApp   Channel = "in_app"
	ChannelWebhook Channel = "webhook"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelPush, ChannelInApp, ChannelWebhook:
		return true
	}
	return false
}

// AllChannels lists every supported channel in a stable order.
var AllChannels = []Channel{ChannelPush, ChannelInApp, ChannelWebhook}

// Priority controls queue ordering. High is processed first.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// EventType names the job lifecycle event a notification is about.
type EventType string

const (
	EventJobAssigned      EventType = "job_assigned"
	EventJobReassigned    EventType = "job_reassigned"
	EventJobUpdated       EventType = "job_updated"
	EventJobStatusChanged EventType = "job_status_changed"
	EventJobCancelled     EventType = "job_cancelled"
	EventJobReminder      EventType = "job_reminder"
)

// Normalize returns the canonical lower-case form used in fingerprints.
func (e EventType) Normalize() EventType {
	return EventType(strings.ToLower(strings.TrimSpace(string(e))))
}

func (e EventType) IsValid() bool {
	switch e.Normalize() {
	case EventJobAssigned, EventJobReassigned, EventJobUpdated,
		EventJobStatusChanged, EventJobCancelled, EventJobReminder:
		return true
	}
	return false
}

// Status tracks the lifecycle of a notification.
type Status string

const (
	StatusPending    Status = "pending"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusQueued, StatusProcessing, StatusSent, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Notification is a single delivery of a job event to one staff member
// over one channel.
type Notification struct {
	ID            string            `json:"id"`
	DispatchID    string            `json:"dispatch_id"`
	JobID         string            `json:"job_id"`
	StaffID       string            `json:"staff_id"`
	EventType     EventType         `json:"event_type"`
	Channel       Channel           `json:"channel"`
	Title         string            `json:"title"`
	Body          string            `json:"body"`
	Data          map[string]string `json:"data,omitempty"`
	Priority      Priority          `json:"priority"`
	Status        Status            `json:"status"`
	FingerprintID string            `json:"fingerprint_id"`
	RetryCount    int               `json:"retry_count"`
	MaxRetries    int               `json:"max_retries"`
	NextRetryAt   *time.Time        `json:"next_retry_at,omitempty"`
	SentAt        *time.Time        `json:"sent_at,omitempty"`
	ProviderMsgID *string           `json:"provider_message_id,omitempty"`
	ErrorMessage  *string           `json:"error_message,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Dispatch groups every delivery produced by one job event.
type Dispatch struct {
	ID          string    `json:"id"`
	JobID       string    `json:"job_id"`
	EventType   EventType `json:"event_type"`
	Total       int       `json:"total"`
	Pending     int       `json:"pending"`
	Sent        int       `json:"sent"`
	Failed      int       `json:"failed"`
	Cancelled   int       `json:"cancelled"`
	Suppressed  int       `json:"suppressed"`
	RateLimited int       `json:"rate_limited"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListFilter holds query parameters for paginated notification listing.
type ListFilter struct {
	Status  *Status
	Channel *Channel
	JobID   *string
	StaffID *string
	From    *time.Time
	To      *time.Time
	Page    int
	Limit   int
}
