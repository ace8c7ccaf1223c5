package domain

import "strings"

const (
	maxRecipients  = 500
	maxTitleLength = 200
	maxBodyLength  = 4096
)

// JobEvent is the inbound payload a producer posts when something happens
// to a job that staff should hear about.
type JobEvent struct {
	JobID      string            `json:"job_id"`
	PropertyID string            `json:"property_id,omitempty"`
	EventType  EventType         `json:"event_type"`
	StaffIDs   []string          `json:"staff_ids"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Priority   Priority          `json:"priority,omitempty"`
	Channels   []Channel         `json:"channels,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
}

// Validate checks the event and fills in defaults: normal priority and
// push + in_app delivery when no channels are given.
func (e *JobEvent) Validate() error {
	e.JobID = strings.TrimSpace(e.JobID)
	if e.JobID == "" {
		return ErrInvalidJobID
	}
	if !e.EventType.IsValid() {
		return ErrInvalidEventType
	}
	e.EventType = e.EventType.Normalize()

	if e.Priority == "" {
		e.Priority = PriorityNormal
	}
	if !e.Priority.IsValid() {
		return ErrInvalidPriority
	}

	if len(e.Channels) == 0 {
		e.Channels = []Channel{ChannelPush, ChannelInApp}
	}
	seen := make(map[Channel]bool, len(e.Channels))
	channels := make([]Channel, 0, len(e.Channels))
	for _, ch := range e.Channels {
		if !ch.IsValid() {
			return ErrInvalidChannel
		}
		if !seen[ch] {
			seen[ch] = true
			channels = append(channels, ch)
		}
	}
	e.Channels = channels

	e.StaffIDs = uniqueNonEmpty(e.StaffIDs)
	if len(e.StaffIDs) == 0 {
		return ErrNoRecipients
	}
	if len(e.StaffIDs) > maxRecipients {
		return ErrTooManyRecipients
	}

	if e.Title == "" || len(e.Title) > maxTitleLength {
		return ErrInvalidTitle
	}
	if len(e.Body) > maxBodyLength {
		return ErrInvalidContent
	}
	return nil
}

func uniqueNonEmpty(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Outcome is what happened to one recipient of a dispatch.
type Outcome string

const (
	OutcomeQueued      Outcome = "queued"
	OutcomeSuppressed  Outcome = "suppressed"
	OutcomeRateLimited Outcome = "rate_limited"
)

// RecipientResult reports the outcome of a dispatch for one staff member.
type RecipientResult struct {
	StaffID         string   `json:"staff_id"`
	Outcome         Outcome  `json:"outcome"`
	FingerprintID   string   `json:"fingerprint_id"`
	NotificationIDs []string `json:"notification_ids,omitempty"`
}

// DispatchResult is returned to the producer.
type DispatchResult struct {
	Dispatch   *Dispatch         `json:"dispatch"`
	Recipients []RecipientResult `json:"recipients"`
}

// Delivered reports whether at least one recipient got past dedup and
// rate limiting.
func (r *DispatchResult) Delivered() bool {
	for _, rr := range r.Recipients {
		if rr.Outcome == OutcomeQueued {
			return true
		}
	}
	return false
}
