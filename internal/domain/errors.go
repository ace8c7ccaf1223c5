package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidChannel    = errors.New("invalid channel: must be push, in_app, or webhook")
	ErrInvalidPriority   = errors.New("invalid priority: must be high, normal, or low")
	ErrInvalidEventType  = errors.New("invalid event type")
	ErrInvalidJobID      = errors.New("job_id must not be empty")
	ErrNoRecipients      = errors.New("staff_ids must contain at least one staff member")
	ErrTooManyRecipients = errors.New("staff_ids exceeds maximum of 500 recipients")
	ErrInvalidTitle      = errors.New("title must be between 1 and 200 characters")
	ErrInvalidContent    = errors.New("body must be at most 4096 characters")
	ErrInvalidStaffID    = errors.New("staff id must not be empty")
	ErrInvalidToken      = errors.New("device token must not be empty")
	ErrInvalidPlatform   = errors.New("invalid platform: must be ios, android, or web")
	ErrAlreadyCancelled  = errors.New("notification is already cancelled")
	ErrNotCancellable    = errors.New("notification cannot be cancelled in its current status")
	ErrQueueFull         = errors.New("queue is at capacity, try again later")
)
