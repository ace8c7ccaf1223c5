package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/notifyhub/villa-dispatch/internal/domain"
)

// SendResponse is what a provider reports after accepting a notification.
type SendResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Provider abstracts delivery over one channel.
// Mocking this interface in tests gives full control over provider behaviour
// without making real HTTP calls.
type Provider interface {
	Send(ctx context.Context, n *domain.Notification) (*SendResponse, error)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Router sends each notification through the provider registered for its
// channel.
type Router struct {
	providers map[domain.Channel]Provider
}

func NewRouter(providers map[domain.Channel]Provider) *Router {
	return &Router{providers: providers}
}

func (r *Router) Send(ctx context.Context, n *domain.Notification) (*SendResponse, error) {
	p, ok := r.providers[n.Channel]
	if !ok || p == nil {
		return nil, Permanent(fmt.Errorf("no provider for channel %q", n.Channel))
	}
	return p.Send(ctx, n)
}

var _ Provider = (*Router)(nil)
