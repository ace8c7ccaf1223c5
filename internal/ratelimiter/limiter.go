// Package ratelimiter bounds how fast notifications leave the service.
//
// Two limits apply. ChannelLimiters is a token bucket per delivery channel
// that protects the downstream providers. RecipientLimiter is a window
// counter per staff member that caps how many notifications one person
// receives, counted at dispatch time.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/notifyhub/villa-dispatch/internal/domain"
)

// ChannelLimiters holds one token bucket limiter per channel type.
// Burst equals the rate, so no capacity is saved up beyond one second.
type ChannelLimiters struct {
	limiters map[domain.Channel]*rate.Limiter
}

// New creates a ChannelLimiters with ratePerSec tokens per second per channel.
func New(ratePerSec int) *ChannelLimiters {
	r := rate.Limit(ratePerSec)
	limiters := make(map[domain.Channel]*rate.Limiter, len(domain.AllChannels))
	for _, ch := range domain.AllChannels {
		limiters[ch] = rate.NewLimiter(r, ratePerSec)
	}
	return &ChannelLimiters{limiters: limiters}
}

// Wait blocks until the channel's limiter grants a token.
// Returns a non-nil error only if ctx is cancelled while waiting.
func (cl *ChannelLimiters) Wait(ctx context.Context, ch domain.Channel) error {
	l, ok := cl.limiters[ch]
	if !ok {
		return nil
	}
	return l.Wait(ctx)
}
