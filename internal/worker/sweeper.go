package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/villa-dispatch/internal/dedup"
	"github.com/notifyhub/villa-dispatch/internal/ratelimiter"
)

// Sweeper periodically deletes expired fingerprints and rate windows that
// can no longer affect a decision. Expired records are already ignored by
// Claim and Allow; sweeping only keeps the tables small.
type Sweeper struct {
	dedup    *dedup.Deduplicator
	limiter  *ratelimiter.RecipientLimiter
	interval time.Duration
	logger   *zap.Logger
	onSwept  func(kind string, n int64)
}

func NewSweeper(
	dd *dedup.Deduplicator,
	limiter *ratelimiter.RecipientLimiter,
	interval time.Duration,
	logger *zap.Logger,
	onSwept func(kind string, n int64),
) *Sweeper {
	if onSwept == nil {
		onSwept = func(string, int64) {}
	}
	return &Sweeper{dedup: dd, limiter: limiter, interval: interval, logger: logger, onSwept: onSwept}
}

// Run ticks every interval and sweeps. Stops cleanly when ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopping")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep error", zap.Error(err))
			}
		}
	}
}

// Sweep runs one pass over both kinds. A failure in one kind does not stop
// the other; the returned error joins both.
func (s *Sweeper) Sweep(ctx context.Context) error {
	var errs []error

	fingerprints, err := s.dedup.Purge(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("sweep fingerprints: %w", err))
	} else {
		s.onSwept("fingerprints", fingerprints)
	}

	windows, err := s.limiter.Purge(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("sweep rate windows: %w", err))
	} else {
		s.onSwept("rate_windows", windows)
	}

	if fingerprints > 0 || windows > 0 {
		s.logger.Info("swept expired records",
			zap.Int64("fingerprints", fingerprints),
			zap.Int64("rate_windows", windows))
	}
	return errors.Join(errs...)
}
