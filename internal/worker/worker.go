package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/villa-dispatch/internal/domain"
	"github.com/notifyhub/villa-dispatch/internal/provider"
	"github.com/notifyhub/villa-dispatch/internal/queue"
	"github.com/notifyhub/villa-dispatch/internal/ratelimiter"
	"github.com/notifyhub/villa-dispatch/internal/repository"
)

// Worker is a single goroutine that continuously pulls items from the priority
// queue, applies per-channel rate limiting, delivers via the provider, and
// handles retry scheduling on failure.
type Worker struct {
	id      int
	q       *queue.PriorityQueue
	repo    repository.NotificationRepository
	prov    provider.Provider
	limiter *ratelimiter.ChannelLimiters
	backoff []time.Duration
	logger  *zap.Logger
	hooks   MetricHooks
}

// NewWorker constructs a worker. Nil hooks are no-ops.
func NewWorker(
	id int,
	q *queue.PriorityQueue,
	repo repository.NotificationRepository,
	prov provider.Provider,
	limiter *ratelimiter.ChannelLimiters,
	backoff []time.Duration,
	logger *zap.Logger,
	hooks MetricHooks,
) *Worker {
	return &Worker{
		id: id, q: q, repo: repo, prov: prov,
		limiter: limiter, backoff: backoff, logger: logger,
		hooks: hooks.withDefaults(),
	}
}

// Run blocks until ctx is cancelled, processing one queue item per iteration.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", zap.Int("id", w.id))
	for {
		item, ok := w.q.Dequeue(ctx)
		if !ok {
			w.logger.Info("worker stopping", zap.Int("id", w.id))
			return
		}
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item queue.Item) {
	start := time.Now()
	log := w.logger.With(
		zap.String("notification_id", item.NotificationID),
		zap.String("channel", string(item.Channel)),
	)

	n, err := w.repo.GetByID(ctx, item.NotificationID)
	if err != nil {
		log.Error("failed to fetch notification", zap.Error(err))
		return
	}
	log = log.With(zap.String("staff_id", n.StaffID), zap.String("fingerprint_id", n.FingerprintID))

	// Cancelled between enqueue and now, or a stale duplicate of an item that
	// was already handled.
	if n.Status != domain.StatusQueued && n.Status != domain.StatusPending {
		log.Debug("skipping notification", zap.String("status", string(n.Status)))
		return
	}

	// Conditional, so a cancel that landed after GetByID is not overwritten.
	if err := w.repo.Transition(ctx, n.ID, domain.StatusProcessing, domain.StatusQueued, domain.StatusPending); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			log.Debug("notification changed state before pickup, skipping")
			return
		}
		log.Error("failed to mark as processing", zap.Error(err))
		return
	}

	// Block here until the per-channel rate limiter grants a token.
	if err := w.limiter.Wait(ctx, n.Channel); err != nil {
		// Shutting down: hand the notification to the retry worker of the
		// next run instead of leaving it stuck in processing.
		if err := w.repo.ScheduleRetry(context.WithoutCancel(ctx), n.ID, n.RetryCount, time.Now().UTC(), "interrupted by shutdown"); err != nil {
			log.Error("failed to park interrupted notification", zap.Error(err))
		}
		return
	}

	resp, err := w.prov.Send(ctx, n)
	elapsed := time.Since(start)

	if err != nil {
		log.Warn("provider send failed",
			zap.Error(err),
			zap.Int("retry_count", n.RetryCount),
			zap.Bool("permanent", provider.IsPermanent(err)),
		)
		w.handleFailure(ctx, n, err)
		return
	}

	now := time.Now().UTC()
	if err := w.repo.MarkSent(ctx, n.ID, resp.MessageID, now); err != nil {
		log.Error("failed to mark as sent", zap.Error(err))
		return
	}
	w.refreshDispatch(ctx, n, log)

	w.hooks.OnSent(n.Channel, elapsed)
	log.Info("notification sent", zap.String("provider_msg_id", resp.MessageID), zap.Duration("latency", elapsed))
}

// handleFailure either schedules a retry (if retries remain) or marks the
// notification as permanently failed. Errors marked provider.Permanent fail
// straight away.
//
// Retry schedule:
//
//	attempt 0 → backoff[0]  (default 5 s)
//	attempt 1 → backoff[1]  (default 30 s)
//	attempt 2 → backoff[2]  (default 120 s)
//	attempt N ≥ len(backoff) → last backoff entry (clamped)
func (w *Worker) handleFailure(ctx context.Context, n *domain.Notification, sendErr error) {
	if provider.IsPermanent(sendErr) || n.RetryCount >= n.MaxRetries || len(w.backoff) == 0 {
		if err := w.repo.MarkFailed(ctx, n.ID, sendErr.Error()); err != nil {
			w.logger.Error("failed to mark notification as failed",
				zap.String("notification_id", n.ID), zap.Error(err))
			return
		}
		w.hooks.OnFailed(n.Channel)
		w.refreshDispatch(ctx, n, w.logger)
		return
	}

	idx := min(n.RetryCount, len(w.backoff)-1)
	nextRetry := time.Now().UTC().Add(w.backoff[idx])

	if err := w.repo.ScheduleRetry(ctx, n.ID, n.RetryCount+1, nextRetry, sendErr.Error()); err != nil {
		w.logger.Error("failed to schedule retry",
			zap.String("notification_id", n.ID), zap.Error(err))
		return
	}
	w.hooks.OnRetry(n.Channel)
}

func (w *Worker) refreshDispatch(ctx context.Context, n *domain.Notification, log *zap.Logger) {
	if n.DispatchID == "" {
		return
	}
	if err := w.repo.UpdateDispatchCounts(ctx, n.DispatchID); err != nil {
		log.Warn("failed to update dispatch counts",
			zap.String("dispatch_id", n.DispatchID), zap.Error(err))
	}
}
