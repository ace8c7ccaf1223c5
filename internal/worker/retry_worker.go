package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/villa-dispatch/internal/domain"
	"github.com/notifyhub/villa-dispatch/internal/queue"
	"github.com/notifyhub/villa-dispatch/internal/repository"
)

// RetryWorker polls the database for failed notifications whose
// next_retry_at is in the past and re-enqueues them. Retry times live in the
// database, so they survive restarts; so do notifications parked because
// the queue was full or a worker was interrupted.
type RetryWorker struct {
	repo     repository.NotificationRepository
	q        *queue.PriorityQueue
	interval time.Duration
	logger   *zap.Logger
}

func NewRetryWorker(
	repo repository.NotificationRepository,
	q *queue.PriorityQueue,
	interval time.Duration,
	logger *zap.Logger,
) *RetryWorker {
	return &RetryWorker{repo: repo, q: q, interval: interval, logger: logger}
}

// Run ticks every interval and re-enqueues any due retries.
// Stops cleanly when ctx is cancelled.
func (rw *RetryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	rw.logger.Info("retry worker started", zap.Duration("interval", rw.interval))

	for {
		select {
		case <-ctx.Done():
			rw.logger.Info("retry worker stopping")
			return
		case <-ticker.C:
			rw.poll(ctx)
		}
	}
}

// poll re-enqueues every due retry and returns how many made it onto the queue.
func (rw *RetryWorker) poll(ctx context.Context) int {
	notifications, err := rw.repo.FindDueRetries(ctx)
	if err != nil {
		rw.logger.Error("retry poll error", zap.Error(err))
		return 0
	}

	requeued := 0
	for _, n := range notifications {
		// Queued before enqueueing so a fast worker never sees the old status.
		// A row cancelled since FindDueRetries no longer matches and is left alone.
		if err := rw.repo.Transition(ctx, n.ID, domain.StatusQueued, domain.StatusFailed); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				rw.logger.Debug("retry changed state before requeue, skipping",
					zap.String("notification_id", n.ID))
				continue
			}
			rw.logger.Error("failed to update status before re-enqueue",
				zap.String("notification_id", n.ID), zap.Error(err))
			continue
		}

		if err := rw.q.Enqueue(queue.ItemFor(n)); err != nil {
			rw.logger.Warn("could not re-enqueue retry, will try again next poll",
				zap.String("notification_id", n.ID), zap.Error(err))
			if err := rw.repo.Transition(ctx, n.ID, domain.StatusFailed, domain.StatusQueued); err != nil {
				rw.logger.Error("failed to restore retry status",
					zap.String("notification_id", n.ID), zap.Error(err))
			}
			continue
		}
		requeued++
	}

	if requeued > 0 {
		rw.logger.Info("re-enqueued due retries", zap.Int("count", requeued))
	}
	return requeued
}
