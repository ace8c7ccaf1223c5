package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/villa-dispatch/internal/dedup"
	"github.com/notifyhub/villa-dispatch/internal/domain"
	"github.com/notifyhub/villa-dispatch/internal/queue"
	"github.com/notifyhub/villa-dispatch/internal/ratelimiter"
	"github.com/notifyhub/villa-dispatch/internal/repository"
)

// Hooks carries metric callbacks; nil fields are no-ops.
type Hooks struct {
	OnDispatch func()
	OnSkipped  func(outcome domain.Outcome)
}

// Options tunes how notifications are created.
type Options struct {
	MaxRetries int
	// RequeueDelay is how long a notification that did not fit in the queue
	// waits before the retry worker picks it up.
	RequeueDelay time.Duration
}

// DispatchService turns job events into per-recipient deliveries.
// Duplicate suppression, recipient rate limiting, the cancel state machine
// and the staff-facing inbox all live here; handlers and workers depend on
// this service, not on each other.
type DispatchService struct {
	repo    repository.NotificationRepository
	devices repository.DeviceRepository
	inbox   repository.InboxRepository
	dedup   *dedup.Deduplicator
	limiter *ratelimiter.RecipientLimiter
	q       *queue.PriorityQueue
	opts    Options
	hooks   Hooks
	logger  *zap.Logger
	now     func() time.Time
}

func NewDispatchService(
	repo repository.NotificationRepository,
	devices repository.DeviceRepository,
	inbox repository.InboxRepository,
	dd *dedup.Deduplicator,
	limiter *ratelimiter.RecipientLimiter,
	q *queue.PriorityQueue,
	opts Options,
	hooks Hooks,
	logger *zap.Logger,
) *DispatchService {
	if opts.RequeueDelay <= 0 {
		opts.RequeueDelay = 5 * time.Second
	}
	if hooks.OnDispatch == nil {
		hooks.OnDispatch = func() {}
	}
	if hooks.OnSkipped == nil {
		hooks.OnSkipped = func(domain.Outcome) {}
	}
	return &DispatchService{
		repo: repo, devices: devices, inbox: inbox,
		dedup: dd, limiter: limiter, q: q,
		opts: opts, hooks: hooks, logger: logger,
		now: time.Now,
	}
}

// Dispatch fans a job event out to its staff members.
//
// For each recipient the fingerprint is claimed first; a live claim means the
// same event already went out and the recipient is suppressed. A claimed
// recipient over its rate limit gives the claim back so a later event can
// still reach them. Everyone else gets one notification per channel, stored
// together with the dispatch in one transaction and then enqueued.
func (s *DispatchService) Dispatch(ctx context.Context, ev domain.JobEvent) (*domain.DispatchResult, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	d := &domain.Dispatch{
		ID:        uuid.New().String(),
		JobID:     ev.JobID,
		EventType: ev.EventType,
		CreatedAt: now,
		UpdatedAt: now,
	}
	log := s.logger.With(
		zap.String("dispatch_id", d.ID),
		zap.String("job_id", ev.JobID),
		zap.String("event_type", string(ev.EventType)),
	)

	var (
		claims        []dedup.Record
		notifications []*domain.Notification
		results       = make([]domain.RecipientResult, 0, len(ev.StaffIDs))
	)

	for _, staffID := range ev.StaffIDs {
		rec, claimed, err := s.dedup.Claim(ctx, ev.JobID, staffID, ev.EventType)
		if err != nil {
			s.releaseAll(ctx, claims, log)
			return nil, err
		}
		result := domain.RecipientResult{StaffID: staffID, FingerprintID: rec.ID}

		if !claimed {
			result.Outcome = domain.OutcomeSuppressed
			d.Suppressed++
			s.hooks.OnSkipped(domain.OutcomeSuppressed)
			log.Info("duplicate suppressed",
				zap.String("staff_id", staffID), zap.String("fingerprint_id", rec.ID))
			results = append(results, result)
			continue
		}

		decision, err := s.limiter.Allow(ctx, staffID)
		if err != nil {
			s.releaseAll(ctx, append(claims, rec), log)
			return nil, err
		}
		if !decision.Allowed {
			s.release(ctx, rec, log)
			result.Outcome = domain.OutcomeRateLimited
			d.RateLimited++
			s.hooks.OnSkipped(domain.OutcomeRateLimited)
			log.Info("recipient rate limited",
				zap.String("staff_id", staffID),
				zap.Int("count", decision.Count),
				zap.Time("reset_at", decision.ResetAt))
			results = append(results, result)
			continue
		}

		claims = append(claims, rec)
		result.Outcome = domain.OutcomeQueued
		for _, ch := range ev.Channels {
			n := s.buildNotification(d, &ev, staffID, ch, rec.ID, now)
			notifications = append(notifications, n)
			result.NotificationIDs = append(result.NotificationIDs, n.ID)
		}
		results = append(results, result)
	}

	d.Total = len(notifications)
	d.Pending = len(notifications)

	if err := s.repo.CreateDispatch(ctx, d, notifications); err != nil {
		s.releaseAll(ctx, claims, log)
		return nil, fmt.Errorf("persist dispatch: %w", err)
	}
	s.hooks.OnDispatch()

	for _, n := range notifications {
		s.enqueue(ctx, n)
	}

	log.Info("dispatch accepted",
		zap.Int("recipients", len(ev.StaffIDs)),
		zap.Int("notifications", d.Total),
		zap.Int("suppressed", d.Suppressed),
		zap.Int("rate_limited", d.RateLimited))

	return &domain.DispatchResult{Dispatch: d, Recipients: results}, nil
}

// CancelNotification cancels a notification that has not been handed to a
// provider yet, including one that is waiting for a retry.
func (s *DispatchService) CancelNotification(ctx context.Context, id string) error {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	switch {
	case n.Status == domain.StatusCancelled:
		return domain.ErrAlreadyCancelled
	case n.Status == domain.StatusProcessing, n.Status == domain.StatusSent:
		return domain.ErrNotCancellable
	case n.Status == domain.StatusFailed && n.NextRetryAt == nil:
		return domain.ErrNotCancellable
	}

	if err := s.repo.Cancel(ctx, id); err != nil {
		return err
	}
	if err := s.repo.UpdateDispatchCounts(ctx, n.DispatchID); err != nil {
		s.logger.Warn("failed to refresh dispatch counts",
			zap.String("dispatch_id", n.DispatchID), zap.Error(err))
	}
	return nil
}

func (s *DispatchService) GetNotification(ctx context.Context, id string) (*domain.Notification, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *DispatchService) ListNotifications(ctx context.Context, filter domain.ListFilter) ([]*domain.Notification, int, error) {
	return s.repo.List(ctx, filter)
}

func (s *DispatchService) GetDispatch(ctx context.Context, id string) (*domain.Dispatch, []*domain.Notification, error) {
	return s.repo.GetDispatch(ctx, id)
}

// ---- private helpers ----

func (s *DispatchService) buildNotification(
	d *domain.Dispatch,
	ev *domain.JobEvent,
	staffID string,
	ch domain.Channel,
	fingerprintID string,
	now time.Time,
) *domain.Notification {
	data := make(map[string]string, len(ev.Data)+1)
	for k, v := range ev.Data {
		data[k] = v
	}
	if ev.PropertyID != "" {
		data["property_id"] = ev.PropertyID
	}

	return &domain.Notification{
		ID:            uuid.New().String(),
		DispatchID:    d.ID,
		JobID:         ev.JobID,
		StaffID:       staffID,
		EventType:     ev.EventType,
		Channel:       ch,
		Title:         ev.Title,
		Body:          ev.Body,
		Data:          data,
		Priority:      ev.Priority,
		Status:        domain.StatusPending,
		FingerprintID: fingerprintID,
		MaxRetries:    s.opts.MaxRetries,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// enqueue places the notification on the queue and marks it queued. When
// the queue is full the notification is parked as a due-soon retry so the
// retry worker feeds it back in once there is room.
func (s *DispatchService) enqueue(ctx context.Context, n *domain.Notification) {
	err := s.q.Enqueue(queue.ItemFor(n))
	if errors.Is(err, domain.ErrQueueFull) {
		next := s.now().UTC().Add(s.opts.RequeueDelay)
		s.logger.Warn("queue full: parking notification for the retry worker",
			zap.String("notification_id", n.ID), zap.Time("next_retry_at", next))
		if err := s.repo.ScheduleRetry(ctx, n.ID, n.RetryCount, next, domain.ErrQueueFull.Error()); err != nil {
			s.logger.Error("failed to park notification", zap.String("notification_id", n.ID), zap.Error(err))
			return
		}
		n.Status = domain.StatusFailed
		n.NextRetryAt = &next
		return
	}
	if err != nil {
		s.logger.Error("enqueue failed", zap.String("notification_id", n.ID), zap.Error(err))
		return
	}

	// A worker may already have picked it up, or a cancel landed; both win.
	if err := s.repo.Transition(ctx, n.ID, domain.StatusQueued, domain.StatusPending); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return
		}
		s.logger.Error("failed to update status to queued", zap.String("notification_id", n.ID), zap.Error(err))
		return
	}
	n.Status = domain.StatusQueued
}

func (s *DispatchService) release(ctx context.Context, rec dedup.Record, log *zap.Logger) {
	if err := s.dedup.Release(ctx, rec); err != nil {
		log.Warn("failed to release fingerprint", zap.String("fingerprint_id", rec.ID), zap.Error(err))
	}
}

func (s *DispatchService) releaseAll(ctx context.Context, recs []dedup.Record, log *zap.Logger) {
	for _, rec := range recs {
		s.release(ctx, rec, log)
	}
}
