package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/villa-dispatch/internal/config"
	"github.com/notifyhub/villa-dispatch/internal/domain"
	"github.com/notifyhub/villa-dispatch/internal/provider"
	"github.com/notifyhub/villa-dispatch/internal/queue"
	"github.com/notifyhub/villa-dispatch/internal/ratelimiter"
	"github.com/notifyhub/villa-dispatch/internal/repository"
)

// MetricHooks carries the metric callback functions injected by main.
// Using a struct keeps the pool constructor signature clean.
type MetricHooks struct {
	OnSent   func(channel domain.Channel, latency time.Duration)
	OnFailed func(channel domain.Channel)
	OnRetry  func(channel domain.Channel)
}

func (h MetricHooks) withDefaults() MetricHooks {
	if h.OnSent == nil {
		h.OnSent = func(domain.Channel, time.Duration) {}
	}
	if h.OnFailed == nil {
		h.OnFailed = func(domain.Channel) {}
	}
	if h.OnRetry == nil {
		h.OnRetry = func(domain.Channel) {}
	}
	return h
}

// Pool manages the lifecycle of all workers.
// All workers share the same priority queue; the queue's double select
// handles priority ordering internally.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

// NewPool creates cfg.Workers identical workers. The channel distinction
// is handled by the rate limiter and the provider router.
func NewPool(
	cfg *config.Config,
	q *queue.PriorityQueue,
	repo repository.NotificationRepository,
	prov provider.Provider,
	limiter *ratelimiter.ChannelLimiters,
	logger *zap.Logger,
	hooks MetricHooks,
) *Pool {
	workers := make([]*Worker, max(cfg.Workers, 1))

	for i := range workers {
		workers[i] = NewWorker(
			i, q, repo, prov, limiter,
			cfg.RetryBackoff,
			logger.With(zap.Int("worker_id", i)),
			hooks,
		)
	}

	return &Pool{workers: workers}
}

// Start launches all workers as goroutines.
// The provided ctx is forwarded to every worker; cancelling it
// triggers a graceful shutdown of the entire pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Wait blocks until every worker has returned after ctx is cancelled.
// Call this after cancelling the context to ensure in-flight messages finish.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }
