package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notifyhub/villa-dispatch/internal/domain"
	"github.com/notifyhub/villa-dispatch/internal/queue"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	NotificationsSent    *prometheus.CounterVec
	NotificationsFailed  *prometheus.CounterVec
	NotificationRetries  *prometheus.CounterVec
	NotificationLatency  *prometheus.HistogramVec
	RecipientsSuppressed *prometheus.CounterVec
	DispatchesTotal      prometheus.Counter
	FeedDropped          prometheus.Counter
	FeedSuppressed       prometheus.Counter
	SweptRecords         *prometheus.CounterVec
}

// New registers all instruments with the given registerer. Queue depth is
// read from q on every scrape.
func New(reg prometheus.Registerer, q *queue.PriorityQueue) *Metrics {
	m := &Metrics{
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of successfully delivered notifications.",
		}, []string{"channel"}),

		NotificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_failed_total",
			Help: "Total number of permanently failed notifications.",
		}, []string{"channel"}),

		NotificationRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_retries_scheduled_total",
			Help: "Total number of delivery attempts that were scheduled for retry.",
		}, []string{"channel"}),

		NotificationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notification_processing_seconds",
			Help:    "Processing latency from dequeue to provider ack.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),

		RecipientsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_recipients_suppressed_total",
			Help: "Recipients skipped at dispatch time, by reason.",
		}, []string{"reason"}),

		DispatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatches_total",
			Help: "Total number of job events accepted for dispatch.",
		}),

		FeedDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_items_dropped_total",
			Help: "Live feed items dropped because a subscriber was too slow.",
		}),

		FeedSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_items_suppressed_total",
			Help: "Live feed items skipped as repeats of a recent item.",
		}),

		SweptRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweeper_records_deleted_total",
			Help: "Expired dedup and rate-limit records removed by the sweeper.",
		}, []string{"kind"}),
	}

	depth := func(tier string, read func(queue.Depths) int) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "queue_depth",
			Help:        "Current number of items in a priority tier.",
			ConstLabels: prometheus.Labels{"priority": tier},
		}, func() float64 { return float64(read(q.Depths())) })
	}

	reg.MustRegister(
		m.NotificationsSent,
		m.NotificationsFailed,
		m.NotificationRetries,
		m.NotificationLatency,
		m.RecipientsSuppressed,
		m.DispatchesTotal,
		m.FeedDropped,
		m.FeedSuppressed,
		m.SweptRecords,
		depth("high", func(d queue.Depths) int { return d.High }),
		depth("normal", func(d queue.Depths) int { return d.Normal }),
		depth("low", func(d queue.Depths) int { return d.Low }),
	)

	return m
}

// WorkerHooks returns the metric callback functions expected by worker.MetricHooks.
// Centralises the prometheus observation calls so worker.go stays import-free.
func (m *Metrics) WorkerHooks() (
	onSent func(domain.Channel, time.Duration),
	onFailed func(domain.Channel),
	onRetry func(domain.Channel),
) {
	onSent = func(ch domain.Channel, latency time.Duration) {
		m.NotificationsSent.WithLabelValues(string(ch)).Inc()
		m.NotificationLatency.WithLabelValues(string(ch)).Observe(latency.Seconds())
	}
	onFailed = func(ch domain.Channel) {
		m.NotificationsFailed.WithLabelValues(string(ch)).Inc()
	}
	onRetry = func(ch domain.Channel) {
		m.NotificationRetries.WithLabelValues(string(ch)).Inc()
	}
	return
}

// DispatchHooks returns the callbacks the dispatch service reports through.
func (m *Metrics) DispatchHooks() (onDispatch func(), onSkipped func(domain.Outcome)) {
	onDispatch = func() { m.DispatchesTotal.Inc() }
	onSkipped = func(o domain.Outcome) { m.RecipientsSuppressed.WithLabelValues(string(o)).Inc() }
	return
}

// FeedHooks returns the callbacks for the live feed hub.
func (m *Metrics) FeedHooks() (onDropped, onSuppressed func()) {
	return m.FeedDropped.Inc, m.FeedSuppressed.Inc
}

// OnSwept records records removed by the sweeper.
func (m *Metrics) OnSwept(kind string, n int64) {
	m.SweptRecords.WithLabelValues(kind).Add(float64(n))
}
