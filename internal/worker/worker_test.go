package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/notifyhub/villa-dispatch/internal/config"
	"github.com/notifyhub/villa-dispatch/internal/dedup"
	"github.com/notifyhub/villa-dispatch/internal/domain"
	"github.com/notifyhub/villa-dispatch/internal/provider"
	"github.com/notifyhub/villa-dispatch/internal/queue"
	"github.com/notifyhub/villa-dispatch/internal/ratelimiter"
	"github.com/notifyhub/villa-dispatch/internal/repository"
)

type stubProvider struct {
	calls atomic.Int32
	err   error
}

func (p *stubProvider) Send(_ context.Context, n *domain.Notification) (*provider.SendResponse, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return &provider.SendResponse{MessageID: "msg-" + n.ID, Status: "accepted"}, nil
}

type hookCounts struct {
	mu      sync.Mutex
	sent    int
	failed  int
	retried int
}

func (h *hookCounts) hooks() MetricHooks {
	return MetricHooks{
		OnSent:   func(domain.Channel, time.Duration) { h.mu.Lock(); h.sent++; h.mu.Unlock() },
		OnFailed: func(domain.Channel) { h.mu.Lock(); h.failed++; h.mu.Unlock() },
		OnRetry:  func(domain.Channel) { h.mu.Lock(); h.retried++; h.mu.Unlock() },
	}
}

var testBackoff = []time.Duration{5 * time.Second, 30 * time.Second}

// seed stores a dispatch with n queued notifications and returns their ids.
func seed(t *testing.T, repo *repository.MockNotificationRepository, n int, mutate func(*domain.Notification)) (string, []*domain.Notification) {
	t.Helper()
	now := time.Now().UTC()
	d := &domain.Dispatch{ID: fmt.Sprintf("d-%d", now.UnixNano()), JobID: "job-1", EventType: domain.EventJobAssigned,
		Total: n, Pending: n, CreatedAt: now, UpdatedAt: now}
	notifications := make([]*domain.Notification, n)
	for i := range notifications {
		notifications[i] = &domain.Notification{
			ID:         fmt.Sprintf("%s-n-%d", d.ID, i),
			DispatchID: d.ID,
			JobID:      "job-1",
			StaffID:    "staff-a",
			EventType:  domain.EventJobAssigned,
			Channel:    domain.ChannelPush,
			Title:      "New job",
			Priority:   domain.PriorityNormal,
			Status:     domain.StatusQueued,
			MaxRetries: 2,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if mutate != nil {
			mutate(notifications[i])
		}
	}
	require.NoError(t, repo.CreateDispatch(context.Background(), d, notifications))
	return d.ID, notifications
}

func newTestWorker(repo repository.NotificationRepository, prov provider.Provider, h *hookCounts) *Worker {
	return NewWorker(0, queue.New(), repo, prov, ratelimiter.New(1000), testBackoff, zap.NewNop(), h.hooks())
}

func TestWorker_SendMarksSentAndRefreshesDispatch(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMockNotificationRepository()
	dispatchID, ns := seed(t, repo, 1, nil)
	h := &hookCounts{}

	newTestWorker(repo, &stubProvider{}, h).process(ctx, queue.ItemFor(ns[0]))

	got, err := repo.GetByID(ctx, ns[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, got.Status)
	require.NotNil(t, got.ProviderMsgID)
	assert.Equal(t, "msg-"+ns[0].ID, *got.ProviderMsgID)

	d, _, err := repo.GetDispatch(ctx, dispatchID)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Sent)
	assert.Equal(t, 0, d.Pending)
	assert.Equal(t, 1, h.sent)
}

func TestWorker_RetryableFailureSchedulesBackoff(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMockNotificationRepository()
	dispatchID, ns := seed(t, repo, 1, nil)
	h := &hookCounts{}

	before := time.Now().UTC()
	newTestWorker(repo, &stubProvider{err: errors.New("timeout")}, h).process(ctx, queue.ItemFor(ns[0]))

	got, _ := repo.GetByID(ctx, ns[0].ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.NextRetryAt)
	assert.WithinDuration(t, before.Add(testBackoff[0]), *got.NextRetryAt, time.Second)
	assert.Equal(t, 1, h.retried)
	assert.Equal(t, 0, h.failed)

	d, _, _ := repo.GetDispatch(ctx, dispatchID)
	assert.Equal(t, 1, d.Pending, "a scheduled retry is still pending")
}

func TestWorker_BackoffClampsToLastEntry(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMockNotificationRepository()
	_, ns := seed(t, repo, 1, func(n *domain.Notification) { n.RetryCount = 4; n.MaxRetries = 10 })

	before := time.Now().UTC()
	newTestWorker(repo, &stubProvider{err: errors.New("timeout")}, &hookCounts{}).process(ctx, queue.ItemFor(ns[0]))

	got, _ := repo.GetByID(ctx, ns[0].ID)
	require.NotNil(t, got.NextRetryAt)
	assert.WithinDuration(t, before.Add(testBackoff[1]), *got.NextRetryAt, time.Second)
}

func TestWorker_ExhaustedRetriesFail(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMockNotificationRepository()
	dispatchID, ns := seed(t, repo, 1, func(n *domain.Notification) { n.RetryCount = 2 })
	h := &hookCounts{}

	newTestWorker(repo, &stubProvider{err: errors.New("timeout")}, h).process(ctx, queue.ItemFor(ns[0]))

	got, _ := repo.GetByID(ctx, ns[0].ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Nil(t, got.NextRetryAt)
	assert.Equal(t, 1, h.failed)

	d, _, _ := repo.GetDispatch(ctx, dispatchID)
	assert.Equal(t, 1, d.Failed)
}

func TestWorker_PermanentErrorSkipsRetries(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMockNotificationRepository()
	_, ns := seed(t, repo, 1, nil)
	h := &hookCounts{}

	prov := &stubProvider{err: provider.Permanent(provider.ErrNoDeviceTokens)}
	newTestWorker(repo, prov, h).process(ctx, queue.ItemFor(ns[0]))

	got, _ := repo.GetByID(ctx, ns[0].ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	assert.Nil(t, got.NextRetryAt)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "no device tokens")
	assert.Equal(t, 1, h.failed)
	assert.Equal(t, 0, h.retried)
}

func TestWorker_SkipsCancelledAndFinished(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMockNotificationRepository()
	_, ns := seed(t, repo, 2, nil)
	require.NoError(t, repo.Cancel(ctx, ns[0].ID))
	require.NoError(t, repo.MarkSent(ctx, ns[1].ID, "m", time.Now()))

	prov := &stubProvider{}
	w := newTestWorker(repo, prov, &hookCounts{})
	w.process(ctx, queue.ItemFor(ns[0]))
	w.process(ctx, queue.ItemFor(ns[1]))

	assert.EqualValues(t, 0, prov.calls.Load())
}

// cancelAfterRead cancels a notification right after it is read, the way a
// DELETE landing between a worker's read and its status write would.
type cancelAfterRead struct {
	*repository.MockNotificationRepository
	target string
}

func (r *cancelAfterRead) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	n, err := r.MockNotificationRepository.GetByID(ctx, id)
	if err == nil && id == r.target {
		_ = r.MockNotificationRepository.Cancel(ctx, id)
	}
	return n, err
}

func (r *cancelAfterRead) FindDueRetries(ctx context.Context) ([]*domain.Notification, error) {
	due, err := r.MockNotificationRepository.FindDueRetries(ctx)
	if err == nil {
		_ = r.MockNotificationRepository.Cancel(ctx, r.target)
	}
	return due, err
}

func TestWorker_CancelAfterReadIsNotSent(t *testing.T) {
	ctx := context.Background()
	mock := repository.NewMockNotificationRepository()
	_, ns := seed(t, mock, 1, nil)
	repo := &cancelAfterRead{MockNotificationRepository: mock, target: ns[0].ID}

	prov := &stubProvider{}
	h := &hookCounts{}
	newTestWorker(repo, prov, h).process(ctx, queue.ItemFor(ns[0]))

	assert.EqualValues(t, 0, prov.calls.Load())
	got, err := mock.GetByID(ctx, ns[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Zero(t, h.sent)
}

func TestWorker_ShutdownDuringRateWaitParksNotification(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	_, ns := seed(t, repo, 1, nil)

	limiter := ratelimiter.New(1)
	require.NoError(t, limiter.Wait(context.Background(), domain.ChannelPush))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	prov := &stubProvider{}
	w := NewWorker(0, queue.New(), repo, prov, limiter, testBackoff, zap.NewNop(), MetricHooks{})
	w.process(ctx, queue.ItemFor(ns[0]))

	got, _ := repo.GetByID(context.Background(), ns[0].ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.NotNil(t, got.NextRetryAt)
	assert.Equal(t, 0, got.RetryCount)
	assert.EqualValues(t, 0, prov.calls.Load())
}

func TestPool_DeliversAndShutsDownCleanly(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := repository.NewMockNotificationRepository()
	dispatchID, ns := seed(t, repo, 6, nil)
	q := queue.New()
	for _, n := range ns {
		require.NoError(t, q.Enqueue(queue.ItemFor(n)))
	}

	cfg := &config.Config{Workers: 3, RetryBackoff: testBackoff}
	h := &hookCounts{}
	pool := NewPool(cfg, q, repo, &stubProvider{}, ratelimiter.New(1000), zap.NewNop(), h.hooks())
	assert.Equal(t, 3, pool.Size())

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	require.Eventually(t, func() bool {
		d, _, _ := repo.GetDispatch(context.Background(), dispatchID)
		return d.Sent == len(ns)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	pool.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, len(ns), h.sent)
}

func TestRetryWorker_RequeuesDueRetries(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMockNotificationRepository()
	_, ns := seed(t, repo, 2, nil)
	require.NoError(t, repo.ScheduleRetry(ctx, ns[0].ID, 1, time.Now().Add(-time.Second), "timeout"))
	require.NoError(t, repo.ScheduleRetry(ctx, ns[1].ID, 1, time.Now().Add(time.Hour), "timeout"))

	q := queue.New()
	rw := NewRetryWorker(repo, q, time.Minute, zap.NewNop())
	assert.Equal(t, 1, rw.poll(ctx))

	item, ok := q.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, ns[0].ID, item.NotificationID)

	got, _ := repo.GetByID(ctx, ns[0].ID)
	assert.Equal(t, domain.StatusQueued, got.Status)
	later, _ := repo.GetByID(ctx, ns[1].ID)
	assert.Equal(t, domain.StatusFailed, later.Status)
}

func TestRetryWorker_FullQueueKeepsRetryDue(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMockNotificationRepository()
	_, ns := seed(t, repo, 1, nil)
	require.NoError(t, repo.ScheduleRetry(ctx, ns[0].ID, 1, time.Now().Add(-time.Second), "timeout"))

	q := queue.NewWithCapacity(1, 1, 1)
	require.NoError(t, q.Enqueue(queue.Item{NotificationID: "filler", Priority: domain.PriorityNormal}))

	rw := NewRetryWorker(repo, q, time.Minute, zap.NewNop())
	assert.Equal(t, 0, rw.poll(ctx))

	due, err := repo.FindDueRetries(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1, "the retry is picked up again on the next poll")
}

func TestRetryWorker_SkipsRetryCancelledAfterPoll(t *testing.T) {
	ctx := context.Background()
	mock := repository.NewMockNotificationRepository()
	_, ns := seed(t, mock, 2, nil)
	require.NoError(t, mock.ScheduleRetry(ctx, ns[0].ID, 1, time.Now().Add(-time.Second), "timeout"))
	require.NoError(t, mock.ScheduleRetry(ctx, ns[1].ID, 1, time.Now().Add(-time.Second), "timeout"))
	repo := &cancelAfterRead{MockNotificationRepository: mock, target: ns[0].ID}

	q := queue.New()
	assert.Equal(t, 1, NewRetryWorker(repo, q, time.Minute, zap.NewNop()).poll(ctx))

	item, ok := q.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, ns[1].ID, item.NotificationID)
	assert.Zero(t, q.Depths().Total())

	got, _ := mock.GetByID(ctx, ns[0].ID)
	assert.Equal(t, domain.StatusCancelled, got.Status)
}

func TestRetryWorker_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	rw := NewRetryWorker(repository.NewMockNotificationRepository(), queue.New(), time.Millisecond, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		rw.Run(ctx)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retry worker did not stop")
	}
}

func TestSweeper_PurgesExpiredRecords(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := dedup.NewMemoryStore(0)
	dd, err := dedup.New(store, time.Minute, dedup.WithClock(clock))
	require.NoError(t, err)
	limiter := ratelimiter.NewRecipientLimiter(ratelimiter.NewMemoryCounterStore(), 5, time.Minute).WithClock(clock)

	_, _, err = dd.Claim(ctx, "job-1", "staff-a", domain.EventJobAssigned)
	require.NoError(t, err)
	_, _, err = dd.Claim(ctx, "job-2", "staff-a", domain.EventJobAssigned)
	require.NoError(t, err)
	_, err = limiter.Allow(ctx, "staff-a")
	require.NoError(t, err)

	swept := map[string]int64{}
	s := NewSweeper(dd, limiter, time.Minute, zap.NewNop(), func(kind string, n int64) { swept[kind] += n })

	require.NoError(t, s.Sweep(ctx))
	assert.Equal(t, map[string]int64{"fingerprints": 0, "rate_windows": 0}, swept)

	now = now.Add(2 * time.Minute)
	require.NoError(t, s.Sweep(ctx))
	assert.Equal(t, map[string]int64{"fingerprints": 2, "rate_windows": 1}, swept)
	assert.Equal(t, 0, store.Len())
}

type brokenFingerprints struct{ dedup.Store }

func (brokenFingerprints) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 0, errors.New("fingerprints table locked")
}

type brokenWindows struct{ ratelimiter.CounterStore }

func (brokenWindows) PurgeStale(context.Context, time.Time) (int64, error) {
	return 0, errors.New("rate windows table locked")
}

func TestSweeper_ReportsEveryFailedKind(t *testing.T) {
	ctx := context.Background()

	dd, err := dedup.New(brokenFingerprints{}, time.Minute)
	require.NoError(t, err)
	limiter := ratelimiter.NewRecipientLimiter(brokenWindows{}, 5, time.Minute)

	swept := map[string]int64{}
	err = NewSweeper(dd, limiter, time.Minute, zap.NewNop(), func(kind string, n int64) { swept[kind] += n }).Sweep(ctx)
	require.Error(t, err)
	assert.ErrorContains(t, err, "fingerprints table locked")
	assert.ErrorContains(t, err, "rate windows table locked")
	assert.Empty(t, swept)

	ok, err := dedup.New(dedup.NewMemoryStore(0), time.Minute)
	require.NoError(t, err)
	err = NewSweeper(ok, limiter, time.Minute, zap.NewNop(), func(kind string, n int64) { swept[kind] += n }).Sweep(ctx)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "fingerprints")
	assert.Equal(t, map[string]int64{"fingerprints": 0}, swept)
}
