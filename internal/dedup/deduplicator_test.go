package dedup_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/villa-dispatch/internal/dedup"
	"github.com/notifyhub/villa-dispatch/internal/domain"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestFingerprint(t *testing.T) {
	a := dedup.Fingerprint("job-1", "staff-1", domain.EventJobAssigned)

	assert.Len(t, a, 64)
	assert.Equal(t, a, dedup.Fingerprint(" job-1 ", "staff-1", "JOB_ASSIGNED"), "whitespace and case must not matter")
	assert.NotEqual(t, a, dedup.Fingerprint("job-1", "staff-2", domain.EventJobAssigned))
	assert.NotEqual(t, a, dedup.Fingerprint("job-1", "staff-1", domain.EventJobCancelled))
	assert.NotEqual(t,
		dedup.Fingerprint("ab", "c", domain.EventJobAssigned),
		dedup.Fingerprint("a", "bc", domain.EventJobAssigned),
		"parts are length-prefixed",
	)
}

func TestNew_RejectsNonPositiveTTL(t *testing.T) {
	_, err := dedup.New(dedup.NewMemoryStore(0), 0)
	require.ErrorIs(t, err, dedup.ErrInvalidTTL)
}

func TestDeduplicator_SecondClaimWithinTTLIsSuppressed(t *testing.T) {
	clock := newFakeClock()
	d, err := dedup.New(dedup.NewMemoryStore(0), time.Minute, dedup.WithClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	first, claimed, err := d.Claim(ctx, "job-1", "staff-1", domain.EventJobAssigned)
	require.NoError(t, err)
	require.True(t, claimed)

	clock.Advance(59 * time.Second)
	second, claimed, err := d.Claim(ctx, "job-1", "staff-1", domain.EventJobAssigned)
	require.NoError(t, err)
	assert.False(t, claimed, "same fingerprint inside the TTL must be suppressed")
	assert.Equal(t, first.ID, second.ID)

	_, claimed, err = d.Claim(ctx, "job-1", "staff-2", domain.EventJobAssigned)
	require.NoError(t, err)
	assert.True(t, claimed, "another recipient has its own fingerprint")
}

func TestDeduplicator_ClaimSucceedsAfterExpiry(t *testing.T) {
	clock := newFakeClock()
	store := dedup.NewMemoryStore(0)
	d, err := dedup.New(store, time.Minute, dedup.WithClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	_, claimed, _ := d.Claim(ctx, "job-1", "staff-1", domain.EventJobUpdated)
	require.True(t, claimed)

	clock.Advance(time.Minute)
	rec, claimed, err := d.Claim(ctx, "job-1", "staff-1", domain.EventJobUpdated)
	require.NoError(t, err)
	require.True(t, claimed, "a claim at exactly expiresAt replaces the old record")

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(rec, *got); diff != "" {
		t.Fatalf("stored record mismatch (-want +got):\n%s", diff)
	}
}

func TestDeduplicator_ReleaseAllowsReclaim(t *testing.T) {
	clock := newFakeClock()
	d, err := dedup.New(dedup.NewMemoryStore(0), time.Hour, dedup.WithClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	rec, claimed, _ := d.Claim(ctx, "job-9", "staff-1", domain.EventJobReminder)
	require.True(t, claimed)
	require.NoError(t, d.Release(ctx, rec))

	_, claimed, err = d.Claim(ctx, "job-9", "staff-1", domain.EventJobReminder)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestMemoryStore_ReleaseIgnoresNewerClaim(t *testing.T) {
	store := dedup.NewMemoryStore(0)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	old := dedup.NewRecord("job-1", "staff-1", domain.EventJobAssigned, t0, time.Second)
	newer := dedup.NewRecord("job-1", "staff-1", domain.EventJobAssigned, t0.Add(2*time.Second), time.Second)

	ok, _ := store.Claim(ctx, old)
	require.True(t, ok)
	ok, _ = store.Claim(ctx, newer)
	require.True(t, ok)

	require.NoError(t, store.Release(ctx, old))
	got, err := store.Get(ctx, newer.ID)
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(newer.CreatedAt), "releasing a stale claim must keep the newer one")
}

func TestMemoryStore_PurgeExpired(t *testing.T) {
	store := dedup.NewMemoryStore(0)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	_, _ = store.Claim(ctx, dedup.NewRecord("job-1", "s", domain.EventJobAssigned, t0, time.Minute))
	_, _ = store.Claim(ctx, dedup.NewRecord("job-2", "s", domain.EventJobAssigned, t0, time.Hour))

	n, err := store.PurgeExpired(ctx, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, 1, store.Len())

	_, err = store.Get(ctx, dedup.Fingerprint("job-1", "s", domain.EventJobAssigned))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStore_BoundedEvictsSoonestExpiring(t *testing.T) {
	store := dedup.NewMemoryStore(2)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	short := dedup.NewRecord("job-1", "s", domain.EventJobAssigned, t0, time.Minute)
	long := dedup.NewRecord("job-2", "s", domain.EventJobAssigned, t0, time.Hour)
	fresh := dedup.NewRecord("job-3", "s", domain.EventJobAssigned, t0, 30*time.Minute)

	for _, r := range []dedup.Record{short, long, fresh} {
		ok, err := store.Claim(ctx, r)
		require.NoError(t, err)
		require.True(t, ok)
	}

	assert.Equal(t, 2, store.Len())
	_, err := store.Get(ctx, short.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestMemoryStore_ConcurrentClaimsHaveSingleWinner(t *testing.T) {
	d, err := dedup.New(dedup.NewMemoryStore(0), time.Minute)
	require.NoError(t, err)

	const racers = 64
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, claimed, err := d.Claim(context.Background(), "job-1", "staff-1", domain.EventJobAssigned); err == nil && claimed {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
}
