package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/villa-dispatch/internal/domain"
	"github.com/notifyhub/villa-dispatch/internal/queue"
)

func item(id string, p domain.Priority) queue.Item {
	return queue.Item{NotificationID: id, Channel: domain.ChannelPush, Priority: p}
}

func TestPriorityQueue_BasicEnqueueDequeue(t *testing.T) {
	q := queue.New()

	require.NoError(t, q.Enqueue(item("1", domain.PriorityNormal)))

	got, ok := q.Dequeue(context.Background())
	require.True(t, ok)
	assert.Equal(t, "1", got.NotificationID)
}

// A high-priority item enqueued after a normal one is still served first.
func TestPriorityQueue_HighBeforeNormal(t *testing.T) {
	q := queue.New()
	ctx := context.Background()

	_ = q.Enqueue(item("normal", domain.PriorityNormal))
	_ = q.Enqueue(item("high", domain.PriorityHigh))

	first, _ := q.Dequeue(ctx)
	assert.Equal(t, "high", first.NotificationID)
}

func TestPriorityQueue_ContextCancellation(t *testing.T) {
	q := queue.New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue(ctx)
		done <- ok
	}()

	cancel()

	select {
	case ok := <-done:
		assert.False(t, ok, "expected ok=false after context cancellation")
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not return after context cancellation")
	}
}

func TestPriorityQueue_ErrQueueFull(t *testing.T) {
	q := queue.NewWithCapacity(1, 1, 1)

	require.NoError(t, q.Enqueue(item("a", domain.PriorityLow)))
	assert.ErrorIs(t, q.Enqueue(item("b", domain.PriorityLow)), domain.ErrQueueFull)
	assert.NoError(t, q.Enqueue(item("c", domain.PriorityHigh)), "tiers fill independently")
}

func TestPriorityQueue_UnknownPriority(t *testing.T) {
	q := queue.New()
	err := q.Enqueue(item("x", "urgent"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrQueueFull)
}

// Multiple goroutines enqueue and dequeue simultaneously without losing items.
func TestPriorityQueue_ConcurrentEnqueueDequeue(t *testing.T) {
	q := queue.New()

	const producers = 5
	const itemsPerProducer = 100
	const total = producers * itemsPerProducer

	received := make(chan struct{}, total)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var consumerDone sync.WaitGroup
	consumerDone.Add(1)
	go func() {
		defer consumerDone.Done()
		for {
			_, ok := q.Dequeue(ctx)
			if !ok {
				return
			}
			received <- struct{}{}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < itemsPerProducer; j++ {
				_ = q.Enqueue(item("id", domain.PriorityNormal))
			}
		}()
	}
	wg.Wait()

	for i := 0; i < total; i++ {
		select {
		case <-received:
		case <-ctx.Done():
			t.Fatalf("timeout: only received %d/%d items", i, total)
		}
	}
	cancel()
	consumerDone.Wait()
}

func TestPriorityQueue_Depths(t *testing.T) {
	q := queue.New()

	_ = q.Enqueue(item("h", domain.PriorityHigh))
	_ = q.Enqueue(item("n1", domain.PriorityNormal))
	_ = q.Enqueue(item("n2", domain.PriorityNormal))
	_ = q.Enqueue(item("l", domain.PriorityLow))

	d := q.Depths()
	assert.Equal(t, queue.Depths{High: 1, Normal: 2, Low: 1}, d)
	assert.Equal(t, 4, d.Total())
}
