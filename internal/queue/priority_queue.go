package queue

import (
	"context"
	"fmt"

	"github.com/notifyhub/villa-dispatch/internal/domain"
)

// Default per-tier buffer sizes. High stays small so back-pressure shows
// up quickly; normal carries the bulk of job traffic.
const (
	DefaultHighCapacity   = 1000
	DefaultNormalCapacity = 5000
	DefaultLowCapacity    = 2000
)

// PriorityQueue dispatches items to one of three buffered channels based on
// priority. Dequeue always drains high first, then lets normal and low
// compete fairly.
type PriorityQueue struct {
	high   chan Item
	normal chan Item
	low    chan Item
}

// Depths is a snapshot of how many items wait in each tier.
type Depths struct {
	High   int `json:"high"`
	Normal int `json:"normal"`
	Low    int `json:"low"`
}

func (d Depths) Total() int { return d.High + d.Normal + d.Low }

func New() *PriorityQueue {
	return NewWithCapacity(DefaultHighCapacity, DefaultNormalCapacity, DefaultLowCapacity)
}

// NewWithCapacity builds a queue with explicit per-tier buffer sizes.
func NewWithCapacity(high, normal, low int) *PriorityQueue {
	return &PriorityQueue{
		high:   make(chan Item, high),
		normal: make(chan Item, normal),
		low:    make(chan Item, low),
	}
}

// Enqueue places an item on its priority channel without blocking.
// A full tier returns domain.ErrQueueFull.
func (q *PriorityQueue) Enqueue(item Item) error {
	var ch chan Item
	switch item.Priority {
	case domain.PriorityHigh:
		ch = q.high
	case domain.PriorityNormal:
		ch = q.normal
	case domain.PriorityLow:
		ch = q.low
	default:
		return fmt.Errorf("unknown priority %q", item.Priority)
	}

	select {
	case ch <- item:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Dequeue blocks until an item is available or ctx is cancelled.
//
// Double select: a non-blocking receive on high first, then a fair blocking
// select across all tiers plus ctx.Done. Returns (Item{}, false) once ctx
// is cancelled.
func (q *PriorityQueue) Dequeue(ctx context.Context) (Item, bool) {
	select {
	case item := <-q.high:
		return item, true
	default:
	}

	select {
	case item := <-q.high:
		return item, true
	case item := <-q.normal:
		return item, true
	case item := <-q.low:
		return item, true
	case <-ctx.Done():
		return Item{}, false
	}
}

// Depths returns the current number of items waiting in each priority tier.
func (q *PriorityQueue) Depths() Depths {
	return Depths{High: len(q.high), Normal: len(q.normal), Low: len(q.low)}
}
