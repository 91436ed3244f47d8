package queue

import (
	"context"
	"fmt"

	"github.com/giftflow/wishlist-pipeline/internal/domain"
)

// Trigger identifies which path scheduled a pipeline execution.
type Trigger string

const (
	// TriggerFast is the synchronous ingress path; it jumps the line so the
	// client that just submitted sees results with the lowest latency.
	TriggerFast Trigger = "fast"
	// TriggerReactive is the continuous-query engine's callback.
	TriggerReactive Trigger = "reactive"
	// TriggerRedelivery covers change-feed redeliveries and other
	// best-effort re-runs.
	TriggerRedelivery Trigger = "redelivery"
)

// Item is the minimal data placed on the queue. Workers fetch the full Job
// from the store using the key, keeping the queue lightweight and the stored
// record authoritative.
type Item struct {
	JobKey    string
	SubjectID string
	Trigger   Trigger
}

// ExecutionQueue dispatches pipeline executions to one of three buffered
// channels based on the trigger path.
//
// Workers dequeue via the double-select pattern, which guarantees that
// fast-path executions are always served before reactive or redelivery ones,
// while still allowing fair competition between the latter two when the fast
// channel is empty.
type ExecutionQueue struct {
	fast       chan Item
	reactive   chan Item
	redelivery chan Item
}

// New sizes each tier from the configured total capacity. Fast gets the
// smallest buffer so back-pressure reaches the ingress quickly.
func New(capacity int) *ExecutionQueue {
	if capacity < 4 {
		capacity = 4
	}
	return &ExecutionQueue{
		fast:       make(chan Item, capacity/4),
		reactive:   make(chan Item, capacity/2),
		redelivery: make(chan Item, capacity/4),
	}
}

// Enqueue places an item on the channel for its trigger path.
// It is non-blocking: if the target channel is full, ErrQueueFull is returned
// immediately rather than blocking the caller (the HTTP handler).
func (q *ExecutionQueue) Enqueue(item Item) error {
	var target chan Item
	switch item.Trigger {
	case TriggerFast:
		target = q.fast
	case TriggerReactive:
		target = q.reactive
	case TriggerRedelivery:
		target = q.redelivery
	default:
		return fmt.Errorf("unknown trigger %q", item.Trigger)
	}

	select {
	case target <- item:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Dequeue blocks until an item is available or ctx is cancelled.
//
// The double-select: a non-blocking check drains the fast channel first;
// only when it is empty does the worker enter a fair blocking select across
// all tiers plus the done signal. Fast-path executions never starve behind
// bulk redeliveries, and idle workers sleep instead of spinning.
//
// Returns (Item{}, false) when ctx is cancelled (graceful shutdown signal).
func (q *ExecutionQueue) Dequeue(ctx context.Context) (Item, bool) {
	select {
	case item := <-q.fast:
		return item, true
	default:
	}

	select {
	case item := <-q.fast:
		return item, true
	case item := <-q.reactive:
		return item, true
	case item := <-q.redelivery:
		return item, true
	case <-ctx.Done():
		return Item{}, false
	}
}

// Depths returns the current number of items waiting in each tier.
// Used by the metrics collector for queue-depth gauges.
func (q *ExecutionQueue) Depths() (fast, reactive, redelivery int) {
	return len(q.fast), len(q.reactive), len(q.redelivery)
}
