package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/giftflow/wishlist-pipeline/internal/domain"
	"github.com/giftflow/wishlist-pipeline/internal/queue"
)

func item(key string, tr queue.Trigger) queue.Item {
	return queue.Item{JobKey: key, SubjectID: "child-1", Trigger: tr}
}

func TestExecutionQueue_BasicEnqueueDequeue(t *testing.T) {
	q := queue.New(100)

	if err := q.Enqueue(item("k1", queue.TriggerReactive)); err != nil {
		t.Fatal(err)
	}

	got, ok := q.Dequeue(context.Background())
	if !ok {
		t.Fatal("expected item, got nothing")
	}
	if got.JobKey != "k1" {
		t.Fatalf("expected key=k1, got %s", got.JobKey)
	}
}

// A fast-path item inserted after a reactive item is still served first.
func TestExecutionQueue_FastBeforeReactive(t *testing.T) {
	q := queue.New(100)

	_ = q.Enqueue(item("reactive", queue.TriggerReactive))
	_ = q.Enqueue(item("fast", queue.TriggerFast))

	first, _ := q.Dequeue(context.Background())
	if first.JobKey != "fast" {
		t.Fatalf("expected fast to be dequeued first, got %q", first.JobKey)
	}
}

func TestExecutionQueue_UnknownTrigger(t *testing.T) {
	q := queue.New(100)

	if err := q.Enqueue(item("x", "bogus")); err == nil {
		t.Fatal("expected error for unknown trigger")
	}
}

func TestExecutionQueue_ErrQueueFull(t *testing.T) {
	q := queue.New(4) // fast tier capacity 1

	if err := q.Enqueue(item("a", queue.TriggerFast)); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(item("b", queue.TriggerFast)); err != domain.ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestExecutionQueue_ContextCancellation(t *testing.T) {
	q := queue.New(100)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue(ctx)
		done <- ok
	}()

	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected ok=false after context cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not return after context cancellation")
	}
}
