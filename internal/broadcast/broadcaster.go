// Package broadcast implements the per-subject in-memory fan-out channel
// that live stream consumers attach to. Channels are created lazily and
// evicted again after an idle period, so memory stays bounded under many
// distinct subjects.
package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/giftflow/wishlist-pipeline/internal/domain"
)

// MirrorFunc forwards a published event to an out-of-process push hub.
// Mirroring is best-effort: a mirror error is logged and never fails the
// primary publish.
type MirrorFunc func(subjectID string, event domain.BroadcastEvent) error

type subject struct {
	subs         map[*Subscription]struct{}
	lastActivity time.Time
}

// Broadcaster multicasts events to every subscriber of a subject, in publish
// order per subscriber. Publish never blocks the producer: a subscriber whose
// buffer is full misses the event (logged and counted) instead of stalling
// pipeline stages.
type Broadcaster struct {
	mu       sync.Mutex
	subjects map[string]*subject

	buffer  int
	idleTTL time.Duration
	mirror  MirrorFunc
	onDrop  func(subjectID string)
	logger  *zap.Logger
}

// Subscription is one consumer's attachment to a subject channel.
type Subscription struct {
	subjectID string
	ch        chan domain.BroadcastEvent
	b         *Broadcaster
	once      sync.Once
}

// Events returns the receive side of the subscription. The channel is closed
// when the subscription is closed.
func (s *Subscription) Events() <-chan domain.BroadcastEvent { return s.ch }

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.b.unsubscribe(s)
		close(s.ch)
	})
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithMirror attaches a push-hub mirror invoked after every publish.
func WithMirror(fn MirrorFunc) Option {
	return func(b *Broadcaster) { b.mirror = fn }
}

// WithDropHook attaches a callback fired whenever a slow subscriber misses
// an event. Used for the drop counter metric.
func WithDropHook(fn func(subjectID string)) Option {
	return func(b *Broadcaster) { b.onDrop = fn }
}

func New(buffer int, idleTTL time.Duration, logger *zap.Logger, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		subjects: make(map[string]*subject),
		buffer:   buffer,
		idleTTL:  idleTTL,
		onDrop:   func(string) {},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe attaches a new consumer to the subject's channel, creating the
// channel if this is its first observer.
func (b *Broadcaster) Subscribe(subjectID string) *Subscription {
	sub := &Subscription{
		subjectID: subjectID,
		ch:        make(chan domain.BroadcastEvent, b.buffer),
		b:         b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.subjects[subjectID]
	if s == nil {
		s = &subject{subs: make(map[*Subscription]struct{})}
		b.subjects[subjectID] = s
	}
	s.subs[sub] = struct{}{}
	s.lastActivity = time.Now()
	return sub
}

func (b *Broadcaster) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s := b.subjects[sub.subjectID]; s != nil {
		delete(s.subs, sub)
		s.lastActivity = time.Now()
	}
}

// Publish multicasts an event to every current subscriber of the subject and
// mirrors it to the push hub when one is attached. A fresh synthetic id is
// assigned to each event.
func (b *Broadcaster) Publish(subjectID, eventType string, payload json.RawMessage) domain.BroadcastEvent {
	event := domain.BroadcastEvent{
		ID:      uuid.New().String(),
		Type:    eventType,
		Payload: payload,
	}

	b.mu.Lock()
	s := b.subjects[subjectID]
	if s == nil {
		s = &subject{subs: make(map[*Subscription]struct{})}
		b.subjects[subjectID] = s
	}
	s.lastActivity = time.Now()
	for sub := range s.subs {
		select {
		case sub.ch <- event:
		default:
			b.onDrop(subjectID)
			b.logger.Warn("subscriber buffer full, event dropped",
				zap.String("subject_id", subjectID),
				zap.String("event_type", eventType),
			)
		}
	}
	b.mu.Unlock()

	if b.mirror != nil {
		if err := b.mirror(subjectID, event); err != nil {
			b.logger.Warn("push hub mirror failed",
				zap.String("subject_id", subjectID), zap.Error(err))
		}
	}
	return event
}

// SubscriberCount reports the current number of subscribers for a subject.
func (b *Broadcaster) SubscriberCount(subjectID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s := b.subjects[subjectID]; s != nil {
		return len(s.subs)
	}
	return 0
}

// SubjectCount reports how many subject channels currently exist.
func (b *Broadcaster) SubjectCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subjects)
}

// Run evicts idle subject channels until ctx is cancelled. A subject is
// evicted when it has no subscribers and has seen no publish for the idle
// TTL. Intended to be started from main as a background goroutine.
func (b *Broadcaster) Run(ctx context.Context) {
	interval := b.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.evictIdle()
		}
	}
}

func (b *Broadcaster) evictIdle() {
	cutoff := time.Now().Add(-b.idleTTL)

	b.mu.Lock()
	defer b.mu.Unlock()

	for id, s := range b.subjects {
		if len(s.subs) == 0 && s.lastActivity.Before(cutoff) {
			delete(b.subjects, id)
		}
	}
}
