package broker

import (
	"context"
	"sync"

	"github.com/giftflow/wishlist-pipeline/internal/domain"
)

// MockPublisher records published events in memory for tests, in particular
// the feedback-loop guard assertion (zero publishes when the origin marker
// is present).
type MockPublisher struct {
	mu     sync.Mutex
	events []domain.BrokerEvent
	err    error
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// SetErr makes every subsequent Publish fail with err until cleared.
func (m *MockPublisher) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockPublisher) Publish(_ context.Context, event domain.BrokerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *MockPublisher) Close() error { return nil }

// Events returns a snapshot of everything published so far.
func (m *MockPublisher) Events() []domain.BrokerEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.BrokerEvent, len(m.events))
	copy(out, m.events)
	return out
}

var _ Publisher = (*MockPublisher)(nil)
