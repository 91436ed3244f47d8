package broker

import (
	"context"

	"github.com/giftflow/wishlist-pipeline/internal/domain"
)

// Publisher forwards normalized events to the external broker that feeds the
// continuous-query engine. Publishing is fire-and-forget from the system's
// perspective: failures are logged by callers, never retried indefinitely,
// and never fail the request that produced the event.
//
// Mocking this interface in tests gives full control over broker behaviour
// without a running Kafka cluster.
type Publisher interface {
	Publish(ctx context.Context, event domain.BrokerEvent) error
	Close() error
}
