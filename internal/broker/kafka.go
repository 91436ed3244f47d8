package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/giftflow/wishlist-pipeline/internal/domain"
)

// Header keys carried on every produced record. The origin header is what
// lets the ingress handler break the reactive feedback loop: events this
// system produces are never tagged origin=client.
const (
	HeaderOrigin        = "origin"
	HeaderCorrelationID = "correlation_id"
	HeaderSchemaVersion = "schema_version"
)

// KafkaPublisher publishes broker events to a single topic, partitioned by
// subject id so all events of one subject stay ordered on one partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string

	mu     sync.Mutex
	closed bool
}

// NewKafkaPublisher creates an idempotent sync producer. acks=all and a
// single in-flight request per connection keep the broker-side ordering
// guarantees intact.
func NewKafkaPublisher(brokers []string, topic, clientID string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers list is empty")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_8_0_0
	cfg.ClientID = clientID
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 10
	cfg.Producer.Retry.Backoff = 100 * time.Millisecond
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &KafkaPublisher{producer: producer, topic: topic}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, event domain.BrokerEvent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return domain.ErrPublisherClosed
	}
	p.mu.Unlock()

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal broker event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.SubjectID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderOrigin), Value: []byte(event.Origin)},
			{Key: []byte(HeaderCorrelationID), Value: []byte(event.CorrelationID)},
			{Key: []byte(HeaderSchemaVersion), Value: []byte(event.SchemaVersion)},
		},
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.producer.Close()
}

// compile-time check that KafkaPublisher implements Publisher
var _ Publisher = (*KafkaPublisher)(nil)
