package changefeed

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/giftflow/wishlist-pipeline/internal/broadcast"
	"github.com/giftflow/wishlist-pipeline/internal/broker"
	"github.com/giftflow/wishlist-pipeline/internal/domain"
	"github.com/giftflow/wishlist-pipeline/internal/repository"
)

// Hooks are metric callbacks for the bridge workers.
type Hooks struct {
	OnDelivered func(partition int)
	OnSkipped   func(partition int)
}

// Redeliverer re-triggers execution for a job the feed observed. The
// orchestrator implements it; jobs that are running or already terminal
// are left alone.
type Redeliverer interface {
	Redeliver(ctx context.Context, jobKey string) error
}

// Bridge tails the durable store's change log and forwards every committed
// mutation outward: a normalized event to the broker and a live event to the
// in-process broadcaster.
//
// One worker per partition; a partition lease gives mutual exclusion across
// replicas, and the checkpoint makes delivery resume after a restart.
// Delivery is at-least-once: a crash between forwarding and checkpointing
// redelivers the batch, and consumers must tolerate that.
type Bridge struct {
	feed       repository.ChangeFeedStore
	publisher  broker.Publisher
	bcast      *broadcast.Broadcaster
	redeliver  Redeliverer
	partitions int
	interval   time.Duration
	batchSize  int
	leaseTTL   time.Duration
	owner      string
	logger     *zap.Logger
	hooks      Hooks
	wg         sync.WaitGroup
}

func New(
	feed repository.ChangeFeedStore,
	publisher broker.Publisher,
	bcast *broadcast.Broadcaster,
	redeliver Redeliverer,
	partitions int,
	interval time.Duration,
	batchSize int,
	leaseTTL time.Duration,
	logger *zap.Logger,
	hooks Hooks,
) *Bridge {
	if partitions < 1 {
		partitions = 1
	}
	if batchSize < 1 {
		batchSize = 1
	}
	if hooks.OnDelivered == nil {
		hooks.OnDelivered = func(int) {}
	}
	if hooks.OnSkipped == nil {
		hooks.OnSkipped = func(int) {}
	}
	return &Bridge{
		feed:       feed,
		publisher:  publisher,
		bcast:      bcast,
		redeliver:  redeliver,
		partitions: partitions,
		interval:   interval,
		batchSize:  batchSize,
		leaseTTL:   leaseTTL,
		owner:      uuid.New().String(),
		logger:     logger,
		hooks:      hooks,
	}
}

// Start launches one worker per partition. Workers exit on ctx cancellation;
// call Wait to block until they are done.
func (b *Bridge) Start(ctx context.Context) {
	for p := 0; p < b.partitions; p++ {
		b.wg.Add(1)
		go b.worker(ctx, p)
	}
	b.logger.Info("change-feed bridge started",
		zap.Int("partitions", b.partitions),
		zap.String("owner", b.owner),
	)
}

func (b *Bridge) Wait() {
	b.wg.Wait()
	b.logger.Info("change-feed bridge stopped")
}

func (b *Bridge) worker(ctx context.Context, partition int) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.drain(ctx, partition); err != nil && ctx.Err() == nil {
				b.logger.Error("change-feed drain failed",
					zap.Int("partition", partition),
					zap.Error(err),
				)
			}
		}
	}
}

// drain processes everything past the checkpoint, in batches, until the
// partition is caught up or the lease is lost.
func (b *Bridge) drain(ctx context.Context, partition int) error {
	acquired, checkpoint, err := b.feed.AcquireLease(ctx, partition, b.owner, b.leaseTTL)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}

	for {
		changes, err := b.feed.ReadBatch(ctx, partition, checkpoint, b.batchSize)
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			return nil
		}

		for _, change := range changes {
			b.forward(ctx, change, partition)
			checkpoint = change.Seq
		}

		if err := b.feed.Checkpoint(ctx, partition, b.owner, checkpoint); err != nil {
			return err
		}
	}
}

// forward pushes one change outward: a live event to the broadcaster, a
// normalized event to the broker, and, for job changes, a redelivery nudge
// to the orchestrator. The three deliveries are independent; a broker
// failure is logged and the change is skipped rather than blocking the
// partition, since the change log is the source of truth and downstream
// consumers already tolerate gaps and redelivery.
func (b *Bridge) forward(ctx context.Context, change *domain.Change, partition int) {
	event := domain.BrokerEvent{
		SubjectID:     change.SubjectID,
		Type:          "change." + string(change.DocType),
		Origin:        domain.OriginChangeFeed,
		SchemaVersion: domain.SchemaVersion,
		OccurredAt:    change.CreatedAt,
		Payload:       change.Payload,
	}

	b.bcast.Publish(change.SubjectID, event.Type, change.Payload)

	if change.DocType == domain.ChangeDocJob && b.redeliver != nil {
		if err := b.redeliver.Redeliver(ctx, change.DocID); err != nil {
			b.logger.Warn("job redelivery failed",
				zap.Int("partition", partition),
				zap.String("job_key", change.DocID),
				zap.Error(err),
			)
		}
	}

	if err := b.publisher.Publish(ctx, event); err != nil {
		b.logger.Warn("change publish failed, skipping",
			zap.Int("partition", partition),
			zap.Int64("seq", change.Seq),
			zap.String("doc_type", string(change.DocType)),
			zap.Error(err),
		)
		b.hooks.OnSkipped(partition)
		return
	}
	b.hooks.OnDelivered(partition)
}
