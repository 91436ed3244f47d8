package repository

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/giftflow/wishlist-pipeline/internal/domain"
)

// JobStore owns Job and IngestionRecord persistence.
//
// CreateIfAbsent is the single atomicity point of the whole system: it must
// insert the job and its ingestion record together, or observe the existing
// job, using an insert-if-absent primitive on the job key. A read-then-write
// pair would race when the fast and reactive trigger paths arrive
// near-simultaneously.
type JobStore interface {
	CreateIfAbsent(ctx context.Context, job *domain.Job, rec *domain.IngestionRecord) (created bool, existing *domain.Job, err error)
	GetJob(ctx context.Context, key string) (*domain.Job, error)
	SetJobStatus(ctx context.Context, key string, status domain.JobStatus, errMsg *string) error
	IncrementAttempts(ctx context.Context, key string) error
}

// StageResultStore is append-only; results are never mutated or deleted.
type StageResultStore interface {
	AppendStageResult(ctx context.Context, res *domain.StageResult) error
	ListStageResults(ctx context.Context, subjectID string) ([]*domain.StageResult, error)
}

// NotificationStore holds the queryable projection replayed by the stream
// service as the historical snapshot.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *domain.Notification) error
	GetNotification(ctx context.Context, id string) (*domain.Notification, error)
	ListNotifications(ctx context.Context, subjectID string) ([]*domain.Notification, error)
	SetNotificationState(ctx context.Context, id string, state domain.NotificationState) error
}

// StreamCursorStore records the last event id emitted per stream connection.
// Best-effort bookkeeping: it is written on every emit but never consulted
// for replay.
type StreamCursorStore interface {
	RecordCursor(ctx context.Context, subjectID, connectionID, eventID string) error
}

// ChangeFeedStore exposes the durable store's ordered mutation log to the
// bridge. Leases give partition-level mutual exclusion; checkpoints make
// delivery at-least-once across restarts, never exactly-once.
type ChangeFeedStore interface {
	// AcquireLease takes or renews the partition lease for owner. When the
	// lease is held by someone else and not yet expired, acquired is false.
	// checkpoint is the last committed sequence for the partition.
	AcquireLease(ctx context.Context, partition int, owner string, ttl time.Duration) (acquired bool, checkpoint int64, err error)
	ReadBatch(ctx context.Context, partition int, afterSeq int64, limit int) ([]*domain.Change, error)
	// Checkpoint commits seq for the partition, only while owner still holds
	// the lease.
	Checkpoint(ctx context.Context, partition int, owner string, seq int64) error
}

// Store aggregates every persistence concern. main constructs one Store and
// hands the narrow interfaces to each component.
type Store interface {
	JobStore
	StageResultStore
	NotificationStore
	StreamCursorStore
	ChangeFeedStore
}

// PartitionFor maps a subject id onto a change-feed partition. Writers and
// the bridge must agree on this mapping, so it lives here rather than in
// either of them.
func PartitionFor(subjectID string, partitions int) int {
	if partitions <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(subjectID))
	return int(h.Sum32() % uint32(partitions))
}
