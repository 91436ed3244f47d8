package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/giftflow/wishlist-pipeline/internal/broker"
	"github.com/giftflow/wishlist-pipeline/internal/domain"
	"github.com/giftflow/wishlist-pipeline/internal/idempotency"
	"github.com/giftflow/wishlist-pipeline/internal/queue"
	"github.com/giftflow/wishlist-pipeline/internal/repository"
)

// Hooks are metric callbacks invoked by the trigger paths and workers.
// Any nil hook is replaced with a no-op.
type Hooks struct {
	OnAccepted  func(trigger queue.Trigger, created bool)
	OnCoalesced func(trigger queue.Trigger)
	OnPublished func(origin domain.Origin)
}

// Orchestrator owns job admission: it derives the idempotency key, performs
// the atomic insert-if-absent, decides whether to republish to the broker,
// and schedules pipeline execution on the bounded queue.
type Orchestrator struct {
	jobs      repository.JobStore
	publisher broker.Publisher
	queue     *queue.ExecutionQueue
	flights   *flights
	logger    *zap.Logger
	hooks     Hooks
}

func New(jobs repository.JobStore, publisher broker.Publisher, q *queue.ExecutionQueue, logger *zap.Logger, hooks Hooks) *Orchestrator {
	if hooks.OnAccepted == nil {
		hooks.OnAccepted = func(queue.Trigger, bool) {}
	}
	if hooks.OnCoalesced == nil {
		hooks.OnCoalesced = func(queue.Trigger) {}
	}
	if hooks.OnPublished == nil {
		hooks.OnPublished = func(domain.Origin) {}
	}
	return &Orchestrator{
		jobs:      jobs,
		publisher: publisher,
		queue:     q,
		flights:   newFlights(),
		logger:    logger,
		hooks:     hooks,
	}
}

// Result reports what admission did with a submission.
type Result struct {
	Job     *domain.Job
	Created bool
	// Flight is non-nil when an execution is queued or running for this
	// job, whether this call started it or coalesced onto an earlier one.
	Flight *Flight
}

// EnsureJob resolves the idempotency key for the submission and performs
// the insert-if-absent. A client-supplied key wins; otherwise the key is
// derived from the payload content. On first sight the job and its
// ingestion record are persisted together; a duplicate returns the stored
// job with created=false and writes nothing.
func (o *Orchestrator) EnsureJob(ctx context.Context, sub *domain.Submission) (*domain.Job, bool, error) {
	if err := sub.Validate(); err != nil {
		return nil, false, err
	}

	key := sub.IdempotencyKey
	if key == "" {
		key = idempotency.Derive(sub.SubjectID, sub.Payload)
	}
	now := time.Now().UTC()

	job := &domain.Job{
		Key:           key,
		SubjectID:     sub.SubjectID,
		Type:          sub.Type,
		SchemaVersion: sub.SchemaVersion,
		CorrelationID: sub.CorrelationID,
		Status:        domain.JobQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	rec := &domain.IngestionRecord{
		ID:             uuid.New().String(),
		SubjectID:      sub.SubjectID,
		EventType:      sub.Type,
		OccurredAt:     now,
		CorrelationID:  sub.CorrelationID,
		SchemaVersion:  sub.SchemaVersion,
		IdempotencyKey: key,
		CreatedAt:      now,
	}

	created, existing, err := o.jobs.CreateIfAbsent(ctx, job, rec)
	if err != nil {
		return nil, false, fmt.Errorf("ensure job: %w", err)
	}
	if !created {
		return existing, false, nil
	}
	return job, true, nil
}

// TriggerFast is the synchronous ingress path. origin is taken from the
// request's origin marker header; submissions the system itself produced
// (pipeline or change-feed republication) are still deduplicated but are
// never forwarded to the broker again, which breaks the reactive feedback
// loop.
func (o *Orchestrator) TriggerFast(ctx context.Context, sub *domain.Submission, origin domain.Origin) (*Result, error) {
	job, created, err := o.EnsureJob(ctx, sub)
	if err != nil {
		return nil, err
	}

	if created && origin == domain.OriginClient {
		o.publish(ctx, sub, job, origin)
	}

	return o.schedule(job, created, queue.TriggerFast)
}

// TriggerReactive is the continuous-query engine's callback path. It never
// republishes: the event that reached the engine already passed through the
// broker once.
func (o *Orchestrator) TriggerReactive(ctx context.Context, sub *domain.Submission) (*Result, error) {
	job, created, err := o.EnsureJob(ctx, sub)
	if err != nil {
		return nil, err
	}
	return o.schedule(job, created, queue.TriggerReactive)
}

// Redeliver re-runs a job that is still queued, typically after a change-feed
// redelivery observed it without a matching execution. Terminal jobs are left
// alone.
func (o *Orchestrator) Redeliver(ctx context.Context, jobKey string) error {
	job, err := o.jobs.GetJob(ctx, jobKey)
	if err != nil {
		return err
	}
	if job.Status != domain.JobQueued {
		return nil
	}
	_, err = o.schedule(job, false, queue.TriggerRedelivery)
	return err
}

// schedule places the job on the execution queue unless an execution for its
// key is already in flight, in which case the caller coalesces onto it.
func (o *Orchestrator) schedule(job *domain.Job, created bool, trigger queue.Trigger) (*Result, error) {
	flight, started := o.flights.begin(job.Key)
	if !started {
		o.hooks.OnCoalesced(trigger)
		o.logger.Debug("trigger coalesced onto in-flight execution",
			zap.String("job_key", job.Key),
			zap.String("trigger", string(trigger)),
		)
		return &Result{Job: job, Created: created, Flight: flight}, nil
	}

	if !created && trigger != queue.TriggerRedelivery && job.Status.Terminal() {
		// A duplicate of a finished job is a pure no-op read.
		o.flights.finish(job.Key, nil)
		o.hooks.OnAccepted(trigger, false)
		return &Result{Job: job, Created: false}, nil
	}

	item := queue.Item{JobKey: job.Key, SubjectID: job.SubjectID, Trigger: trigger}
	if err := o.queue.Enqueue(item); err != nil {
		o.flights.finish(job.Key, err)
		return nil, err
	}

	o.hooks.OnAccepted(trigger, created)
	return &Result{Job: job, Created: created, Flight: flight}, nil
}

// publish forwards the accepted submission to the broker. The job is already
// durable at this point, so a broker outage degrades the reactive path but
// must not fail the ingress.
func (o *Orchestrator) publish(ctx context.Context, sub *domain.Submission, job *domain.Job, origin domain.Origin) {
	event := domain.BrokerEvent{
		SubjectID:     sub.SubjectID,
		Type:          string(sub.Type),
		Origin:        origin,
		CorrelationID: sub.CorrelationID,
		SchemaVersion: sub.SchemaVersion,
		OccurredAt:    job.CreatedAt,
		Payload:       sub.Payload,
	}
	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.Warn("broker publish failed, reactive path degraded",
			zap.String("job_key", job.Key),
			zap.String("subject_id", sub.SubjectID),
			zap.Error(err),
		)
		return
	}
	o.hooks.OnPublished(origin)
}

// GetJob loads the stored job for a key.
func (o *Orchestrator) GetJob(ctx context.Context, key string) (*domain.Job, error) {
	return o.jobs.GetJob(ctx, key)
}

// InFlight reports how many executions are currently queued or running.
func (o *Orchestrator) InFlight() int {
	return o.flights.inFlight()
}
