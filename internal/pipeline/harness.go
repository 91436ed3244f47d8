package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/giftflow/wishlist-pipeline/internal/broadcast"
	"github.com/giftflow/wishlist-pipeline/internal/domain"
	"github.com/giftflow/wishlist-pipeline/internal/ratelimiter"
	"github.com/giftflow/wishlist-pipeline/internal/repository"
)

// MetricHooks carries the metric callback functions injected by main.
// Using a struct keeps the pipeline constructor signature clean.
type MetricHooks struct {
	OnStage func(stage domain.Stage, fallbackUsed bool, latency time.Duration)
}

// Pipeline runs the four stages for one job: profile enrichment,
// recommendation generation, feasibility assessment, and notification
// aggregation. Every stage persists an append-only StageResult, creates a
// persisted Notification, and publishes a live BroadcastEvent.
type Pipeline struct {
	jobs          repository.JobStore
	results       repository.StageResultStore
	notifications repository.NotificationStore
	gen           Generator
	limiter       *ratelimiter.StageLimiters
	bcast         *broadcast.Broadcaster
	stageTimeout  time.Duration
	logger        *zap.Logger
	hooks         MetricHooks
}

func New(
	jobs repository.JobStore,
	results repository.StageResultStore,
	notifications repository.NotificationStore,
	gen Generator,
	limiter *ratelimiter.StageLimiters,
	bcast *broadcast.Broadcaster,
	stageTimeout time.Duration,
	logger *zap.Logger,
	hooks MetricHooks,
) *Pipeline {
	if hooks.OnStage == nil {
		hooks.OnStage = func(domain.Stage, bool, time.Duration) {}
	}
	return &Pipeline{
		jobs:          jobs,
		results:       results,
		notifications: notifications,
		gen:           gen,
		limiter:       limiter,
		bcast:         bcast,
		stageTimeout:  stageTimeout,
		logger:        logger,
		hooks:         hooks,
	}
}

// stageFunc produces the payload for one stage. It runs under the stage
// timeout and may call the generator any number of times.
type stageFunc func(ctx context.Context, job *domain.Job) (json.RawMessage, error)

// runStage executes fn under the stage timeout and applies the fallback
// policy:
//
//   - caller cancellation propagates: no fallback is substituted and the
//     error is returned;
//   - a stage timeout or generator failure is swallowed and the
//     deterministic fallback payload is used, with fallbackUsed=true.
func (p *Pipeline) runStage(ctx context.Context, stage domain.Stage, job *domain.Job, fn stageFunc, fallback json.RawMessage) (json.RawMessage, bool, error) {
	stageCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()

	payload, err := fn(stageCtx, job)
	if err == nil {
		return payload, false, nil
	}

	// Distinguish the caller giving up from the stage running out of time:
	// only the stage's own deadline earns a fallback.
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}

	p.logger.Warn("stage degraded to fallback",
		zap.String("stage", string(stage)),
		zap.String("job_key", job.Key),
		zap.Error(err),
	)
	return fallback, true, nil
}

// record persists the stage outcome, creates the matching notification, and
// publishes the live event. Store errors here fail the stage for real: a
// result we could not persist must not be announced.
func (p *Pipeline) record(ctx context.Context, job *domain.Job, stage domain.Stage, payload json.RawMessage, fallbackUsed bool) error {
	now := time.Now().UTC()

	res := &domain.StageResult{
		ID:           uuid.New().String(),
		SubjectID:    job.SubjectID,
		JobKey:       job.Key,
		Stage:        stage,
		FallbackUsed: fallbackUsed,
		Payload:      payload,
		CreatedAt:    now,
	}
	if err := p.results.AppendStageResult(ctx, res); err != nil {
		return err
	}

	n := &domain.Notification{
		ID:        uuid.New().String(),
		SubjectID: job.SubjectID,
		Type:      string(stage),
		Message:   stageMessage(stage, fallbackUsed),
		RelatedID: &res.ID,
		State:     domain.NotificationNew,
		CreatedAt: now,
	}
	if err := p.notifications.CreateNotification(ctx, n); err != nil {
		return err
	}

	event, err := json.Marshal(res)
	if err != nil {
		return err
	}
	p.bcast.Publish(job.SubjectID, string(stage), event)
	return nil
}

// Execute runs all stages in order, moving the job through
// queued -> running -> succeeded/failed. A degraded stage (fallback used)
// still counts as success; only cancellation or store failures fail the job.
func (p *Pipeline) Execute(ctx context.Context, job *domain.Job) error {
	if err := p.jobs.IncrementAttempts(ctx, job.Key); err != nil {
		p.logger.Warn("failed to bump attempt counter",
			zap.String("job_key", job.Key), zap.Error(err))
	}
	if err := p.jobs.SetJobStatus(ctx, job.Key, domain.JobRunning, nil); err != nil {
		return err
	}

	stages := []struct {
		stage    domain.Stage
		fn       stageFunc
		fallback json.RawMessage
	}{
		{domain.StageProfile, p.profileStage, profileFallback},
		{domain.StageRecommendation, p.recommendationStage, recommendationFallback()},
		{domain.StageFeasibility, p.feasibilityStage, feasibilityFallback},
		{domain.StageNotify, p.notifyStage, notifyFallback},
	}

	for _, s := range stages {
		start := time.Now()
		payload, fallbackUsed, err := p.runStage(ctx, s.stage, job, s.fn, s.fallback)
		if err == nil {
			err = p.record(ctx, job, s.stage, payload, fallbackUsed)
		}
		if err != nil {
			msg := err.Error()
			if setErr := p.jobs.SetJobStatus(ctx, job.Key, domain.JobFailed, &msg); setErr != nil {
				p.logger.Error("failed to mark job failed",
					zap.String("job_key", job.Key), zap.Error(setErr))
			}
			return err
		}
		p.hooks.OnStage(s.stage, fallbackUsed, time.Since(start))
	}

	return p.jobs.SetJobStatus(ctx, job.Key, domain.JobSucceeded, nil)
}

func stageMessage(stage domain.Stage, fallbackUsed bool) string {
	var msg string
	switch stage {
	case domain.StageProfile:
		msg = "Profile snapshot updated"
	case domain.StageRecommendation:
		msg = "New gift recommendations are ready"
	case domain.StageFeasibility:
		msg = "Feasibility assessment completed"
	case domain.StageNotify:
		msg = "Wishlist update processed"
	default:
		msg = "Pipeline stage completed"
	}
	if fallbackUsed {
		msg += " (provisional)"
	}
	return msg
}
