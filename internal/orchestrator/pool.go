package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/giftflow/wishlist-pipeline/internal/domain"
	"github.com/giftflow/wishlist-pipeline/internal/queue"
	"github.com/giftflow/wishlist-pipeline/internal/repository"
)

// PoolHooks are metric callbacks for the execution workers.
type PoolHooks struct {
	OnExecution func(trigger queue.Trigger, err error, duration time.Duration)
}

// Executor runs the stage pipeline for one job. *pipeline.Pipeline is the
// production implementation.
type Executor interface {
	Execute(ctx context.Context, job *domain.Job) error
}

// Pool runs the pipeline executions scheduled by the Orchestrator. Workers
// block on the queue, load the authoritative job record, run the stages, and
// close out the flight so coalesced waiters observe completion.
type Pool struct {
	orch     *Orchestrator
	queue    *queue.ExecutionQueue
	jobs     repository.JobStore
	pipeline Executor
	workers  int
	logger   *zap.Logger
	hooks    PoolHooks
	wg       sync.WaitGroup
}

func NewPool(orch *Orchestrator, q *queue.ExecutionQueue, jobs repository.JobStore, exec Executor, workers int, logger *zap.Logger, hooks PoolHooks) *Pool {
	if workers < 1 {
		workers = 1
	}
	if hooks.OnExecution == nil {
		hooks.OnExecution = func(queue.Trigger, error, time.Duration) {}
	}
	return &Pool{
		orch:     orch,
		queue:    q,
		jobs:     jobs,
		pipeline: exec,
		workers:  workers,
		logger:   logger,
		hooks:    hooks,
	}
}

// Start launches the workers. They exit when ctx is cancelled; call Wait to
// block until the last in-progress execution has finished.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("execution pool started", zap.Int("workers", p.workers))
}

// Wait blocks until every worker has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
	p.logger.Info("execution pool drained")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		item, ok := p.queue.Dequeue(ctx)
		if !ok {
			p.logger.Debug("worker stopping", zap.Int("worker_id", id))
			return
		}
		p.execute(ctx, item)
	}
}

func (p *Pool) execute(ctx context.Context, item queue.Item) {
	start := time.Now()

	job, err := p.jobs.GetJob(ctx, item.JobKey)
	if err != nil {
		p.logger.Error("dequeued job not loadable",
			zap.String("job_key", item.JobKey),
			zap.Error(err),
		)
		p.orch.flights.finish(item.JobKey, err)
		p.hooks.OnExecution(item.Trigger, err, time.Since(start))
		return
	}

	err = p.pipeline.Execute(ctx, job)
	if err != nil {
		p.logger.Error("pipeline execution failed",
			zap.String("job_key", item.JobKey),
			zap.String("subject_id", item.SubjectID),
			zap.String("trigger", string(item.Trigger)),
			zap.Error(err),
		)
	} else {
		p.logger.Info("pipeline execution finished",
			zap.String("job_key", item.JobKey),
			zap.String("subject_id", item.SubjectID),
			zap.String("trigger", string(item.Trigger)),
			zap.Duration("duration", time.Since(start)),
		)
	}

	p.orch.flights.finish(item.JobKey, err)
	p.hooks.OnExecution(item.Trigger, err, time.Since(start))
}
