package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/giftflow/wishlist-pipeline/internal/changefeed"
	"github.com/giftflow/wishlist-pipeline/internal/domain"
	"github.com/giftflow/wishlist-pipeline/internal/orchestrator"
	"github.com/giftflow/wishlist-pipeline/internal/pipeline"
	"github.com/giftflow/wishlist-pipeline/internal/queue"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	JobsAccepted     *prometheus.CounterVec
	JobsCoalesced    *prometheus.CounterVec
	EventsPublished  *prometheus.CounterVec
	ExecutionSeconds *prometheus.HistogramVec
	StageSeconds     *prometheus.HistogramVec
	StageFallbacks   *prometheus.CounterVec
	BroadcastDrops   prometheus.Counter
	FeedDelivered    *prometheus.CounterVec
	FeedSkipped      *prometheus.CounterVec
	QueueDepthFast   prometheus.Gauge
	QueueDepthOther  prometheus.Gauge
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_accepted_total",
			Help: "Submissions admitted, labelled by trigger path and whether a new job was created.",
		}, []string{"trigger", "created"}),

		JobsCoalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_coalesced_total",
			Help: "Triggers that attached to an already in-flight execution.",
		}, []string{"trigger"}),

		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_events_published_total",
			Help: "Events forwarded to the broker, labelled by origin.",
		}, []string{"origin"}),

		ExecutionSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_execution_seconds",
			Help:    "Wall time of a full pipeline execution from dequeue to terminal status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"trigger", "outcome"}),

		StageSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_stage_seconds",
			Help:    "Latency of a single pipeline stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),

		StageFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_stage_fallbacks_total",
			Help: "Stages that substituted their deterministic fallback payload.",
		}, []string{"stage"}),

		BroadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broadcast_events_dropped_total",
			Help: "Live events dropped because a subscriber's buffer was full.",
		}),

		FeedDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "changefeed_changes_delivered_total",
			Help: "Change-log rows forwarded to the broker and broadcaster.",
		}, []string{"partition"}),

		FeedSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "changefeed_changes_skipped_total",
			Help: "Change-log rows skipped after a forwarding failure.",
		}, []string{"partition"}),

		QueueDepthFast: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "execution_queue_depth_fast",
			Help: "Current number of items in the fast-path tier.",
		}),
		QueueDepthOther: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "execution_queue_depth_other",
			Help: "Current number of items across the reactive and redelivery tiers.",
		}),
	}

	reg.MustRegister(
		m.JobsAccepted,
		m.JobsCoalesced,
		m.EventsPublished,
		m.ExecutionSeconds,
		m.StageSeconds,
		m.StageFallbacks,
		m.BroadcastDrops,
		m.FeedDelivered,
		m.FeedSkipped,
		m.QueueDepthFast,
		m.QueueDepthOther,
	)

	return m
}

// OrchestratorHooks returns the callbacks expected by orchestrator.Hooks.
// Centralises the prometheus observation calls so the orchestrator stays
// import-free.
func (m *Metrics) OrchestratorHooks() orchestrator.Hooks {
	return orchestrator.Hooks{
		OnAccepted: func(trigger queue.Trigger, created bool) {
			label := "false"
			if created {
				label = "true"
			}
			m.JobsAccepted.WithLabelValues(string(trigger), label).Inc()
		},
		OnCoalesced: func(trigger queue.Trigger) {
			m.JobsCoalesced.WithLabelValues(string(trigger)).Inc()
		},
		OnPublished: func(origin domain.Origin) {
			m.EventsPublished.WithLabelValues(string(origin)).Inc()
		},
	}
}

// PoolHooks returns the execution-duration callback for the worker pool.
func (m *Metrics) PoolHooks() orchestrator.PoolHooks {
	return orchestrator.PoolHooks{
		OnExecution: func(trigger queue.Trigger, err error, duration time.Duration) {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			m.ExecutionSeconds.WithLabelValues(string(trigger), outcome).Observe(duration.Seconds())
		},
	}
}

// PipelineHooks returns the per-stage callbacks for the stage harness.
func (m *Metrics) PipelineHooks() pipeline.MetricHooks {
	return pipeline.MetricHooks{
		OnStage: func(stage domain.Stage, fallbackUsed bool, latency time.Duration) {
			m.StageSeconds.WithLabelValues(string(stage)).Observe(latency.Seconds())
			if fallbackUsed {
				m.StageFallbacks.WithLabelValues(string(stage)).Inc()
			}
		},
	}
}

// BridgeHooks returns the per-partition callbacks for the change-feed bridge.
func (m *Metrics) BridgeHooks() changefeed.Hooks {
	return changefeed.Hooks{
		OnDelivered: func(partition int) {
			m.FeedDelivered.WithLabelValues(partitionLabel(partition)).Inc()
		},
		OnSkipped: func(partition int) {
			m.FeedSkipped.WithLabelValues(partitionLabel(partition)).Inc()
		},
	}
}

// OnBroadcastDrop is the drop hook wired into the broadcaster.
func (m *Metrics) OnBroadcastDrop(string) {
	m.BroadcastDrops.Inc()
}

// ObserveQueueDepths samples the execution queue tiers. Called from a small
// ticker loop in main.
func (m *Metrics) ObserveQueueDepths(q *queue.ExecutionQueue) {
	fast, reactive, redelivery := q.Depths()
	m.QueueDepthFast.Set(float64(fast))
	m.QueueDepthOther.Set(float64(reactive + redelivery))
}

func partitionLabel(partition int) string {
	return strconv.Itoa(partition)
}
