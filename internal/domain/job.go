package domain

import "time"

// JobStatus tracks the lifecycle of a pipeline job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status will never change again.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// Job is one pipeline execution record. Its primary key is the
// content-derived idempotency key, so creating the same job twice is a
// natural no-op rather than a second insert.
type Job struct {
	Key           string         `json:"key"`
	SubjectID     string         `json:"subject_id"`
	Type          SubmissionType `json:"type"`
	SchemaVersion string         `json:"schema_version"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Status        JobStatus      `json:"status"`
	Attempts      int            `json:"attempts"`
	Error         *string        `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// IngestionRecord is written exactly once per accepted submission and is
// never updated or deleted afterwards.
type IngestionRecord struct {
	ID             string         `json:"id"`
	SubjectID      string         `json:"subject_id"`
	EventType      SubmissionType `json:"event_type"`
	OccurredAt     time.Time      `json:"occurred_at"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	SchemaVersion  string         `json:"schema_version"`
	IdempotencyKey string         `json:"idempotency_key"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Stage identifies one retryable unit of the pipeline.
type Stage string

const (
	StageProfile        Stage = "profile_snapshot"
	StageRecommendation Stage = "recommendation_set"
	StageFeasibility    Stage = "feasibility_assessment"
	StageNotify         Stage = "notification_summary"
)

// StageResult is append-only: each stage run creates a new result and never
// mutates a prior one, so concurrent executions cannot lose updates.
type StageResult struct {
	ID           string    `json:"id"`
	SubjectID    string    `json:"subject_id"`
	JobKey       string    `json:"job_key"`
	Stage        Stage     `json:"stage"`
	FallbackUsed bool      `json:"fallback_used"`
	Payload      []byte    `json:"payload"`
	CreatedAt    time.Time `json:"created_at"`
}
