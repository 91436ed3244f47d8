package domain

import (
	"encoding/json"
	"time"
)

// Origin tags where an event entered the system. Events re-published by the
// pipeline or the change-feed bridge carry a non-client origin so the ingress
// handler can break the reactive feedback loop.
type Origin string

const (
	OriginClient     Origin = "client"
	OriginReactive   Origin = "reactive"
	OriginPipeline   Origin = "pipeline"
	OriginChangeFeed Origin = "changefeed"
)

// BroadcastEvent lives only on the in-memory fan-out channel. It is never
// persisted; each subscriber consumes its own copy at most once.
type BroadcastEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// BrokerEvent is the normalized envelope forwarded to the external event
// broker (and, through it, to the continuous-query engine).
type BrokerEvent struct {
	SubjectID     string          `json:"subject_id"`
	Type          string          `json:"type"`
	Origin        Origin          `json:"origin"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	SchemaVersion string          `json:"schema_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// ChangeDocType identifies which store entity a change-log row describes.
type ChangeDocType string

const (
	ChangeDocJob          ChangeDocType = "job"
	ChangeDocIngestion    ChangeDocType = "ingestion"
	ChangeDocStageResult  ChangeDocType = "stage_result"
	ChangeDocNotification ChangeDocType = "notification"
)

// Change is one row of the durable store's ordered mutation log.
// Delivery to the bridge is at-least-once; Seq orders rows within a partition.
type Change struct {
	Seq       int64           `json:"seq"`
	Partition int             `json:"partition"`
	SubjectID string          `json:"subject_id"`
	DocType   ChangeDocType   `json:"doc_type"`
	DocID     string          `json:"doc_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
