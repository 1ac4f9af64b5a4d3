package models

import "time"

// RawEvent is the immutable, append-only record written to the event
// store by the materializer. Duplicate event IDs are possible under
// at-least-once delivery; readers deduplicate, the store does not.
type RawEvent struct {
	EventID         string                 `json:"event_id"`
	TenantID        string                 `json:"tenant_id"`
	EntityID        string                 `json:"entity_id"`
	EventType       string                 `json:"event_type"`
	SourceTopic     string                 `json:"source_topic"`
	Payload         map[string]interface{} `json:"payload,omitempty"`
	EventTimestamp  time.Time              `json:"event_timestamp"`
	IngestPartition string                 `json:"ingest_partition"`
	IngestOffset    uint64                 `json:"ingest_offset"`
}

// DeadLetterEvent preserves a message the materializer could not process,
// for manual inspection and replay. Never retried automatically.
type DeadLetterEvent struct {
	OriginalEvent map[string]interface{} `json:"original_event,omitempty"`
	OriginalRaw   []byte                 `json:"original_raw,omitempty"`
	ErrorReason   string                 `json:"error_reason"`
	SourceTopic   string                 `json:"source_topic"`
	FailedAt      int64                  `json:"failed_at"`
	ConsumerGroup string                 `json:"consumer_group"`
}
