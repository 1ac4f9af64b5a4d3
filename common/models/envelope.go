package models

import (
	"fmt"
	"strings"
	"time"
)

// EventEnvelope is the wire contract published by the ingest API to the
// event bus. The payload is an open schema; only the envelope fields are
// validated strictly.
type EventEnvelope struct {
	EventID        string                 `json:"event_id"`
	EventType      string                 `json:"event_type"`
	EntityID       string                 `json:"entity_id"`
	TenantID       string                 `json:"tenant_id"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	EventTimestamp time.Time              `json:"event_timestamp"`
}

// Validate checks the required envelope fields. It reports every missing
// field in one error so the dead-letter reason is complete.
func (e *EventEnvelope) Validate() error {
	var missing []string
	if e.TenantID == "" {
		missing = append(missing, "tenant_id")
	}
	if e.EntityID == "" {
		missing = append(missing, "entity_id")
	}
	if e.EventType == "" {
		missing = append(missing, "event_type")
	}
	if e.EventID == "" {
		missing = append(missing, "event_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required envelope fields: %s", strings.Join(missing, ", "))
	}
	return nil
}
