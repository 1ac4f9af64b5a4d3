// Package messaging defines standard subject names for the CartPulse bus.
package messaging

// Subject constants for the CartPulse event bus.
// Follow the pattern: {domain}.{source}.
const (
	// Business event subjects - published by the ingest API, one per
	// datablock routing target. The materializer consumes all of them.
	SubjectEventsCart  = "events.cart"  // Cart actions (add, remove, checkout)
	SubjectEventsWeb   = "events.web"   // Page views and browsing activity
	SubjectEventsOrder = "events.order" // Order lifecycle events

	// SubjectEventsAll matches every business event subject.
	SubjectEventsAll = "events.>"

	// Dead-letter subjects - published by the materializer. Append the
	// failure reason, e.g. dlq.events.validation. Never part of the
	// materializer's own subscription (feedback-loop guard).
	SubjectDLQPrefix = "dlq.events"
	SubjectDLQAll    = "dlq.events.>"
)

// Queue/consumer group names.
const (
	// ConsumerGroupMaterializer is the durable consumer group shared by
	// materializer instances; members own disjoint subsets of the stream.
	ConsumerGroupMaterializer = "materializer-workers"
)

// DLQSubject returns the dead-letter subject for a failure reason.
// Example: dlq.events.validation
func DLQSubject(reason string) string {
	return SubjectDLQPrefix + "." + reason
}
