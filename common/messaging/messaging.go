// Package messaging provides abstractions for message broker communication.
// It defines interfaces that allow services to publish and consume messages
// without being coupled to a specific broker implementation.
package messaging

import (
	"context"
	"errors"
	"time"
)

// ErrNoMessage is returned by pull readers when no message arrived
// within the requested wait window. Not a failure; callers use the idle
// tick to run time-based work such as batch-timeout flushes.
var ErrNoMessage = errors.New("no message available")

// Message represents a message received from or sent to a message broker.
type Message struct {
	// Subject is the topic the message was published to.
	Subject string

	// Data is the raw message payload.
	Data []byte

	// Metadata contains optional key-value pairs for message headers.
	Metadata map[string]string

	// Timestamp is when the message was published.
	Timestamp time.Time

	// Stream is the durable stream the message was read from, if any.
	Stream string

	// StreamSequence is the message's sequence number within Stream.
	// Zero for core (non-persistent) messages.
	StreamSequence uint64
}

// MessageHandler processes a received message.
// Return an error to indicate processing failure (may trigger redelivery
// depending on the implementation).
type MessageHandler func(ctx context.Context, msg *Message) error

// Subscription represents an active subscription to a subject.
type Subscription interface {
	// Unsubscribe stops receiving messages on this subscription.
	Unsubscribe() error

	// Subject returns the subject this subscription is listening to.
	Subject() string

	// IsValid returns true if the subscription is still active.
	IsValid() bool
}

// Publisher publishes messages to subjects.
type Publisher interface {
	// Publish sends a message to the specified subject, fire-and-forget.
	Publish(ctx context.Context, subject string, data []byte) error

	// PublishMsg sends a Message with full control over headers.
	PublishMsg(ctx context.Context, msg *Message) error

	// Close releases any resources held by the publisher.
	Close() error
}

// Client combines publishing with connection state inspection.
type Client interface {
	Publisher

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Delivery couples a consumed message with its acknowledgment controls.
// Ack marks the message processed; Term tells the broker to never
// redeliver it (used once a message is preserved elsewhere, e.g. in the
// dead-letter stream).
type Delivery interface {
	Message() *Message
	Ack() error
	Term() error
}

