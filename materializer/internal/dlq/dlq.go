// Package dlq writes unprocessable messages to the dead-letter stream.
// Dead-lettered messages are preserved for inspection and manual replay;
// nothing in this process ever re-consumes them.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/cartpulse/cartpulse-stack/common/logging"
	"github.com/cartpulse/cartpulse-stack/common/messaging"
	"github.com/cartpulse/cartpulse-stack/common/messaging/nats"
	"github.com/cartpulse/cartpulse-stack/common/models"
)

// Failure reasons used as the dead-letter subject suffix.
const (
	ReasonDecode     = "decode"
	ReasonValidation = "validation"
	ReasonStorage    = "storage"
)

// Writer publishes dead-letter entries to the EVENTS_DLQ JetStream
// stream. Safe for use across multiple materializer instances.
type Writer struct {
	js            *nats.JetStreamClient
	stream        jetstream.Stream
	consumerGroup string
	written       atomic.Uint64
	logger        *logging.Logger
}

// NewWriter creates the writer and ensures the dead-letter stream exists.
func NewWriter(ctx context.Context, js *nats.JetStreamClient, consumerGroup string, logger *logging.Logger) (*Writer, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}

	stream, err := js.CreateOrUpdateStream(ctx, nats.EventsDLQStream)
	if err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}

	logger.Info("dead-letter stream ready", "stream", nats.EventsDLQStream.Name)

	return &Writer{
		js:            js,
		stream:        stream,
		consumerGroup: consumerGroup,
		logger:        logger,
	}, nil
}

// Write publishes one failed message to dlq.events.<reason>. The
// original bytes are always preserved; the decoded form is attached
// best-effort so operators can read entries without a second decode.
func (w *Writer) Write(ctx context.Context, msg *messaging.Message, cause error, reason string) error {
	entry := models.DeadLetterEvent{
		OriginalRaw:   msg.Data,
		ErrorReason:   cause.Error(),
		SourceTopic:   msg.Subject,
		FailedAt:      time.Now().Unix(),
		ConsumerGroup: w.consumerGroup,
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(msg.Data, &decoded); err == nil {
		entry.OriginalEvent = decoded
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	if _, err := w.js.PublishSync(ctx, messaging.DLQSubject(reason), data); err != nil {
		return fmt.Errorf("publish dlq entry: %w", err)
	}

	w.written.Add(1)
	w.logger.Warn("dead-lettered message",
		"reason", reason,
		"source_topic", msg.Subject,
		"error", cause.Error())
	return nil
}

// Stats returns dead-letter stream metrics for the stats endpoint.
func (w *Writer) Stats(ctx context.Context) map[string]interface{} {
	info, err := w.stream.Info(ctx)
	if err != nil {
		return map[string]interface{}{
			"written_local": w.written.Load(),
			"error":         err.Error(),
		}
	}

	return map[string]interface{}{
		"written_local":  w.written.Load(),
		"total_messages": info.State.Msgs,
		"total_bytes":    info.State.Bytes,
		"first_seq":      info.State.FirstSeq,
		"last_seq":       info.State.LastSeq,
	}
}
