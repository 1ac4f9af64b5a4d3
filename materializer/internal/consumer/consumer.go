// Package consumer runs the materializer's consumption loop: pull one
// message at a time from the durable consumer, validate, buffer, and
// flush batches into the event store with ack-after-flush semantics.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cartpulse/cartpulse-stack/common/config"
	"github.com/cartpulse/cartpulse-stack/common/logging"
	"github.com/cartpulse/cartpulse-stack/common/messaging"
	"github.com/cartpulse/cartpulse-stack/common/models"
	"github.com/cartpulse/cartpulse-stack/materializer/internal/batch"
	"github.com/cartpulse/cartpulse-stack/materializer/internal/dlq"
	"github.com/cartpulse/cartpulse-stack/materializer/internal/metrics"
)

// State is the consumer lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Reader pulls the next delivery from the durable consumer.
type Reader interface {
	Next(maxWait time.Duration) (messaging.Delivery, error)
}

// EventWriter persists a batch of events.
type EventWriter interface {
	BulkInsertEvents(ctx context.Context, events []models.RawEvent) error
}

// DeadLetterer preserves an unprocessable message.
type DeadLetterer interface {
	Write(ctx context.Context, msg *messaging.Message, cause error, reason string) error
}

// Stats is a snapshot of consumer counters for the stats endpoint.
type Stats struct {
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Received      uint64 `json:"received"`
	Processed     uint64 `json:"processed"`
	Failed        uint64 `json:"failed"`
	DeadLettered  uint64 `json:"dead_lettered"`
	PendingBatch  int    `json:"pending_batch"`
	Flushes       uint64 `json:"flushes"`
}

// Consumer owns the single consumption loop. One Consumer per process;
// horizontal scale comes from running more processes in the same
// durable consumer group.
type Consumer struct {
	reader Reader
	store  EventWriter
	dlq    DeadLetterer
	cfg    config.MaterializerConfig
	logger *logging.Logger

	buffer    *batch.Buffer
	state     atomic.Int32
	startedAt time.Time

	received     atomic.Uint64
	processed    atomic.Uint64
	failed       atomic.Uint64
	deadLettered atomic.Uint64
	flushes      atomic.Uint64

	pendingMu sync.Mutex
	pending   int

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a consumer. Start must be called to begin consumption.
func New(reader Reader, store EventWriter, deadLetter DeadLetterer, cfg config.MaterializerConfig, logger *logging.Logger) *Consumer {
	return &Consumer{
		reader: reader,
		store:  store,
		dlq:    deadLetter,
		cfg:    cfg,
		logger: logger,
		buffer: batch.New(cfg.BatchSize, cfg.BatchTimeout),
	}
}

// Start launches the consumption loop. Returns an error if the consumer
// is not stopped.
func (c *Consumer) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return errors.New("consumer is not stopped")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.startedAt = time.Now()

	go c.run(runCtx)
	return nil
}

// Stop requests shutdown and waits for the loop to drain and exit.
func (c *Consumer) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

// Stats returns a snapshot of the consumer counters.
func (c *Consumer) Stats() Stats {
	c.pendingMu.Lock()
	pending := c.pending
	c.pendingMu.Unlock()

	var uptime int64
	if !c.startedAt.IsZero() {
		uptime = int64(time.Since(c.startedAt).Seconds())
	}

	return Stats{
		State:         c.State().String(),
		UptimeSeconds: uptime,
		Received:      c.received.Load(),
		Processed:     c.processed.Load(),
		Failed:        c.failed.Load(),
		DeadLettered:  c.deadLettered.Load(),
		PendingBatch:  pending,
		Flushes:       c.flushes.Load(),
	}
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)

	c.state.Store(int32(StateRunning))
	c.logger.Info("consumer started",
		"consumer_group", c.cfg.ConsumerGroup,
		"batch_size", c.cfg.BatchSize,
		"batch_timeout", c.cfg.BatchTimeout.String())

	for {
		select {
		case <-ctx.Done():
			c.state.Store(int32(StateStopping))
			c.drain()
			c.state.Store(int32(StateStopped))
			c.logger.Info("consumer stopped")
			return
		default:
		}

		delivery, err := c.reader.Next(c.cfg.FetchMaxWait)
		if err != nil {
			if errors.Is(err, messaging.ErrNoMessage) {
				// Idle tick: the fetch timeout doubles as the
				// batch-timeout poll for low-traffic streams.
				c.maybeFlush(ctx)
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("fetch failed", "error", err.Error())
			time.Sleep(time.Second)
			continue
		}

		c.received.Add(1)
		metrics.EventsReceived.Inc()
		c.process(ctx, delivery)
		c.maybeFlush(ctx)
	}
}

// process validates one delivery. Malformed messages are dead-lettered
// and terminated without touching the batch; valid ones are buffered
// unacked until their batch flushes.
func (c *Consumer) process(ctx context.Context, delivery messaging.Delivery) {
	msg := delivery.Message()

	var envelope models.EventEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.deadLetter(ctx, msg, err, dlq.ReasonDecode)
		c.terminate(delivery)
		return
	}

	if err := envelope.Validate(); err != nil {
		c.deadLetter(ctx, msg, err, dlq.ReasonValidation)
		c.terminate(delivery)
		return
	}

	eventTime := envelope.EventTimestamp
	if eventTime.IsZero() {
		eventTime = msg.Timestamp
	}

	c.buffer.Append(batch.Entry{
		Event: models.RawEvent{
			EventID:         envelope.EventID,
			TenantID:        envelope.TenantID,
			EntityID:        envelope.EntityID,
			EventType:       envelope.EventType,
			SourceTopic:     msg.Subject,
			Payload:         envelope.Payload,
			EventTimestamp:  eventTime,
			IngestPartition: msg.Stream,
			IngestOffset:    msg.StreamSequence,
		},
		Delivery: delivery,
	})
	c.setPending(c.buffer.Len())
}

func (c *Consumer) maybeFlush(ctx context.Context) {
	if c.buffer.ShouldFlush(time.Now()) {
		c.flush(ctx)
	}
}

// flush persists the buffered batch. Success acks every message in it;
// a storage failure dead-letters the whole batch and acks anyway, so the
// events are preserved exactly once in the DLQ instead of redelivering
// forever against a broken store.
func (c *Consumer) flush(ctx context.Context) {
	entries := c.buffer.Swap()
	c.setPending(0)
	if len(entries) == 0 {
		return
	}

	events := make([]models.RawEvent, len(entries))
	for i, e := range entries {
		events[i] = e.Event
	}

	start := time.Now()
	err := c.store.BulkInsertEvents(ctx, events)
	metrics.FlushDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		c.logger.Error("batch flush failed, dead-lettering batch",
			"batch_size", len(entries),
			"error", err.Error())
		for _, e := range entries {
			c.deadLetter(ctx, e.Delivery.Message(), err, dlq.ReasonStorage)
			c.terminate(e.Delivery)
		}
		return
	}

	for _, e := range entries {
		if ackErr := e.Delivery.Ack(); ackErr != nil {
			// Redelivery will produce a duplicate document, which
			// readers tolerate.
			c.logger.Warn("ack failed", "error", ackErr.Error())
		}
	}

	c.processed.Add(uint64(len(entries)))
	c.flushes.Add(1)
	metrics.EventsProcessed.Add(float64(len(entries)))
	metrics.BatchFlushes.Inc()
	metrics.BatchSize.Observe(float64(len(entries)))

	c.logger.Debug("batch flushed", "batch_size", len(entries))
}

// drain flushes whatever is buffered before shutdown. Uses a fresh
// context: the loop context is already cancelled.
func (c *Consumer) drain() {
	if c.buffer.Len() == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.logger.Info("draining batch before shutdown", "pending", c.buffer.Len())
	c.flush(ctx)
}

func (c *Consumer) deadLetter(ctx context.Context, msg *messaging.Message, cause error, reason string) {
	c.failed.Add(1)
	metrics.EventsFailed.Inc()

	if err := c.dlq.Write(ctx, msg, cause, reason); err != nil {
		// Dead-letter sink failures are logged and dropped; the pipeline
		// keeps moving.
		c.logger.Error("dead-letter write failed",
			"reason", reason,
			"error", err.Error())
		return
	}
	c.deadLettered.Add(1)
	metrics.EventsDeadLettered.WithLabelValues(reason).Inc()
}

func (c *Consumer) terminate(delivery messaging.Delivery) {
	if err := delivery.Term(); err != nil {
		c.logger.Warn("terminate failed", "error", err.Error())
	}
}

func (c *Consumer) setPending(n int) {
	c.pendingMu.Lock()
	c.pending = n
	c.pendingMu.Unlock()
	metrics.PendingBatch.Set(float64(n))
}
