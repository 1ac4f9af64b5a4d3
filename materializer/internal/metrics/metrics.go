package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Consumption metrics
	EventsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cartpulse_materializer_events_received_total",
			Help: "Total number of messages received from the event bus",
		},
	)

	EventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cartpulse_materializer_events_processed_total",
			Help: "Total number of events persisted to the event store",
		},
	)

	EventsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cartpulse_materializer_events_failed_total",
			Help: "Total number of events that failed processing",
		},
	)

	EventsDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartpulse_materializer_events_dead_lettered_total",
			Help: "Total number of events written to the dead-letter stream",
		},
		[]string{"reason"},
	)

	// Batch metrics
	BatchFlushes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cartpulse_materializer_batch_flushes_total",
			Help: "Total number of batch flushes to the event store",
		},
	)

	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cartpulse_materializer_batch_size",
			Help:    "Number of events per flushed batch",
			Buckets: []float64{1, 10, 25, 50, 100, 250, 500},
		},
	)

	PendingBatch = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cartpulse_materializer_pending_batch",
			Help: "Number of events buffered awaiting flush",
		},
	)

	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cartpulse_materializer_flush_duration_seconds",
			Help:    "Duration of bulk inserts into the event store",
			Buckets: prometheus.DefBuckets,
		},
	)
)
