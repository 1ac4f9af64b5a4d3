package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CyclesRun = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cartpulse_features_cycles_total",
			Help: "Total number of aggregation cycles run",
		},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cartpulse_features_cycle_duration_seconds",
			Help:    "Duration of full aggregation cycles in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900},
		},
	)

	EntitiesAggregated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cartpulse_features_entities_aggregated_total",
			Help: "Total number of entity vectors computed and stored",
		},
	)

	EntitiesFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cartpulse_features_entities_failed_total",
			Help: "Total number of entities whose vector could not be stored",
		},
	)

	AggregateErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cartpulse_features_aggregate_errors_total",
			Help: "Total number of aggregate queries that fell back to neutral values",
		},
	)
)
