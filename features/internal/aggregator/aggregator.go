// Package aggregator computes per-entity feature vectors from the event
// store and upserts them into the online feature store.
package aggregator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cartpulse/cartpulse-stack/common/config"
	"github.com/cartpulse/cartpulse-stack/common/logging"
	"github.com/cartpulse/cartpulse-stack/common/models"
	"github.com/cartpulse/cartpulse-stack/features/internal/metrics"
)

// Event types the vector is built from.
const (
	EventCartAdd        = "cart.add"
	EventCartCheckout   = "cart.checkout"
	EventOrderCompleted = "order.completed"
	EventPageView       = "web.view"
)

// AmountField is the payload field carrying order revenue.
const AmountField = "amount"

// DaysSinceLastEventSentinel marks an entity with no events at all.
const DaysSinceLastEventSentinel = 999

// EventSource provides the windowed aggregates the vector is built from.
type EventSource interface {
	ActiveTenants(ctx context.Context, since time.Time, size int) ([]string, error)
	ActiveEntities(ctx context.Context, tenant string, since time.Time, size int) ([]string, error)
	DistinctEventCount(ctx context.Context, tenant, entity string, eventTypes []string, from, to time.Time) (float64, error)
	SumPayloadField(ctx context.Context, tenant, entity, eventType, field string, from, to time.Time) (float64, error)
	AvgPayloadField(ctx context.Context, tenant, entity, eventType, field string, from, to time.Time) (float64, error)
	ActiveDayCount(ctx context.Context, tenant, entity string, from, to time.Time) (float64, error)
	LastEventTime(ctx context.Context, tenant, entity string, before time.Time) (time.Time, bool, error)
}

// FeatureSink persists computed vectors.
type FeatureSink interface {
	Put(ctx context.Context, record *models.FeatureRecord) error
}

// CycleStats summarizes one aggregation cycle.
type CycleStats struct {
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
	Tenants         int           `json:"tenants"`
	EntitiesOK      int           `json:"entities_ok"`
	EntitiesFailed  int           `json:"entities_failed"`
	AggregateErrors int           `json:"aggregate_errors"`
}

// Aggregator runs aggregation cycles. One instance per process; the
// scheduler guarantees cycles never overlap.
type Aggregator struct {
	source EventSource
	sink   FeatureSink
	cfg    config.FeaturesConfig
	logger *logging.Logger
	now    func() time.Time

	cyclesRun      atomic.Uint64
	entitiesOK     atomic.Uint64
	entitiesFailed atomic.Uint64
}

// New creates an aggregator.
func New(source EventSource, sink FeatureSink, cfg config.FeaturesConfig, logger *logging.Logger) *Aggregator {
	return &Aggregator{
		source: source,
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// RunCycle discovers active tenants and entities and recomputes every
// vector. Failures are isolated per entity; the cycle always finishes.
func (a *Aggregator) RunCycle(ctx context.Context) CycleStats {
	start := a.now()
	stats := CycleStats{StartedAt: start.UTC()}
	since := start.AddDate(0, 0, -a.cfg.ActiveWindowDays)

	tenants, err := a.source.ActiveTenants(ctx, since, a.cfg.MaxTenants)
	if err != nil {
		a.logger.Error("tenant discovery failed", "error", err.Error())
		stats.Duration = a.now().Sub(start)
		return stats
	}
	stats.Tenants = len(tenants)

	for _, tenant := range tenants {
		if ctx.Err() != nil {
			break
		}
		entities, err := a.source.ActiveEntities(ctx, tenant, since, a.cfg.MaxEntities)
		if err != nil {
			a.logger.Error("entity discovery failed", "tenant", tenant, "error", err.Error())
			continue
		}

		for _, entity := range entities {
			if ctx.Err() != nil {
				break
			}
			if err := a.computeAndStore(ctx, tenant, entity, start, &stats); err != nil {
				stats.EntitiesFailed++
				a.entitiesFailed.Add(1)
				metrics.EntitiesFailed.Inc()
				a.logger.Error("entity aggregation failed",
					"tenant", tenant, "entity", entity, "error", err.Error())
				continue
			}
			stats.EntitiesOK++
			a.entitiesOK.Add(1)
			metrics.EntitiesAggregated.Inc()
		}
	}

	a.cyclesRun.Add(1)
	metrics.CyclesRun.Inc()
	stats.Duration = a.now().Sub(start)
	metrics.CycleDuration.Observe(stats.Duration.Seconds())

	a.logger.Info("aggregation cycle complete",
		"tenants", stats.Tenants,
		"entities_ok", stats.EntitiesOK,
		"entities_failed", stats.EntitiesFailed,
		"aggregate_errors", stats.AggregateErrors,
		"duration", stats.Duration.String())
	return stats
}

// computeAndStore builds one vector and writes it with one retry.
func (a *Aggregator) computeAndStore(ctx context.Context, tenant, entity string, asOf time.Time, stats *CycleStats) error {
	record := &models.FeatureRecord{
		TenantID:   tenant,
		EntityID:   entity,
		Features:   a.ComputeVector(ctx, tenant, entity, asOf, stats),
		ComputedAt: asOf.UTC(),
		TTLSeconds: int64(a.cfg.FeatureTTL.Seconds()),
	}

	if err := a.sink.Put(ctx, record); err != nil {
		a.logger.Warn("feature store write failed, retrying",
			"tenant", tenant, "entity", entity, "error", err.Error())
		return a.sink.Put(ctx, record)
	}
	return nil
}

// ComputeVector issues the fixed set of windowed aggregates anchored at
// asOf. A failed aggregate defaults its field to the neutral value and
// never blanks the rest of the vector.
func (a *Aggregator) ComputeVector(ctx context.Context, tenant, entity string, asOf time.Time, stats *CycleStats) map[string]float64 {
	features := make(map[string]float64, 20)

	windows := []struct {
		suffix string
		days   int
	}{
		{"7d", 7},
		{"30d", 30},
		{"90d", 90},
	}

	counts := []struct {
		prefix    string
		eventType string
	}{
		{"cart_adds", EventCartAdd},
		{"checkouts", EventCartCheckout},
		{"orders", EventOrderCompleted},
		{"page_views", EventPageView},
	}

	for _, w := range windows {
		from := asOf.AddDate(0, 0, -w.days)
		for _, c := range counts {
			features[c.prefix+"_"+w.suffix] = a.count(ctx, tenant, entity, c.eventType, from, asOf, stats)
		}
	}

	from30 := asOf.AddDate(0, 0, -30)
	from90 := asOf.AddDate(0, 0, -90)

	features["revenue_sum_30d"] = a.sum(ctx, tenant, entity, from30, asOf, stats)
	features["revenue_sum_90d"] = a.sum(ctx, tenant, entity, from90, asOf, stats)
	features["revenue_avg_30d"] = a.avg(ctx, tenant, entity, from30, asOf, stats)

	days, err := a.source.ActiveDayCount(ctx, tenant, entity, from30, asOf)
	if err != nil {
		a.recordAggregateError(tenant, entity, "active_days_30d", err, stats)
		days = 0
	}
	features["active_days_30d"] = days

	// Derived ratio, guarded: zero adds means zero rate, not an error.
	adds := features["cart_adds_30d"]
	checkouts := features["checkouts_30d"]
	if adds > 0 {
		features["cart_abandonment_rate"] = 1 - checkouts/adds
	} else {
		features["cart_abandonment_rate"] = 0
	}

	features["days_since_last_event"] = a.daysSinceLastEvent(ctx, tenant, entity, asOf, stats)

	return features
}

func (a *Aggregator) count(ctx context.Context, tenant, entity, eventType string, from, to time.Time, stats *CycleStats) float64 {
	n, err := a.source.DistinctEventCount(ctx, tenant, entity, []string{eventType}, from, to)
	if err != nil {
		a.recordAggregateError(tenant, entity, eventType, err, stats)
		return 0
	}
	return n
}

func (a *Aggregator) sum(ctx context.Context, tenant, entity string, from, to time.Time, stats *CycleStats) float64 {
	v, err := a.source.SumPayloadField(ctx, tenant, entity, EventOrderCompleted, AmountField, from, to)
	if err != nil {
		a.recordAggregateError(tenant, entity, "revenue_sum", err, stats)
		return 0
	}
	return v
}

func (a *Aggregator) avg(ctx context.Context, tenant, entity string, from, to time.Time, stats *CycleStats) float64 {
	v, err := a.source.AvgPayloadField(ctx, tenant, entity, EventOrderCompleted, AmountField, from, to)
	if err != nil {
		a.recordAggregateError(tenant, entity, "revenue_avg", err, stats)
		return 0
	}
	return v
}

func (a *Aggregator) daysSinceLastEvent(ctx context.Context, tenant, entity string, asOf time.Time, stats *CycleStats) float64 {
	last, found, err := a.source.LastEventTime(ctx, tenant, entity, asOf)
	if err != nil {
		a.recordAggregateError(tenant, entity, "days_since_last_event", err, stats)
		return DaysSinceLastEventSentinel
	}
	if !found {
		return DaysSinceLastEventSentinel
	}
	return asOf.Sub(last).Hours() / 24
}

func (a *Aggregator) recordAggregateError(tenant, entity, aggregate string, err error, stats *CycleStats) {
	stats.AggregateErrors++
	metrics.AggregateErrors.Inc()
	a.logger.Warn("aggregate query failed, using neutral value",
		"tenant", tenant, "entity", entity, "aggregate", aggregate, "error", err.Error())
}

// Totals returns process-lifetime counters for the stats endpoint.
func (a *Aggregator) Totals() (cycles, ok, failed uint64) {
	return a.cyclesRun.Load(), a.entitiesOK.Load(), a.entitiesFailed.Load()
}
