// Package generator produces point-in-time-correct training samples.
//
// For every trigger event at time t0, the feature vector is computed
// exclusively from events with event_timestamp < t0, and the label
// exclusively from events in (t0, t0 + label_window]. Nothing at or
// after the label horizon ever leaks into a sample.
package generator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cartpulse/cartpulse-stack/common/config"
	"github.com/cartpulse/cartpulse-stack/common/logging"
	"github.com/cartpulse/cartpulse-stack/common/models"
)

// AmountField is the payload field carrying the purchase amount.
const AmountField = "amount"

// DaysSinceLastEventSentinel marks an entity with no history before t0.
const DaysSinceLastEventSentinel = 999

// sampleNamespace is the UUIDv5 namespace for deterministic sample ids.
// Fixed forever: changing it would re-duplicate every historical sample.
var sampleNamespace = uuid.MustParse("8f3c1c2a-54d1-4b86-9c1f-2be04a7d6c13")

// EventSource provides the event history samples are derived from.
type EventSource interface {
	TriggerEvents(ctx context.Context, tenant, eventType string, from, to time.Time, pageSize int) ([]models.RawEvent, error)
	FirstEventOfType(ctx context.Context, tenant, entity, eventType string, after, until time.Time) (*models.RawEvent, error)
	DistinctEventCount(ctx context.Context, tenant, entity string, eventTypes []string, from, to time.Time) (float64, error)
	SumPayloadField(ctx context.Context, tenant, entity, eventType, field string, from, to time.Time) (float64, error)
	ActiveDayCount(ctx context.Context, tenant, entity string, from, to time.Time) (float64, error)
	LastEventTime(ctx context.Context, tenant, entity string, before time.Time) (time.Time, bool, error)
}

// SampleWriter persists generated samples.
type SampleWriter interface {
	BulkInsertSamples(ctx context.Context, samples []models.TrainingSample) (int, error)
}

// Result summarizes one generation run for a tenant and range.
type Result struct {
	Tenant     string
	Start      time.Time
	End        time.Time
	Triggers   int
	Duplicates int
	Samples    int
	Positives  int
}

// Generator turns trigger events into labeled samples.
type Generator struct {
	source EventSource
	writer SampleWriter
	cfg    config.TraingenConfig
	logger *logging.Logger
	now    func() time.Time
}

// New creates a generator.
func New(source EventSource, writer SampleWriter, cfg config.TraingenConfig, logger *logging.Logger) *Generator {
	return &Generator{
		source: source,
		writer: writer,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// GenerateRange builds one sample per distinct trigger event with
// event_timestamp in [start, end) for the tenant. Deterministic sample
// ids make re-running the same range overwrite instead of duplicate.
func (g *Generator) GenerateRange(ctx context.Context, tenant string, start, end time.Time) (*Result, error) {
	result := &Result{Tenant: tenant, Start: start, End: end}

	triggers, err := g.source.TriggerEvents(ctx, tenant, g.cfg.TriggerEventType, start, end, g.cfg.PageSize)
	if err != nil {
		return nil, fmt.Errorf("scan trigger events: %w", err)
	}
	result.Triggers = len(triggers)

	seen := make(map[string]struct{}, len(triggers))
	pending := make([]models.TrainingSample, 0, g.cfg.PageSize)

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		n, err := g.writer.BulkInsertSamples(ctx, pending)
		result.Samples += n
		if err != nil {
			return fmt.Errorf("insert samples: %w", err)
		}
		pending = pending[:0]
		return nil
	}

	for _, trigger := range triggers {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		// At-least-once delivery can store the same trigger twice; one
		// sample per trigger event id.
		if _, dup := seen[trigger.EventID]; dup {
			result.Duplicates++
			continue
		}
		seen[trigger.EventID] = struct{}{}

		sample, err := g.buildSample(ctx, tenant, trigger)
		if err != nil {
			return result, err
		}
		if sample.Label == 1 {
			result.Positives++
		}

		pending = append(pending, *sample)
		if len(pending) >= g.cfg.PageSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}

	if err := flush(); err != nil {
		return result, err
	}

	g.logger.Info("range generated",
		"tenant", tenant,
		"start", start.Format(time.RFC3339),
		"end", end.Format(time.RFC3339),
		"triggers", result.Triggers,
		"duplicates", result.Duplicates,
		"samples", result.Samples,
		"positives", result.Positives)
	return result, nil
}

func (g *Generator) buildSample(ctx context.Context, tenant string, trigger models.RawEvent) (*models.TrainingSample, error) {
	t0 := trigger.EventTimestamp

	features, err := g.featureVector(ctx, tenant, trigger.EntityID, t0)
	if err != nil {
		return nil, fmt.Errorf("features for trigger %s: %w", trigger.EventID, err)
	}

	sample := &models.TrainingSample{
		SampleID:             SampleID(tenant, trigger.EventID, g.cfg.LabelWindow),
		TenantID:             tenant,
		EntityID:             trigger.EntityID,
		ObservationTimestamp: t0.UTC(),
		Features:             features,
		LabelWindow:          g.cfg.LabelWindow.String(),
		GeneratedAt:          g.now().UTC(),
		SchemaVersion:        g.cfg.SchemaVersion,
	}

	labelEvent, err := g.source.FirstEventOfType(ctx, tenant, trigger.EntityID, g.cfg.LabelEventType, t0, t0.Add(g.cfg.LabelWindow))
	if err != nil {
		return nil, fmt.Errorf("label for trigger %s: %w", trigger.EventID, err)
	}
	if labelEvent != nil {
		sample.Label = 1
		purchasedAt := labelEvent.EventTimestamp.UTC()
		sample.PurchasedAt = &purchasedAt
		if amount, ok := labelEvent.Payload[AmountField].(float64); ok {
			sample.PurchaseAmount = &amount
		}
	}

	return sample, nil
}

// featureVector computes backward-looking aggregates anchored at t0.
// Every query window ends at t0 exclusive; a query failure here aborts
// the run rather than silently producing a skewed sample.
func (g *Generator) featureVector(ctx context.Context, tenant, entity string, t0 time.Time) (map[string]float64, error) {
	features := make(map[string]float64, 16)

	windows := []struct {
		suffix string
		from   time.Time
	}{
		{"7d", t0.AddDate(0, 0, -7)},
		{"30d", t0.AddDate(0, 0, -30)},
		{"90d", t0.AddDate(0, 0, -90)},
		{"lifetime", time.Time{}},
	}

	counts := []struct {
		prefix    string
		eventType string
	}{
		{"cart_adds", "cart.add"},
		{"checkouts", "cart.checkout"},
		{"orders", "order.completed"},
		{"page_views", "web.view"},
	}

	for _, w := range windows {
		for _, c := range counts {
			n, err := g.source.DistinctEventCount(ctx, tenant, entity, []string{c.eventType}, w.from, t0)
			if err != nil {
				return nil, err
			}
			features[c.prefix+"_"+w.suffix] = n
		}
	}

	revenue, err := g.source.SumPayloadField(ctx, tenant, entity, "order.completed", AmountField, t0.AddDate(0, 0, -90), t0)
	if err != nil {
		return nil, err
	}
	features["revenue_sum_90d"] = revenue

	days, err := g.source.ActiveDayCount(ctx, tenant, entity, t0.AddDate(0, 0, -30), t0)
	if err != nil {
		return nil, err
	}
	features["active_days_30d"] = days

	adds := features["cart_adds_30d"]
	if adds > 0 {
		features["cart_abandonment_rate"] = 1 - features["checkouts_30d"]/adds
	} else {
		features["cart_abandonment_rate"] = 0
	}

	last, found, err := g.source.LastEventTime(ctx, tenant, entity, t0)
	if err != nil {
		return nil, err
	}
	if found {
		features["days_since_last_event"] = t0.Sub(last).Hours() / 24
	} else {
		features["days_since_last_event"] = DaysSinceLastEventSentinel
	}

	return features, nil
}

// SampleID derives the deterministic document id for a sample.
func SampleID(tenant, triggerEventID string, labelWindow time.Duration) string {
	key := fmt.Sprintf("%s|%s|%s", tenant, triggerEventID, labelWindow)
	return uuid.NewSHA1(sampleNamespace, []byte(key)).String()
}
