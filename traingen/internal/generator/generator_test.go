package generator

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartpulse/cartpulse-stack/common/config"
	"github.com/cartpulse/cartpulse-stack/common/logging"
	"github.com/cartpulse/cartpulse-stack/common/models"
)

type queryBound struct {
	kind  string
	from  time.Time
	to    time.Time
	after time.Time
	until time.Time
}

// fakeSource serves canned triggers and label events, recording every
// query's time bounds so tests can assert the leakage contract.
type fakeSource struct {
	triggers    []models.RawEvent
	labelEvents map[string]*models.RawEvent // entity -> label event
	bounds      []queryBound
	counts      map[string]float64 // "<type>|<suffixdays>" -> count
}

func (s *fakeSource) TriggerEvents(_ context.Context, _, _ string, from, to time.Time, _ int) ([]models.RawEvent, error) {
	s.bounds = append(s.bounds, queryBound{kind: "triggers", from: from, to: to})
	return s.triggers, nil
}

func (s *fakeSource) FirstEventOfType(_ context.Context, _, entity, _ string, after, until time.Time) (*models.RawEvent, error) {
	s.bounds = append(s.bounds, queryBound{kind: "label", after: after, until: until})
	return s.labelEvents[entity], nil
}

func (s *fakeSource) DistinctEventCount(_ context.Context, _, _ string, eventTypes []string, from, to time.Time) (float64, error) {
	s.bounds = append(s.bounds, queryBound{kind: "count", from: from, to: to})
	if s.counts == nil {
		return 0, nil
	}
	days := "lifetime"
	if !from.IsZero() {
		days = fmt.Sprintf("%dd", int(to.Sub(from).Hours()/24))
	}
	return s.counts[eventTypes[0]+"|"+days], nil
}

func (s *fakeSource) SumPayloadField(_ context.Context, _, _, _, _ string, from, to time.Time) (float64, error) {
	s.bounds = append(s.bounds, queryBound{kind: "sum", from: from, to: to})
	return 0, nil
}

func (s *fakeSource) ActiveDayCount(_ context.Context, _, _ string, from, to time.Time) (float64, error) {
	s.bounds = append(s.bounds, queryBound{kind: "days", from: from, to: to})
	return 0, nil
}

func (s *fakeSource) LastEventTime(_ context.Context, _, _ string, before time.Time) (time.Time, bool, error) {
	s.bounds = append(s.bounds, queryBound{kind: "last", to: before})
	return time.Time{}, false, nil
}

type fakeWriter struct {
	batches [][]models.TrainingSample
}

func (w *fakeWriter) BulkInsertSamples(_ context.Context, samples []models.TrainingSample) (int, error) {
	batch := make([]models.TrainingSample, len(samples))
	copy(batch, samples)
	w.batches = append(w.batches, batch)
	return len(samples), nil
}

func (w *fakeWriter) all() []models.TrainingSample {
	var out []models.TrainingSample
	for _, b := range w.batches {
		out = append(out, b...)
	}
	return out
}

func testCfg() config.TraingenConfig {
	return config.TraingenConfig{
		TriggerEventType: "cart.add",
		LabelEventType:   "order.completed",
		LabelWindow:      168 * time.Hour,
		SchemaVersion:    "v1",
		PageSize:         500,
	}
}

func trigger(id, entity string, at time.Time) models.RawEvent {
	return models.RawEvent{
		EventID:        id,
		TenantID:       "acme",
		EntityID:       entity,
		EventType:      "cart.add",
		EventTimestamp: at,
	}
}

func newGenerator(source EventSource, writer SampleWriter, cfg config.TraingenConfig) *Generator {
	return New(source, writer, cfg, logging.New(slog.LevelError, "text"))
}

func TestFeatureQueriesNeverReachObservationTime(t *testing.T) {
	t0 := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	source := &fakeSource{triggers: []models.RawEvent{trigger("ev-1", "visitor-1", t0)}}
	writer := &fakeWriter{}

	_, err := newGenerator(source, writer, testCfg()).
		GenerateRange(context.Background(), "acme", t0.AddDate(0, 0, -1), t0.AddDate(0, 0, 1))
	require.NoError(t, err)

	for _, b := range source.bounds {
		switch b.kind {
		case "count", "sum", "days":
			// Upper bound is exactly t0; the store treats it exclusively.
			assert.True(t, b.to.Equal(t0), "feature window must end at t0, got %s", b.to)
		case "last":
			assert.True(t, b.to.Equal(t0))
		case "label":
			// Label window is (t0, t0 + 168h].
			assert.True(t, b.after.Equal(t0))
			assert.True(t, b.until.Equal(t0.Add(168*time.Hour)))
		}
	}
}

func TestPositiveLabelAttachesPurchase(t *testing.T) {
	t0 := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	purchase := t0.Add(24 * time.Hour)
	source := &fakeSource{
		triggers: []models.RawEvent{trigger("ev-1", "visitor-1", t0)},
		labelEvents: map[string]*models.RawEvent{
			"visitor-1": {
				EventID:        "order-1",
				EventType:      "order.completed",
				EventTimestamp: purchase,
				Payload:        map[string]interface{}{"amount": 59.90},
			},
		},
	}
	writer := &fakeWriter{}

	result, err := newGenerator(source, writer, testCfg()).
		GenerateRange(context.Background(), "acme", t0.AddDate(0, 0, -1), t0.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Positives)

	samples := writer.all()
	require.Len(t, samples, 1)
	s := samples[0]
	assert.Equal(t, 1, s.Label)
	require.NotNil(t, s.PurchasedAt)
	assert.True(t, s.PurchasedAt.Equal(purchase))
	require.NotNil(t, s.PurchaseAmount)
	assert.Equal(t, 59.90, *s.PurchaseAmount)
	assert.Equal(t, "168h0m0s", s.LabelWindow)
	assert.Equal(t, "v1", s.SchemaVersion)
}

func TestNegativeLabel(t *testing.T) {
	t0 := time.Now().UTC().Truncate(time.Second)
	source := &fakeSource{triggers: []models.RawEvent{trigger("ev-1", "visitor-1", t0)}}
	writer := &fakeWriter{}

	result, err := newGenerator(source, writer, testCfg()).
		GenerateRange(context.Background(), "acme", t0.AddDate(0, 0, -1), t0.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Positives)

	samples := writer.all()
	require.Len(t, samples, 1)
	assert.Equal(t, 0, samples[0].Label)
	assert.Nil(t, samples[0].PurchasedAt)
	assert.Nil(t, samples[0].PurchaseAmount)
}

func TestDuplicateTriggersProduceOneSample(t *testing.T) {
	t0 := time.Now().UTC()
	source := &fakeSource{triggers: []models.RawEvent{
		trigger("ev-1", "visitor-1", t0),
		trigger("ev-1", "visitor-1", t0), // redelivered duplicate
		trigger("ev-2", "visitor-1", t0.Add(time.Minute)),
	}}
	writer := &fakeWriter{}

	result, err := newGenerator(source, writer, testCfg()).
		GenerateRange(context.Background(), "acme", t0.AddDate(0, 0, -1), t0.AddDate(0, 0, 1))
	require.NoError(t, err)

	assert.Equal(t, 3, result.Triggers)
	assert.Equal(t, 1, result.Duplicates)
	assert.Len(t, writer.all(), 2)
}

func TestSampleIDDeterministic(t *testing.T) {
	a := SampleID("acme", "ev-1", 168*time.Hour)
	b := SampleID("acme", "ev-1", 168*time.Hour)
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, SampleID("globex", "ev-1", 168*time.Hour))
	assert.NotEqual(t, a, SampleID("acme", "ev-2", 168*time.Hour))
	assert.NotEqual(t, a, SampleID("acme", "ev-1", 24*time.Hour))
}

func TestSamplesFlushInPages(t *testing.T) {
	t0 := time.Now().UTC()
	source := &fakeSource{}
	for i := 0; i < 5; i++ {
		source.triggers = append(source.triggers,
			trigger(fmt.Sprintf("ev-%d", i), "visitor-1", t0.Add(time.Duration(i)*time.Minute)))
	}
	writer := &fakeWriter{}

	cfg := testCfg()
	cfg.PageSize = 2
	result, err := newGenerator(source, writer, cfg).
		GenerateRange(context.Background(), "acme", t0.AddDate(0, 0, -1), t0.AddDate(0, 0, 1))
	require.NoError(t, err)

	assert.Equal(t, 5, result.Samples)
	assert.Len(t, writer.batches, 3) // 2 + 2 + 1
}

func TestAbandonmentRateInVector(t *testing.T) {
	t0 := time.Now().UTC()
	source := &fakeSource{
		triggers: []models.RawEvent{trigger("ev-1", "visitor-1", t0)},
		counts: map[string]float64{
			"cart.add|30d":      5,
			"cart.checkout|30d": 1,
		},
	}
	writer := &fakeWriter{}

	_, err := newGenerator(source, writer, testCfg()).
		GenerateRange(context.Background(), "acme", t0.AddDate(0, 0, -1), t0.AddDate(0, 0, 1))
	require.NoError(t, err)

	samples := writer.all()
	require.Len(t, samples, 1)
	assert.InDelta(t, 0.8, samples[0].Features["cart_abandonment_rate"], 1e-9)
	assert.Equal(t, float64(DaysSinceLastEventSentinel), samples[0].Features["days_since_last_event"])
}
