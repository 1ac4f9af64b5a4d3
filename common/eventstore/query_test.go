package eventstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient wires a Client against a stub OpenSearch server without
// the startup ping.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	osClient, err := opensearch.NewClient(opensearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)

	return &Client{
		client:        osClient,
		eventsIndex:   "test-events",
		trainingIndex: "test-training",
	}
}

func decodeBody(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestDistinctEventCount(t *testing.T) {
	var captured map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		captured = decodeBody(t, r)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"hits":{"total":{"value":12},"hits":[]},"aggregations":{"distinct":{"value":7}}}`))
	})

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	count, err := client.DistinctEventCount(context.Background(), "acme", "visitor-1", []string{"cart.add"}, from, to)
	require.NoError(t, err)

	// Redeliveries collapse: distinct count, not doc count.
	assert.Equal(t, float64(7), count)

	require.NotNil(t, captured)
	assert.Equal(t, float64(0), captured["size"])
	filters := captured["query"].(map[string]interface{})["bool"].(map[string]interface{})["filter"].([]interface{})
	require.Len(t, filters, 4) // tenant, entity, event_type, time range
	rangeClause := filters[3].(map[string]interface{})["range"].(map[string]interface{})["event_timestamp"].(map[string]interface{})
	assert.Equal(t, from.Format(time.RFC3339Nano), rangeClause["gte"])
	assert.Equal(t, to.Format(time.RFC3339Nano), rangeClause["lt"])
}

func TestMetricAggNoDocuments(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// avg over zero documents comes back null
		w.Write([]byte(`{"hits":{"total":{"value":0},"hits":[]},"aggregations":{"metric":{"value":null}}}`))
	})

	avg, err := client.AvgPayloadField(context.Background(), "acme", "visitor-1", "order.completed", "total_amount",
		time.Now().Add(-30*24*time.Hour), time.Now())
	require.NoError(t, err)
	assert.Equal(t, float64(0), avg)
}

func TestActiveDayCount(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		hist := body["aggs"].(map[string]interface{})["days"].(map[string]interface{})["date_histogram"].(map[string]interface{})
		assert.Equal(t, "day", hist["calendar_interval"])
		assert.Equal(t, float64(1), hist["min_doc_count"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"hits":{"total":{"value":9},"hits":[]},"aggregations":{"days":{"buckets":[{"doc_count":4},{"doc_count":2},{"doc_count":3}]}}}`))
	})

	days, err := client.ActiveDayCount(context.Background(), "acme", "visitor-1",
		time.Now().Add(-30*24*time.Hour), time.Now())
	require.NoError(t, err)
	assert.Equal(t, float64(3), days)
}

func TestLastEventTime(t *testing.T) {
	last := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]interface{}{
			"hits": map[string]interface{}{"total": map[string]interface{}{"value": 3}, "hits": []interface{}{}},
			"aggregations": map[string]interface{}{
				"last": map[string]interface{}{
					"value":           float64(last.UnixMilli()),
					"value_as_string": last.Format(time.RFC3339Nano),
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})

	ts, found, err := client.LastEventTime(context.Background(), "acme", "visitor-1", time.Now())
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, ts.Equal(last))
}

func TestLastEventTimeNoEvents(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"hits":{"total":{"value":0},"hits":[]},"aggregations":{"last":{"value":null}}}`))
	})

	_, found, err := client.LastEventTime(context.Background(), "acme", "ghost", time.Now())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestActiveTenantsAndEntities(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		w.Header().Set("Content-Type", "application/json")
		if _, ok := body["aggs"].(map[string]interface{})["tenants"]; ok {
			w.Write([]byte(`{"hits":{"total":{"value":100},"hits":[]},"aggregations":{"tenants":{"buckets":[{"key":"acme"},{"key":"globex"}]}}}`))
			return
		}
		w.Write([]byte(`{"hits":{"total":{"value":40},"hits":[]},"aggregations":{"entities":{"buckets":[{"key":"visitor-1"},{"key":"visitor-2"},{"key":"visitor-3"}]}}}`))
	})

	since := time.Now().Add(-30 * 24 * time.Hour)

	tenants, err := client.ActiveTenants(context.Background(), since, 1000)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "globex"}, tenants)

	entities, err := client.ActiveEntities(context.Background(), "acme", since, 10000)
	require.NoError(t, err)
	assert.Len(t, entities, 3)
}

func TestTriggerEventsPagination(t *testing.T) {
	page := func(ids ...string) string {
		hits := make([]map[string]interface{}, 0, len(ids))
		for i, id := range ids {
			hits = append(hits, map[string]interface{}{
				"_source": map[string]interface{}{
					"event_id":   id,
					"tenant_id":  "acme",
					"event_type": "cart.add",
				},
				"sort": []interface{}{1700000000000 + i, id},
			})
		}
		out, _ := json.Marshal(map[string]interface{}{
			"hits": map[string]interface{}{
				"total": map[string]interface{}{"value": 3},
				"hits":  hits,
			},
		})
		return string(out)
	}

	requests := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		requests++
		w.Header().Set("Content-Type", "application/json")
		if requests == 1 {
			assert.Nil(t, body["search_after"])
			w.Write([]byte(page("ev-1", "ev-2")))
			return
		}
		// Second page resumes from the last sort values of page one.
		require.NotNil(t, body["search_after"])
		w.Write([]byte(page("ev-3")))
	})

	events, err := client.TriggerEvents(context.Background(), "acme", "cart.add",
		time.Now().Add(-24*time.Hour), time.Now(), 2)
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, "ev-1", events[0].EventID)
	assert.Equal(t, "ev-3", events[2].EventID)
	assert.Equal(t, 2, requests)
}

func TestFirstEventOfType(t *testing.T) {
	t0 := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		filters := body["query"].(map[string]interface{})["bool"].(map[string]interface{})["filter"].([]interface{})
		rangeClause := filters[3].(map[string]interface{})["range"].(map[string]interface{})["event_timestamp"].(map[string]interface{})
		// Label window is open at t0, closed at the horizon.
		assert.Equal(t, t0.Format(time.RFC3339Nano), rangeClause["gt"])
		assert.Equal(t, t0.Add(168*time.Hour).Format(time.RFC3339Nano), rangeClause["lte"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"hits":{"total":{"value":1},"hits":[{"_source":{"event_id":"order-9","tenant_id":"acme","entity_id":"visitor-1","event_type":"order.completed","payload":{"total_amount":59.90}}}]}}`))
	})

	event, err := client.FirstEventOfType(context.Background(), "acme", "visitor-1", "order.completed", t0, t0.Add(168*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "order-9", event.EventID)
	assert.Equal(t, 59.90, event.Payload["total_amount"])
}

func TestFirstEventOfTypeNoMatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"hits":{"total":{"value":0},"hits":[]}}`))
	})

	event, err := client.FirstEventOfType(context.Background(), "acme", "visitor-1", "order.completed",
		time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, event)
}
