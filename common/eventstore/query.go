package eventstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cartpulse/cartpulse-stack/common/models"
)

// Query field names. String fields are matched on their keyword
// sub-field (dynamic mapping default).
const (
	fieldTenant    = "tenant_id.keyword"
	fieldEntity    = "entity_id.keyword"
	fieldEventType = "event_type.keyword"
	fieldEventID   = "event_id.keyword"
	fieldTimestamp = "event_timestamp"
)

type searchResult struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source json.RawMessage `json:"_source"`
			Sort   []interface{}   `json:"sort"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]json.RawMessage `json:"aggregations,omitempty"`
}

// search executes one query body against an index and decodes the
// response envelope.
func (c *Client) search(ctx context.Context, index string, body map[string]interface{}) (*searchResult, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	res, err := c.client.Search(
		c.client.Search.WithContext(ctx),
		c.client.Search.WithIndex(index),
		c.client.Search.WithBody(&buf),
		c.client.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search error: %s", res.String())
	}

	var result searchResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

// eventFilter builds the bool filter shared by every windowed query.
// entity and eventTypes are optional; from/to bound event_timestamp as
// [from, to) so callers get the strict upper bound the sample generator
// depends on.
func eventFilter(tenant, entity string, eventTypes []string, from, to time.Time) []interface{} {
	filter := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{fieldTenant: tenant}},
	}
	if entity != "" {
		filter = append(filter, map[string]interface{}{"term": map[string]interface{}{fieldEntity: entity}})
	}
	if len(eventTypes) == 1 {
		filter = append(filter, map[string]interface{}{"term": map[string]interface{}{fieldEventType: eventTypes[0]}})
	} else if len(eventTypes) > 1 {
		filter = append(filter, map[string]interface{}{"terms": map[string]interface{}{fieldEventType: eventTypes}})
	}

	timeRange := map[string]interface{}{}
	if !from.IsZero() {
		timeRange["gte"] = from.Format(time.RFC3339Nano)
	}
	if !to.IsZero() {
		timeRange["lt"] = to.Format(time.RFC3339Nano)
	}
	if len(timeRange) > 0 {
		filter = append(filter, map[string]interface{}{"range": map[string]interface{}{fieldTimestamp: timeRange}})
	}
	return filter
}

func boolQuery(filter []interface{}) map[string]interface{} {
	return map[string]interface{}{"bool": map[string]interface{}{"filter": filter}}
}

// DistinctEventCount counts distinct event ids matching the filter in
// [from, to). Distinct rather than raw doc counts: at-least-once
// delivery means the same event id can be stored more than once.
func (c *Client) DistinctEventCount(ctx context.Context, tenant, entity string, eventTypes []string, from, to time.Time) (float64, error) {
	body := map[string]interface{}{
		"size":  0,
		"query": boolQuery(eventFilter(tenant, entity, eventTypes, from, to)),
		"aggs": map[string]interface{}{
			"distinct": map[string]interface{}{
				"cardinality": map[string]interface{}{"field": fieldEventID},
			},
		},
	}

	result, err := c.search(ctx, c.eventsIndex, body)
	if err != nil {
		return 0, err
	}
	return decodeValueAgg(result, "distinct")
}

// SumPayloadField sums a numeric payload field over [from, to).
func (c *Client) SumPayloadField(ctx context.Context, tenant, entity, eventType, field string, from, to time.Time) (float64, error) {
	return c.metricAgg(ctx, "sum", tenant, entity, eventType, field, from, to)
}

// AvgPayloadField averages a numeric payload field over [from, to).
// Returns 0 when no documents match.
func (c *Client) AvgPayloadField(ctx context.Context, tenant, entity, eventType, field string, from, to time.Time) (float64, error) {
	return c.metricAgg(ctx, "avg", tenant, entity, eventType, field, from, to)
}

func (c *Client) metricAgg(ctx context.Context, agg, tenant, entity, eventType, field string, from, to time.Time) (float64, error) {
	var types []string
	if eventType != "" {
		types = []string{eventType}
	}
	body := map[string]interface{}{
		"size":  0,
		"query": boolQuery(eventFilter(tenant, entity, types, from, to)),
		"aggs": map[string]interface{}{
			"metric": map[string]interface{}{
				agg: map[string]interface{}{"field": "payload." + field},
			},
		},
	}

	result, err := c.search(ctx, c.eventsIndex, body)
	if err != nil {
		return 0, err
	}
	return decodeValueAgg(result, "metric")
}

// ActiveDayCount counts distinct calendar days with at least one
// matching event in [from, to).
func (c *Client) ActiveDayCount(ctx context.Context, tenant, entity string, from, to time.Time) (float64, error) {
	body := map[string]interface{}{
		"size":  0,
		"query": boolQuery(eventFilter(tenant, entity, nil, from, to)),
		"aggs": map[string]interface{}{
			"days": map[string]interface{}{
				"date_histogram": map[string]interface{}{
					"field":             fieldTimestamp,
					"calendar_interval": "day",
					"min_doc_count":     1,
				},
			},
		},
	}

	result, err := c.search(ctx, c.eventsIndex, body)
	if err != nil {
		return 0, err
	}

	raw, ok := result.Aggregations["days"]
	if !ok {
		return 0, nil
	}
	var agg struct {
		Buckets []struct {
			DocCount int `json:"doc_count"`
		} `json:"buckets"`
	}
	if err := json.Unmarshal(raw, &agg); err != nil {
		return 0, fmt.Errorf("decode days aggregation: %w", err)
	}
	return float64(len(agg.Buckets)), nil
}

// LastEventTime returns the newest event timestamp strictly before the
// given bound, and whether any event exists there at all.
func (c *Client) LastEventTime(ctx context.Context, tenant, entity string, before time.Time) (time.Time, bool, error) {
	body := map[string]interface{}{
		"size":  0,
		"query": boolQuery(eventFilter(tenant, entity, nil, time.Time{}, before)),
		"aggs": map[string]interface{}{
			"last": map[string]interface{}{
				"max": map[string]interface{}{"field": fieldTimestamp},
			},
		},
	}

	result, err := c.search(ctx, c.eventsIndex, body)
	if err != nil {
		return time.Time{}, false, err
	}

	raw, ok := result.Aggregations["last"]
	if !ok {
		return time.Time{}, false, nil
	}
	var agg struct {
		Value         *float64 `json:"value"`
		ValueAsString string   `json:"value_as_string"`
	}
	if err := json.Unmarshal(raw, &agg); err != nil {
		return time.Time{}, false, fmt.Errorf("decode last aggregation: %w", err)
	}
	if agg.Value == nil {
		return time.Time{}, false, nil
	}
	if agg.ValueAsString != "" {
		if ts, err := time.Parse(time.RFC3339Nano, agg.ValueAsString); err == nil {
			return ts, true, nil
		}
	}
	return time.UnixMilli(int64(*agg.Value)).UTC(), true, nil
}

// ActiveTenants returns tenants with at least one event since the given
// time. Discovery only; absence from the window never deletes anything.
func (c *Client) ActiveTenants(ctx context.Context, since time.Time, size int) ([]string, error) {
	body := map[string]interface{}{
		"size": 0,
		"query": boolQuery([]interface{}{
			map[string]interface{}{"range": map[string]interface{}{
				fieldTimestamp: map[string]interface{}{"gte": since.Format(time.RFC3339Nano)},
			}},
		}),
		"aggs": map[string]interface{}{
			"tenants": map[string]interface{}{
				"terms": map[string]interface{}{"field": fieldTenant, "size": size},
			},
		},
	}

	result, err := c.search(ctx, c.eventsIndex, body)
	if err != nil {
		return nil, err
	}
	return decodeTermsAgg(result, "tenants")
}

// ActiveEntities returns a tenant's entities with at least one event
// since the given time.
func (c *Client) ActiveEntities(ctx context.Context, tenant string, since time.Time, size int) ([]string, error) {
	body := map[string]interface{}{
		"size":  0,
		"query": boolQuery(eventFilter(tenant, "", nil, since, time.Time{})),
		"aggs": map[string]interface{}{
			"entities": map[string]interface{}{
				"terms": map[string]interface{}{"field": fieldEntity, "size": size},
			},
		},
	}

	result, err := c.search(ctx, c.eventsIndex, body)
	if err != nil {
		return nil, err
	}
	return decodeTermsAgg(result, "entities")
}

// TriggerEvents scans every event of one type for a tenant in [from, to),
// oldest first, paging with search_after so large ranges never truncate.
func (c *Client) TriggerEvents(ctx context.Context, tenant, eventType string, from, to time.Time, pageSize int) ([]models.RawEvent, error) {
	if pageSize <= 0 {
		pageSize = 500
	}

	var (
		events      []models.RawEvent
		searchAfter []interface{}
	)

	for {
		body := map[string]interface{}{
			"size":  pageSize,
			"query": boolQuery(eventFilter(tenant, "", []string{eventType}, from, to)),
			"sort": []interface{}{
				map[string]interface{}{fieldTimestamp: "asc"},
				map[string]interface{}{fieldEventID: "asc"},
			},
		}
		if searchAfter != nil {
			body["search_after"] = searchAfter
		}

		result, err := c.search(ctx, c.eventsIndex, body)
		if err != nil {
			return nil, err
		}
		if len(result.Hits.Hits) == 0 {
			return events, nil
		}

		for _, hit := range result.Hits.Hits {
			var event models.RawEvent
			if err := json.Unmarshal(hit.Source, &event); err != nil {
				return nil, fmt.Errorf("decode event: %w", err)
			}
			events = append(events, event)
			searchAfter = hit.Sort
		}

		if len(result.Hits.Hits) < pageSize {
			return events, nil
		}
	}
}

// FirstEventOfType returns the earliest matching event with
// after < event_timestamp <= until, or nil when none exists. This is the
// label lookup: the window is open at the observation instant and closed
// at the horizon.
func (c *Client) FirstEventOfType(ctx context.Context, tenant, entity, eventType string, after, until time.Time) (*models.RawEvent, error) {
	filter := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{fieldTenant: tenant}},
		map[string]interface{}{"term": map[string]interface{}{fieldEntity: entity}},
		map[string]interface{}{"term": map[string]interface{}{fieldEventType: eventType}},
		map[string]interface{}{"range": map[string]interface{}{fieldTimestamp: map[string]interface{}{
			"gt":  after.Format(time.RFC3339Nano),
			"lte": until.Format(time.RFC3339Nano),
		}}},
	}

	body := map[string]interface{}{
		"size":  1,
		"query": boolQuery(filter),
		"sort": []interface{}{
			map[string]interface{}{fieldTimestamp: "asc"},
		},
	}

	result, err := c.search(ctx, c.eventsIndex, body)
	if err != nil {
		return nil, err
	}
	if len(result.Hits.Hits) == 0 {
		return nil, nil
	}

	var event models.RawEvent
	if err := json.Unmarshal(result.Hits.Hits[0].Source, &event); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return &event, nil
}

func decodeValueAgg(result *searchResult, name string) (float64, error) {
	raw, ok := result.Aggregations[name]
	if !ok {
		return 0, nil
	}
	var agg struct {
		Value *float64 `json:"value"`
	}
	if err := json.Unmarshal(raw, &agg); err != nil {
		return 0, fmt.Errorf("decode %s aggregation: %w", name, err)
	}
	if agg.Value == nil {
		return 0, nil
	}
	return *agg.Value, nil
}

func decodeTermsAgg(result *searchResult, name string) ([]string, error) {
	raw, ok := result.Aggregations[name]
	if !ok {
		return nil, nil
	}
	var agg struct {
		Buckets []struct {
			Key string `json:"key"`
		} `json:"buckets"`
	}
	if err := json.Unmarshal(raw, &agg); err != nil {
		return nil, fmt.Errorf("decode %s aggregation: %w", name, err)
	}
	keys := make([]string, 0, len(agg.Buckets))
	for _, b := range agg.Buckets {
		keys = append(keys, b.Key)
	}
	return keys, nil
}
