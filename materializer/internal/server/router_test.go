package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartpulse/cartpulse-stack/materializer/internal/consumer"
)

type stubSource struct {
	state consumer.State
	stats consumer.Stats
}

func (s *stubSource) State() consumer.State { return s.state }
func (s *stubSource) Stats() consumer.Stats { return s.stats }

func get(t *testing.T, router http.Handler, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestHealth(t *testing.T) {
	source := &stubSource{
		state: consumer.StateRunning,
		stats: consumer.Stats{State: "running", UptimeSeconds: 12},
	}
	router := NewRouter(NewHandler(source, nil))

	rec, body := get(t, router, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["running"])
	assert.Equal(t, float64(12), body["uptime_seconds"])
}

func TestReadyAllChecksPass(t *testing.T) {
	router := NewRouter(NewHandler(&stubSource{},
		nil,
		ReadinessCheck{Name: "nats", Check: func(context.Context) error { return nil }},
		ReadinessCheck{Name: "eventstore", Check: func(context.Context) error { return nil }},
	))

	rec, body := get(t, router, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ready"])
}

func TestReadyDependencyDown(t *testing.T) {
	router := NewRouter(NewHandler(&stubSource{},
		nil,
		ReadinessCheck{Name: "nats", Check: func(context.Context) error { return nil }},
		ReadinessCheck{Name: "eventstore", Check: func(context.Context) error {
			return fmt.Errorf("opensearch unreachable")
		}},
	))

	rec, body := get(t, router, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, body["ready"])
	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "ok", checks["nats"])
	assert.Contains(t, checks["eventstore"], "unreachable")
}

func TestStats(t *testing.T) {
	source := &stubSource{stats: consumer.Stats{
		State:     "running",
		Received:  250,
		Processed: 249,
		Failed:    1,
		Flushes:   3,
	}}
	dlqStats := func(context.Context) map[string]interface{} {
		return map[string]interface{}{"total_messages": 1}
	}
	router := NewRouter(NewHandler(source, dlqStats))

	rec, body := get(t, router, "/stats")
	assert.Equal(t, http.StatusOK, rec.Code)

	cons := body["consumer"].(map[string]interface{})
	assert.Equal(t, float64(250), cons["received"])
	assert.Equal(t, float64(3), cons["flushes"])
	dlq := body["dlq"].(map[string]interface{})
	assert.Equal(t, float64(1), dlq["total_messages"])
}

func TestMetricsEndpointRegistered(t *testing.T) {
	router := NewRouter(NewHandler(&stubSource{}, nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
