// Package server wires the materializer's HTTP surface: health,
// readiness, stats, and Prometheus metrics.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cartpulse/cartpulse-stack/common/httputil"
	"github.com/cartpulse/cartpulse-stack/materializer/internal/consumer"
)

// StatsSource exposes consumer state to the HTTP handlers.
type StatsSource interface {
	State() consumer.State
	Stats() consumer.Stats
}

// ReadinessCheck probes one dependency. Name appears in the /ready body.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler serves the materializer's operational endpoints.
type Handler struct {
	source StatsSource
	checks []ReadinessCheck
	dlq    func(ctx context.Context) map[string]interface{}
}

// NewHandler creates the handler. dlqStats may be nil.
func NewHandler(source StatsSource, dlqStats func(ctx context.Context) map[string]interface{}, checks ...ReadinessCheck) *Handler {
	return &Handler{source: source, checks: checks, dlq: dlqStats}
}

// NewRouter wires HTTP routes for the materializer service.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/ready", h.Ready)
	mux.HandleFunc("/stats", h.StatsHandler)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Health reports liveness: the process is up and the loop state.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats := h.source.Stats()
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"running":        h.source.State() == consumer.StateRunning,
		"uptime_seconds": stats.UptimeSeconds,
	})
}

// Ready reports readiness: every dependency must answer.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	ready := true
	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			results[c.Name] = err.Error()
			ready = false
			continue
		}
		results[c.Name] = "ok"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, map[string]interface{}{
		"ready":  ready,
		"checks": results,
	})
}

// StatsHandler returns consumer counters and dead-letter stream totals.
func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"consumer": h.source.Stats(),
	}
	if h.dlq != nil {
		body["dlq"] = h.dlq(r.Context())
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}
