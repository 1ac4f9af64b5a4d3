// Package server wires the feature job's HTTP surface.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cartpulse/cartpulse-stack/common/httputil"
	"github.com/cartpulse/cartpulse-stack/features/internal/aggregator"
)

// JobSource exposes scheduler and aggregator state to the handlers.
type JobSource interface {
	IsRunning() bool
	LastCycle() (aggregator.CycleStats, bool)
}

// Totals returns process-lifetime aggregation counters.
type Totals func() (cycles, entitiesOK, entitiesFailed uint64)

// ReadinessCheck probes one dependency.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler serves the feature job's operational endpoints.
type Handler struct {
	source    JobSource
	totals    Totals
	checks    []ReadinessCheck
	startedAt time.Time
}

// NewHandler creates the handler.
func NewHandler(source JobSource, totals Totals, checks ...ReadinessCheck) *Handler {
	return &Handler{
		source:    source,
		totals:    totals,
		checks:    checks,
		startedAt: time.Now(),
	}
}

// NewRouter wires HTTP routes for the feature job.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/ready", h.Ready)
	mux.HandleFunc("/stats", h.Stats)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"running":        h.source.IsRunning(),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}

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

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	cycles, ok, failed := h.totals()
	body := map[string]interface{}{
		"running":         h.source.IsRunning(),
		"cycles":          cycles,
		"entities_ok":     ok,
		"entities_failed": failed,
	}
	if last, has := h.source.LastCycle(); has {
		body["last_cycle"] = last
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}
