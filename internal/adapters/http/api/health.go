package api

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/presence/pkg/metrics"
)

// ReadinessProbe reports whether the backends answer.
type ReadinessProbe interface {
	Ready(ctx context.Context) error
}

// HealthHandler handles health check and metrics requests.
type HealthHandler struct {
	probe   ReadinessProbe
	metrics http.Handler
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(probe ReadinessProbe) *HealthHandler {
	return &HealthHandler{
		probe:   probe,
		metrics: promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}),
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HandleHealth handles GET /healthz requests. It answers 503 while the
// service is stopped or a backend is unreachable.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if h.probe != nil {
		if err := h.probe.Ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// HandleMetrics serves the Prometheus registry.
func (h *HealthHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.ServeHTTP(w, r)
}
