package api

import (
	"net/http"

	"github.com/okian/storymap/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthHandler serves the service's metrics registry as its liveness probe.
type HealthHandler struct {
	metrics http.Handler
}

// NewHealthHandler creates a health handler over the storymap registry.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{
		metrics: promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}),
	}
}

// HandleHealth handles GET /healthz. A scrape that succeeds means the process
// is serving; dataset readiness is reported by /stats and the dataset routes.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.metrics.ServeHTTP(w, r)
}
