package handler

import (
	"net/http"

	"github.com/notifyhub/villa-dispatch/internal/queue"
	"github.com/notifyhub/villa-dispatch/internal/stream"
)

// MetricsHandler serves a human-readable JSON snapshot of the queue and the
// live feed. Raw Prometheus metrics (counters, histograms) are available at
// /metrics via promhttp and are separate from this endpoint.
type MetricsHandler struct {
	q   *queue.PriorityQueue
	hub *stream.Hub
}

func NewMetricsHandler(q *queue.PriorityQueue, hub *stream.Hub) *MetricsHandler {
	return &MetricsHandler{q: q, hub: hub}
}

// GetMetrics handles GET /api/v1/metrics
//
// @Summary  Real-time queue depth and feed snapshot
// @Tags     metrics
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /api/v1/metrics [get]
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	d := h.q.Depths()
	respondJSON(w, http.StatusOK, map[string]any{
		"queue_depth": map[string]int{
			"high":   d.High,
			"normal": d.Normal,
			"low":    d.Low,
			"total":  d.Total(),
		},
		"feed_subscribers": h.hub.Subscribers(),
	})
}
