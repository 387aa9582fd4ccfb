package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler はteacherのMetricsHandlerと同じ3経路 (/metrics, /stats, /health) を
// prometheus/client_golang を使って提供する.
type Handler struct {
	collector *Collector
}

// NewHandler はCollectorを包むHandlerを作る.
func NewHandler(c *Collector) *Handler {
	return &Handler{collector: c}
}

// Register はmuxに3経路を登録する.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(h.collector.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/stats", h.handleStats)
	mux.HandleFunc("/health", h.handleHealth)
}

func (h *Handler) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.collector.Snapshot())
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "up"})
}
