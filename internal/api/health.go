package api

import (
	"encoding/json"
	"net/http"
)

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	// The gateway is ready while the write queue is accepting critical
	// rows; degraded mode is reported but still serves traffic.
	resp := map[string]any{
		"status":           "ready",
		"version":          "0.1.0",
		"queue_depth":      h.queue.Depth(),
		"degraded":         h.queue.Degraded(),
		"active_requests":  h.concurrency.Active(),
		"circuit_breakers": h.breakers.Snapshot(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
