package handlers

import (
	"net/http"

	"cubqueue/pkg/api"
)

// Healthz is the liveness probe at GET /health.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	h.respondJson(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Readyz is the readiness probe at GET /ready: the metadata store must
// answer a ping.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.httpError(w, "Database unavailable", http.StatusServiceUnavailable)
		return
	}
	h.respondJson(w, http.StatusOK, map[string]string{"status": "ready"})
}

// GetUsage reports workspace disk consumption at GET /api/usage.
func (h *Handlers) GetUsage(w http.ResponseWriter, r *http.Request) {
	u := h.ws.DiskUsage()
	h.respondJson(w, http.StatusOK, api.UsageResponse{
		ScriptsBytes: u.ScriptsBytes,
		JobsBytes:    u.JobsBytes,
		TotalBytes:   u.TotalBytes,
		ScriptsCount: u.ScriptsCount,
		JobsCount:    u.JobsCount,
	})
}
