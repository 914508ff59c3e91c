package handlers

import (
	"net/http"

	"github.com/sandy-echo/echo-backend/internal/store"
)

// HealthResponse represents the health check response structure.
type HealthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
}

// HealthHandler reports liveness and storage readiness.
type HealthHandler struct {
	threads store.ThreadStore
}

func NewHealthHandler(threads store.ThreadStore) *HealthHandler {
	return &HealthHandler{threads: threads}
}

// Check handles GET /health
// Reports degraded (503) while the thread store is unreachable, so load
// balancers hold traffic instead of routing requests that would fail with
// storage errors.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	if err := h.threads.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:  "degraded",
			Storage: "unreachable",
		})
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Storage: "ok",
	})
}
