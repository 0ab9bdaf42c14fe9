package handlers

import (
	"net/http"
	"time"
)

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status  string    `json:"status"`
	Service string    `json:"service"`
	Version string    `json:"version"`
	Time    time.Time `json:"time"`
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	Version string
}

// Check returns the service health status.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: "flowmarker-backend",
		Version: h.Version,
		Time:    time.Now().UTC(),
	})
}
