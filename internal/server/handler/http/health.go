package http

import (
	"net/http"

	"github.com/atinyakov/accounts/internal/guard"
)

// GuardStatus reports readiness of the username guard.
type GuardStatus interface {
	Ready() bool
	Stats() guard.Stats
}

type healthResponse struct {
	Ready bool `json:"ready"`
	guard.Stats
}

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	Guard GuardStatus
}

// Health responds 200 once the filter is bootstrapped and 503 before.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	if !h.Guard.Ready() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthResponse{Ready: status == http.StatusOK, Stats: h.Guard.Stats()})
}
