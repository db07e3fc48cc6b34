package handler

import (
	"net/http"
)

// GetHealth reports dependency health. Degraded states still answer 200 so
// load balancers keep routing while operators investigate; only a dead
// database answers 503.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := h.services.Health().GetHealth(r.Context())

	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}

	h.respond(w, r, code, status)
}
