package handlers

import (
	"context"
	"net/http"
	"time"

	"cache-coordinator/internal/circuitbreaker"
)

// HealthCheck reports service health
// @Summary Health check
// @Description Runs every registered dependency check. An open shared-level breaker marks the service degraded but still healthy.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health [get]
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]interface{}{
		"status":    "healthy",
		"namespace": h.coord.Namespace(),
		"timestamp": time.Now(),
	}
	code := http.StatusOK

	checks := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			checks[c.Name] = err.Error()
			status["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[c.Name] = "ok"
	}
	if len(checks) > 0 {
		status["checks"] = checks
	}

	if bs, ok := h.coord.BreakerStats(); ok {
		status["shared_breaker"] = bs.State
		if bs.State != circuitbreaker.StateClosed.String() && code == http.StatusOK {
			status["status"] = "degraded"
		}
	}

	writeJSON(w, code, status)
}
