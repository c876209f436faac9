package handlers

import (
	"context"
	"net/http"
	"time"

	"webhook-verifier/internal/common/errors"
	"webhook-verifier/internal/common/logging"
)

// HealthCheck reports process and nonce store health
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health [get]
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
		"version":   Version,
		"uptime":    time.Since(h.started).Round(time.Second).String(),
	}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.store.Health(ctx); err != nil {
			h.logger.Error("Nonce store unhealthy", err,
				logging.String("error_type", string(errors.GetType(err))),
			)
			health["status"] = "unhealthy"
			health["nonce_store"] = "unreachable"
			writeJSON(w, http.StatusServiceUnavailable, health)
			return
		}
		health["nonce_store"] = "ok"
	}

	writeJSON(w, http.StatusOK, health)
}
