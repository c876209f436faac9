package handlers

import (
	"net/http"

	"webhook-verifier/internal/common/errors"
	"webhook-verifier/internal/common/logging"
)

// NotFound answers unknown paths, including webhook paths with no configured
// route, with a JSON error body.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	err := errors.NotFoundError("webhook route")

	h.logger.WithContext(r.Context()).Debug("No route for request",
		logging.String("method", r.Method),
		logging.String("path", r.URL.Path),
	)

	writeJSON(w, errors.HTTPStatus(errors.GetType(err)), map[string]string{
		"error":   string(err.Type),
		"message": err.Message,
	})
}
