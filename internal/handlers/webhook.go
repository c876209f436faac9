package handlers

import (
	"net/http"
	"time"

	"webhook-verifier/internal/common/logging"
	"webhook-verifier/internal/signature"
)

// WebhookResponse acknowledges a verified delivery.
type WebhookResponse struct {
	Received  bool       `json:"received"`
	Provider  string     `json:"provider"`
	EventType string     `json:"event_type,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// HandleWebhook acknowledges a delivery that passed signature verification
// @Summary Acknowledge verified webhook
// @Description Returns the provider, event type and sender timestamp of a verified delivery
// @Tags webhooks
// @Accept json,plain
// @Produce json
// @Param provider path string true "Provider or custom route name"
// @Success 200 {object} WebhookResponse
// @Failure 401 {object} map[string]string
// @Router /webhooks/{provider} [post]
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	result, ok := signature.ResultFromContext(r.Context())
	if !ok || !result.Valid {
		// Route registered without the signature middleware
		h.logger.WithContext(r.Context()).Error("Webhook reached handler unverified", nil,
			logging.String("path", r.URL.Path),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "unverified",
			"message": "webhook endpoint is misconfigured",
		})
		return
	}

	h.logger.WithContext(r.Context()).Info("Webhook accepted",
		logging.String("provider", result.Provider),
		logging.String("event_type", result.EventType),
	)

	writeJSON(w, http.StatusOK, WebhookResponse{
		Received:  true,
		Provider:  result.Provider,
		EventType: result.EventType,
		Timestamp: result.Timestamp,
	})
}
