package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"webhook-verifier/internal/common/logging"
	"webhook-verifier/internal/replay"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

type Handlers struct {
	store   replay.HealthChecker
	logger  logging.Logger
	started time.Time
}

// New creates the HTTP handlers. store may be nil when no nonce store is
// configured.
func New(store replay.HealthChecker, logger logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Handlers{
		store:   store,
		logger:  logger,
		started: time.Now(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
