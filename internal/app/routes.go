package app

import (
	"net/http"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"

	"webhook-verifier/internal/handlers"
	"webhook-verifier/internal/middleware"
	"webhook-verifier/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes for the application
func SetupRoutes(router *mux.Router, h *handlers.Handlers, verifier middleware.Verifier, routes []Route, maxBodyBytes int64, limiter *ratelimit.Limiter) {
	// Add logging middleware to all routes
	router.Use(middleware.LoggingMiddleware)
	router.NotFoundHandler = middleware.LoggingMiddleware(http.HandlerFunc(h.NotFound))

	// Health check
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// Swagger UI
	router.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	// Webhook endpoints, one per configured route
	webhooks := router.PathPrefix("/webhooks").Subrouter()
	if limiter != nil {
		webhooks.Use(limiter.HTTPMiddleware(limiter.EndpointIPKey))
	}
	capture := middleware.CaptureRawBody(maxBodyBytes)
	for _, route := range routes {
		verify := middleware.Signature(verifier, route.Options)
		webhooks.Handle("/"+route.Path, capture(verify(http.HandlerFunc(h.HandleWebhook)))).Methods("POST")
	}
}
