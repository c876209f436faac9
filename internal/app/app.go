package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"webhook-verifier/internal/common/logging"
	"webhook-verifier/internal/config"
	"webhook-verifier/internal/handlers"
	"webhook-verifier/internal/ratelimit"
	"webhook-verifier/internal/replay"
	"webhook-verifier/internal/server"
	"webhook-verifier/internal/signature"
)

// App holds all the application dependencies
type App struct {
	Config   *config.Config
	Store    replay.ManagedStore
	Guard    *replay.Guard
	Verifier *signature.Verifier
	Limiter  *ratelimit.Limiter
	Routes   []Route
	Logger   logging.Logger
}

// Route is one mounted webhook endpoint.
type Route struct {
	Path    string
	Options signature.RouteOptions
}

// New creates a new application instance with all dependencies
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
	}

	secrets, err := app.initializeRoutes()
	if err != nil {
		return nil, err
	}

	limiter, err := ratelimit.NewLimiter(cfg.RateLimitConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}
	app.Limiter = limiter

	if err := app.initializeStore(); err != nil {
		return nil, err
	}

	app.Verifier = signature.NewVerifier(signature.Settings{
		Secrets: secrets,
		Replay: signature.ReplaySettings{
			Enabled:   cfg.ReplayEnabled,
			Tolerance: cfg.ReplayToleranceDuration(),
		},
		LogAttempts: cfg.LogVerificationAttempts,
	},
		signature.WithGuard(app.Guard),
		signature.WithLogger(logging.GetGlobalLogger()),
	)

	return app, nil
}

// initializeRoutes mounts one route per configured provider secret plus
// every ROUTES_FILE entry.
func (a *App) initializeRoutes() (map[string]string, error) {
	box, err := a.Config.SecretBox()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize secret decryption: %w", err)
	}

	secrets, err := a.Config.ProviderSecrets(box)
	if err != nil {
		return nil, err
	}

	registry := signature.NewRegistry()
	for _, provider := range registry.Providers() {
		if _, ok := secrets[provider]; ok {
			a.Routes = append(a.Routes, Route{
				Path:    provider,
				Options: signature.RouteOptions{Provider: provider},
			})
		}
	}

	if a.Config.RoutesFile != "" {
		defined, err := config.LoadRoutes(a.Config.RoutesFile)
		if err != nil {
			return nil, err
		}

		mounted := make(map[string]bool, len(a.Routes))
		for _, r := range a.Routes {
			mounted[r.Path] = true
		}

		for i := range defined {
			opts, err := defined[i].ToRouteOptions(box)
			if err != nil {
				return nil, err
			}
			if _, err := registry.Resolve(opts.Provider, opts.Custom); err != nil {
				return nil, fmt.Errorf("route %q: %w", defined[i].Path, err)
			}
			if mounted[defined[i].Path] {
				return nil, fmt.Errorf("route %q collides with a provider route", defined[i].Path)
			}
			mounted[defined[i].Path] = true
			a.Routes = append(a.Routes, Route{Path: defined[i].Path, Options: opts})
		}
	}

	if len(a.Routes) == 0 {
		a.Logger.Warn("No webhook routes configured; set a provider secret or ROUTES_FILE")
	}
	for _, r := range a.Routes {
		a.Logger.Info("Webhook route configured",
			logging.String("path", "/webhooks/"+r.Path),
			logging.String("provider", r.Options.Provider),
		)
	}

	return secrets, nil
}

func (a *App) initializeStore() error {
	store, err := replay.NewStore(a.Config.StoreOptions(), logging.GetGlobalLogger())
	if err != nil {
		return fmt.Errorf("failed to initialize nonce store: %w", err)
	}
	if err := store.Start(); err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to start nonce store: %w", err)
	}

	a.Store = store
	a.Guard = replay.NewGuard(store, a.Config.ReplayToleranceDuration())

	a.Logger.Info("Nonce store ready",
		logging.String("type", a.Config.NonceStore),
		logging.Duration("tolerance", a.Guard.Tolerance()),
		logging.Bool("replay_enabled", a.Config.ReplayEnabled),
	)
	return nil
}

// Handler builds the HTTP router.
func (a *App) Handler() http.Handler {
	var health replay.HealthChecker
	if hc, ok := a.Store.(replay.HealthChecker); ok {
		health = hc
	}

	router := mux.NewRouter()
	SetupRoutes(router, handlers.New(health, logging.GetGlobalLogger()), a.Verifier, a.Routes, a.Config.MaxBodySize(), a.Limiter)
	return router
}

// RunServer creates the HTTP server for the configured port.
func (a *App) RunServer() *server.Server {
	return server.New(a.Handler(), a.Config.Port, a.Config.TLSCert, a.Config.TLSKey)
}

// Shutdown releases the verifier and the nonce store.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error
	if a.Verifier != nil {
		if err := a.Verifier.Close(); err != nil {
			firstErr = err
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
