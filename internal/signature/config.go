package signature

import (
	"context"
	"time"

	"webhook-verifier/internal/replay"
)

// ReplaySettings is the global replay protection policy.
type ReplaySettings struct {
	Enabled bool
	// Tolerance bounds timestamp age and nonce lifetime. Zero means 300s.
	Tolerance time.Duration
}

// Settings is the verifier-wide configuration.
type Settings struct {
	// Secrets maps built-in provider identifiers to shared secrets.
	Secrets map[string]string
	Replay  ReplaySettings
	// LogAttempts logs every rejected delivery at warn level.
	LogAttempts bool
	// OnVerified runs after each successful verification.
	OnVerified func(ctx context.Context, result *Result)
}

// ReplayOverride changes the replay policy for one route. Nil fields keep
// the global value.
type ReplayOverride struct {
	Enabled   *bool
	Tolerance time.Duration
}

// RouteOptions is the per-route configuration.
type RouteOptions struct {
	Provider string
	// Secret overrides Settings.Secrets. Custom providers must set it.
	Secret string
	Custom *CustomConfig
	Replay *ReplayOverride
}

// Effective is the fully resolved configuration for one request.
type Effective struct {
	Provider      string
	Secret        string
	Custom        *CustomConfig
	ReplayEnabled bool
	Tolerance     time.Duration
}

// Merge resolves route options against the global settings. A route value
// always wins over the global one; the global secret map never applies to
// custom providers.
func Merge(settings Settings, route RouteOptions) Effective {
	eff := Effective{
		Provider:      route.Provider,
		Secret:        route.Secret,
		Custom:        route.Custom,
		ReplayEnabled: settings.Replay.Enabled,
		Tolerance:     settings.Replay.Tolerance,
	}

	if eff.Secret == "" && route.Provider != ProviderCustom {
		eff.Secret = settings.Secrets[route.Provider]
	}

	if route.Replay != nil {
		if route.Replay.Enabled != nil {
			eff.ReplayEnabled = *route.Replay.Enabled
		}
		if route.Replay.Tolerance > 0 {
			eff.Tolerance = route.Replay.Tolerance
		}
	}

	if eff.Tolerance <= 0 {
		eff.Tolerance = replay.DefaultTolerance
	}
	return eff
}
