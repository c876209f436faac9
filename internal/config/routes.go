package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"webhook-verifier/internal/common/validation"
	"webhook-verifier/internal/crypto"
	"webhook-verifier/internal/signature"
)

// RouteConfig is one entry of the ROUTES_FILE list. Each route is served at
// /webhooks/<path>.
//
//	[
//	  {
//	    "path": "billing",
//	    "provider": "stripe",
//	    "secret": "env:BILLING_STRIPE_SECRET",
//	    "replay": {"tolerance_seconds": 120}
//	  },
//	  {
//	    "path": "acme",
//	    "provider": "custom",
//	    "secret": "enc:...",
//	    "custom": {
//	      "name": "acme",
//	      "signature_header": "X-Acme-Signature",
//	      "timestamp_header": "X-Acme-Timestamp",
//	      "algorithm": "sha256",
//	      "payload_template": "${timestamp}.${body}"
//	    }
//	  }
//	]
type RouteConfig struct {
	Path     string `json:"path" validate:"required,route_path"`
	Provider string `json:"provider" validate:"required"`

	// Secret accepts a literal value, "env:VAR_NAME" or "enc:<ciphertext>".
	// When empty the provider's global secret is used.
	Secret string                  `json:"secret,omitempty"`
	Custom *signature.CustomConfig `json:"custom,omitempty"`
	Replay *RouteReplayConfig      `json:"replay,omitempty"`
}

// RouteReplayConfig overrides replay protection for a single route.
type RouteReplayConfig struct {
	Enabled          *bool `json:"enabled,omitempty"`
	ToleranceSeconds int   `json:"tolerance_seconds,omitempty" validate:"min=0"`
}

// Validate checks field formats and the custom provider requirements.
func (r *RouteConfig) Validate() error {
	if err := validation.ValidateStruct(r); err != nil {
		return err
	}

	if strings.ToLower(r.Provider) == signature.ProviderCustom {
		if r.Custom == nil {
			return fmt.Errorf("route %q: custom provider requires a custom block", r.Path)
		}
		if r.Secret == "" {
			return fmt.Errorf("route %q: custom provider requires its own secret", r.Path)
		}
	} else if r.Custom != nil {
		return fmt.Errorf("route %q: custom block is only allowed with provider custom", r.Path)
	}

	return nil
}

// ToRouteOptions resolves the route secret and converts the entry into
// per-route verification options.
func (r *RouteConfig) ToRouteOptions(box *crypto.SecretBox) (signature.RouteOptions, error) {
	secret, err := resolveSecret(box, r.Secret)
	if err != nil {
		return signature.RouteOptions{}, fmt.Errorf("route %q: %w", r.Path, err)
	}

	opts := signature.RouteOptions{
		Provider: strings.ToLower(r.Provider),
		Secret:   secret,
		Custom:   r.Custom,
	}

	if r.Replay != nil {
		opts.Replay = &signature.ReplayOverride{
			Enabled:   r.Replay.Enabled,
			Tolerance: time.Duration(r.Replay.ToleranceSeconds) * time.Second,
		}
	}

	return opts, nil
}

// LoadRoutes reads and validates a JSON route list. Paths must be unique.
func LoadRoutes(path string) ([]RouteConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routes file: %w", err)
	}

	var routes []RouteConfig
	if err := json.Unmarshal(data, &routes); err != nil {
		return nil, fmt.Errorf("failed to parse routes file: %w", err)
	}

	seen := make(map[string]bool, len(routes))
	for i := range routes {
		if err := routes[i].Validate(); err != nil {
			return nil, fmt.Errorf("invalid route at index %d: %w", i, err)
		}
		if seen[routes[i].Path] {
			return nil, fmt.Errorf("duplicate route path %q", routes[i].Path)
		}
		seen[routes[i].Path] = true
	}

	return routes, nil
}

func resolveSecret(box *crypto.SecretBox, value string) (string, error) {
	if name, ok := strings.CutPrefix(value, "env:"); ok {
		value = os.Getenv(name)
		if value == "" {
			return "", fmt.Errorf("environment variable %s is not set", name)
		}
	}
	return crypto.Reveal(box, value)
}
