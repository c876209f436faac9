package signature

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory constructs a fresh provider instance.
type Factory func() *Provider

// Registry maps provider identifiers to factories. The custom identifier is
// reserved: it is always built from a CustomConfig.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in providers.
func NewRegistry() *Registry {
	return &Registry{
		factories: map[string]Factory{
			ProviderStripe:  Stripe,
			ProviderGitHub:  GitHub,
			ProviderSlack:   Slack,
			ProviderShopify: Shopify,
			ProviderTwilio:  Twilio,
		},
	}
}

// Register adds or replaces a provider factory.
func (r *Registry) Register(id string, factory Factory) error {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return fmt.Errorf("provider identifier is required")
	}
	if id == ProviderCustom {
		return fmt.Errorf("provider identifier %q is reserved", ProviderCustom)
	}
	if factory == nil {
		return fmt.Errorf("provider %q: factory is nil", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = factory
	return nil
}

// Resolve returns the provider for id. For the custom identifier cfg is
// required; any identifier without a factory fails with ErrUnknownProvider.
func (r *Registry) Resolve(id string, cfg *CustomConfig) (*Provider, error) {
	if id == ProviderCustom {
		if cfg == nil {
			return nil, newError(KindUnknownProvider, id, "custom provider requires configuration")
		}
		p, err := NewCustom(cfg)
		if err != nil {
			verr := newError(KindUnknownProvider, id, "invalid custom provider configuration")
			verr.Cause = err
			return nil, verr
		}
		return p, nil
	}

	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()

	if !ok {
		return nil, newError(KindUnknownProvider, id, "unsupported provider %q", id)
	}
	return factory(), nil
}

// Providers lists the registered identifiers, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var defaultRegistry = NewRegistry()

// Resolve looks id up in the default registry.
func Resolve(id string, cfg *CustomConfig) (*Provider, error) {
	return defaultRegistry.Resolve(id, cfg)
}
