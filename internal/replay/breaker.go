package replay

import (
	"context"
	"fmt"
	"time"

	"webhook-verifier/internal/circuitbreaker"
	"webhook-verifier/internal/common/errors"
)

// BreakerStore routes every call to a networked store through a circuit
// breaker. While the breaker is open calls fail immediately with a
// connection error.
type BreakerStore struct {
	inner   Store
	breaker *circuitbreaker.Breaker
}

// NewBreakerStore wraps inner.
func NewBreakerStore(inner Store, breaker *circuitbreaker.Breaker) *BreakerStore {
	return &BreakerStore{inner: inner, breaker: breaker}
}

// Unwrap returns the wrapped store.
func (s *BreakerStore) Unwrap() Store {
	return s.inner
}

func (s *BreakerStore) Seen(ctx context.Context, key string) (bool, error) {
	var seen bool
	err := s.breaker.Execute(func() error {
		var err error
		seen, err = s.inner.Seen(ctx, key)
		return err
	})
	return seen, err
}

func (s *BreakerStore) Record(ctx context.Context, key string, expiresAt time.Time) error {
	return s.breaker.Execute(func() error {
		return s.inner.Record(ctx, key, expiresAt)
	})
}

// Claim is atomic only when the wrapped store is.
func (s *BreakerStore) Claim(ctx context.Context, key string, expiresAt time.Time) (bool, error) {
	atomic, ok := s.inner.(AtomicStore)
	if !ok {
		seen, err := s.Seen(ctx, key)
		if err != nil || seen {
			return false, err
		}
		return true, s.Record(ctx, key, expiresAt)
	}

	var created bool
	err := s.breaker.Execute(func() error {
		var err error
		created, err = atomic.Claim(ctx, key, expiresAt)
		return err
	})
	return created, err
}

func (s *BreakerStore) Cleanup(ctx context.Context) (int, error) {
	cleaner, ok := s.inner.(Cleaner)
	if !ok {
		return 0, nil
	}

	var removed int
	err := s.breaker.Execute(func() error {
		var err error
		removed, err = cleaner.Cleanup(ctx)
		return err
	})
	return removed, err
}

// Health reports an open breaker as unhealthy without probing the store.
func (s *BreakerStore) Health(ctx context.Context) error {
	if s.breaker.State() == circuitbreaker.StateOpen {
		return errors.ConnectionError(fmt.Sprintf("circuit breaker '%s' is open", s.breaker.Name()), nil)
	}
	if checker, ok := s.inner.(HealthChecker); ok {
		return checker.Health(ctx)
	}
	return nil
}

// Start starts the wrapped store's sweep if it has one.
func (s *BreakerStore) Start() error {
	if starter, ok := s.inner.(interface{ Start() error }); ok {
		return starter.Start()
	}
	return nil
}

func (s *BreakerStore) Close() error {
	if closer, ok := s.inner.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
