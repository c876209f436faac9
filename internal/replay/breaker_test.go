package replay

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhook-verifier/internal/circuitbreaker"
	"webhook-verifier/internal/common/errors"
)

type failingStore struct {
	calls int
}

func (s *failingStore) Seen(context.Context, string) (bool, error) {
	s.calls++
	return false, errors.ConnectionError("nonce lookup failed", stderrors.New("connection refused"))
}

func (s *failingStore) Record(context.Context, string, time.Time) error {
	s.calls++
	return errors.ConnectionError("nonce write failed", stderrors.New("connection refused"))
}

func newTestBreaker() *circuitbreaker.Breaker {
	return circuitbreaker.New("test", circuitbreaker.Config{
		MaxFailures:           3,
		Timeout:               time.Minute,
		MaxConcurrentRequests: 1,
	}, nil)
}

func TestBreakerStore_PassesThrough(t *testing.T) {
	ctx := context.Background()
	store := NewBreakerStore(NewMemoryStore(0, nil), newTestBreaker())

	created, err := store.Claim(ctx, "n", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.Claim(ctx, "n", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, created)

	seen, err := store.Seen(ctx, "n")
	require.NoError(t, err)
	assert.True(t, seen)

	require.NoError(t, store.Record(ctx, "m", time.Now().Add(-time.Second)))
	removed, err := store.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoError(t, store.Health(ctx))
	assert.IsType(t, &MemoryStore{}, store.Unwrap())
}

func TestBreakerStore_OpensAfterFailures(t *testing.T) {
	ctx := context.Background()
	inner := &failingStore{}
	breaker := newTestBreaker()
	store := NewBreakerStore(inner, breaker)

	for i := 0; i < 3; i++ {
		_, err := store.Seen(ctx, "n")
		require.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())
	assert.Equal(t, 3, inner.calls)

	_, err := store.Claim(ctx, "n", time.Now().Add(time.Minute))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
	assert.Contains(t, err.Error(), "circuit breaker")
	assert.Equal(t, 3, inner.calls, "open breaker must not reach the store")

	healthErr := store.Health(ctx)
	require.Error(t, healthErr)
	assert.True(t, errors.IsType(healthErr, errors.ErrTypeConnection))
	assert.Contains(t, healthErr.Error(), "'test' is open")
}

func TestBreakerStore_ClaimFallbackForPlainStore(t *testing.T) {
	ctx := context.Background()
	store := NewBreakerStore(newPlainStore(), newTestBreaker())

	created, err := store.Claim(ctx, "n", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.Claim(ctx, "n", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, created)

	removed, err := store.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
