package replay

import (
	"context"
	"time"

	"webhook-verifier/internal/common/errors"
)

// DefaultKeyPrefix namespaces nonce keys in a shared Redis database.
const DefaultKeyPrefix = "webhook:nonce:"

// RedisClient is the subset of the redis client used for nonce storage.
type RedisClient interface {
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
}

// RedisStore keeps nonces as Redis keys whose TTL is the replay window, so
// Redis expires them without a sweep.
type RedisStore struct {
	client RedisClient
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a store. An empty prefix selects DefaultKeyPrefix.
func NewRedisStore(client RedisClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *RedisStore) Seen(ctx context.Context, key string) (bool, error) {
	exists, err := s.client.Exists(ctx, s.prefix+key)
	if err != nil {
		return false, errors.ConnectionError("nonce lookup failed", err)
	}
	return exists, nil
}

func (s *RedisStore) Record(ctx context.Context, key string, expiresAt time.Time) error {
	if err := s.client.Set(ctx, s.prefix+key, s.ttl(expiresAt)); err != nil {
		return errors.ConnectionError("nonce write failed", err)
	}
	return nil
}

func (s *RedisStore) Claim(ctx context.Context, key string, expiresAt time.Time) (bool, error) {
	created, err := s.client.SetIfAbsent(ctx, s.prefix+key, s.ttl(expiresAt))
	if err != nil {
		return false, errors.ConnectionError("nonce claim failed", err)
	}
	return created, nil
}

// Health pings the server when the client supports it.
func (s *RedisStore) Health(_ context.Context) error {
	pinger, ok := s.client.(interface{ Health() error })
	if !ok {
		return nil
	}
	if err := pinger.Health(); err != nil {
		return errors.ConnectionError("redis unreachable", err)
	}
	return nil
}

// Close closes the client when it owns a connection pool.
func (s *RedisStore) Close() error {
	if closer, ok := s.client.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// ttl never returns zero, which Redis would read as "no expiry".
func (s *RedisStore) ttl(expiresAt time.Time) time.Duration {
	ttl := expiresAt.Sub(s.now())
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	return ttl
}
