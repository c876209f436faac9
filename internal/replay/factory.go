package replay

import (
	"fmt"
	"time"

	"webhook-verifier/internal/circuitbreaker"
	"webhook-verifier/internal/common/logging"
	"webhook-verifier/internal/redis"
)

// Store backends accepted by NewStore.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Options selects and configures a nonce store.
type Options struct {
	Type          string
	SweepInterval time.Duration
	KeyPrefix     string
	Redis         *redis.Config
	SQLitePath    string
	PostgresDSN   string
	Breaker       circuitbreaker.Config
}

// ManagedStore is a store with a lifecycle, as returned by NewStore.
type ManagedStore interface {
	AtomicStore
	Start() error
	Close() error
}

// NewStore builds the configured backend. Networked backends are wrapped in
// a circuit breaker. The caller starts the returned store and closes it on
// shutdown.
func NewStore(opts Options, logger logging.Logger) (ManagedStore, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if opts.Breaker == (circuitbreaker.Config{}) {
		opts.Breaker = circuitbreaker.DefaultConfig()
	}

	switch opts.Type {
	case "", StoreMemory:
		return NewMemoryStore(opts.SweepInterval, logger), nil

	case StoreRedis:
		if opts.Redis == nil {
			return nil, fmt.Errorf("redis nonce store requires redis configuration")
		}
		client, err := redis.NewClient(opts.Redis)
		if err != nil {
			return nil, err
		}
		return NewBreakerStore(
			NewRedisStore(client, opts.KeyPrefix),
			circuitbreaker.New("nonce-store-redis", opts.Breaker, logger),
		), nil

	case StoreSQLite:
		if opts.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite nonce store requires a database path")
		}
		store, err := OpenSQLStore(DialectSQLite, opts.SQLitePath, opts.SweepInterval, logger)
		if err != nil {
			return nil, err
		}
		return NewBreakerStore(store, circuitbreaker.New("nonce-store-sqlite", opts.Breaker, logger)), nil

	case StorePostgres:
		if opts.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres nonce store requires a DSN")
		}
		store, err := OpenSQLStore(DialectPostgres, opts.PostgresDSN, opts.SweepInterval, logger)
		if err != nil {
			return nil, err
		}
		return NewBreakerStore(store, circuitbreaker.New("nonce-store-postgres", opts.Breaker, logger)), nil

	default:
		return nil, fmt.Errorf("unknown nonce store type: %q", opts.Type)
	}
}
