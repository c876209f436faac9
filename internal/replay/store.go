package replay

import (
	"context"
	"time"
)

// Store is the minimal nonce storage contract.
type Store interface {
	// Seen reports whether key was recorded and has not yet expired.
	Seen(ctx context.Context, key string) (bool, error)
	// Record marks key as seen until expiresAt.
	Record(ctx context.Context, key string, expiresAt time.Time) error
}

// AtomicStore can record a key only if it is absent, in one step.
type AtomicStore interface {
	Store
	// Claim records key until expiresAt unless an unexpired entry exists.
	// It reports whether this call created the entry.
	Claim(ctx context.Context, key string, expiresAt time.Time) (bool, error)
}

// Cleaner removes expired entries and reports how many were deleted.
type Cleaner interface {
	Cleanup(ctx context.Context) (int, error)
}

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}
