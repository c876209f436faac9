package replay

import (
	"context"
	"fmt"
	"time"
)

// DefaultTolerance is the replay window applied when none is configured.
const DefaultTolerance = 300 * time.Second

// Nonce builds the storage key for a verified delivery. The provider keeps
// senders apart in a shared backend; the timestamp is kept at millisecond
// granularity.
func Nonce(provider, signature string, timestamp time.Time) string {
	return fmt.Sprintf("%s:%s:%d", provider, signature, timestamp.UnixMilli())
}

// Guard applies the replay window policy on top of a Store. Expiry sweeping
// is the store's job.
type Guard struct {
	store     Store
	tolerance time.Duration
	now       func() time.Time
}

// NewGuard creates a guard. A non-positive tolerance selects DefaultTolerance.
func NewGuard(store Store, tolerance time.Duration) *Guard {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Guard{
		store:     store,
		tolerance: tolerance,
		now:       time.Now,
	}
}

// WithTolerance returns a guard sharing the same store with a different window.
func (g *Guard) WithTolerance(tolerance time.Duration) *Guard {
	if tolerance <= 0 || tolerance == g.tolerance {
		return g
	}
	clone := *g
	clone.tolerance = tolerance
	return &clone
}

// Tolerance returns the replay window.
func (g *Guard) Tolerance() time.Duration {
	return g.tolerance
}

// Store returns the backing store.
func (g *Guard) Store() Store {
	return g.store
}

// Check reports whether nonce was already recorded.
func (g *Guard) Check(ctx context.Context, nonce string) (bool, error) {
	return g.store.Seen(ctx, nonce)
}

// Record marks nonce as seen for the tolerance window.
func (g *Guard) Record(ctx context.Context, nonce string) error {
	return g.store.Record(ctx, nonce, g.expiry())
}

// Claim records nonce if it is new and reports whether it was. Atomic stores
// do this in one operation; others fall back to Check then Record.
func (g *Guard) Claim(ctx context.Context, nonce string) (bool, error) {
	if atomic, ok := g.store.(AtomicStore); ok {
		return atomic.Claim(ctx, nonce, g.expiry())
	}

	seen, err := g.Check(ctx, nonce)
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}
	if err := g.Record(ctx, nonce); err != nil {
		return false, err
	}
	return true, nil
}

func (g *Guard) expiry() time.Time {
	return g.now().Add(g.tolerance)
}
