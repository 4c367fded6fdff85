package quota

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable wraps every counter store failure surfaced by the
// Limiter.
var ErrStoreUnavailable = errors.New("counter store unavailable")

// Counter is the state of one identity's window as seen by the store.
type Counter struct {
	Count int64
	// TTL is the time until the window expires; zero when the key is absent.
	TTL time.Duration
}

// Store is a key-value store with expiring integer counters.
//
// Admit must be atomic per key: when the current count is below limit it is
// incremented (a missing or expired key starts at 1 with a TTL of window),
// otherwise nothing changes. The returned bool reports whether the increment
// happened.
type Store interface {
	Admit(ctx context.Context, key string, limit int, window time.Duration) (Counter, bool, error)
	Peek(ctx context.Context, key string) (Counter, error)
	Ping(ctx context.Context) error
	Close() error
}
