// Package quota enforces a fixed number of requests per identity inside a
// fixed window, backed by a shared counter store.
package quota

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Config fixes the quota at startup.
type Config struct {
	Limit     int
	Window    time.Duration
	KeyPrefix string
	// HashKeys stores a BLAKE2b digest of the identity instead of the
	// identity itself.
	HashKeys bool
}

// Decision is the outcome of a single Admit call.
type Decision struct {
	Allowed   bool
	Used      int
	Remaining int
	Limit     int
	ResetIn   time.Duration
}

// RetryAfter rounds ResetIn up to whole seconds, never below one.
func (d Decision) RetryAfter() int {
	seconds := int(math.Ceil(d.ResetIn.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

// Status is the read-only view of an identity's current window.
type Status struct {
	Identity  string
	Used      int
	Remaining int
	Limit     int
	Window    time.Duration
	ResetIn   time.Duration
}

// KeyFunc maps an identity to its counter key.
type KeyFunc func(identity string) string

// PrefixKey stores counters under "<prefix>:<identity>".
func PrefixKey(prefix string) KeyFunc {
	prefix = strings.TrimSuffix(prefix, ":")
	return func(identity string) string {
		return prefix + ":" + identity
	}
}

// HashedKey stores counters under "<prefix>:<hex blake2b-256(identity)>" so
// the store never holds caller emails.
func HashedKey(prefix string) KeyFunc {
	prefix = strings.TrimSuffix(prefix, ":")
	return func(identity string) string {
		sum := blake2b.Sum256([]byte(identity))
		return prefix + ":" + hex.EncodeToString(sum[:])
	}
}

// Limiter admits or rejects identities against a Store.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	key    KeyFunc
}

// NewLimiter validates cfg and binds it to store.
func NewLimiter(store Store, cfg Config) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("counter store is required")
	}
	if cfg.Limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", cfg.Limit)
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %s", cfg.Window)
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "audiofetch:quota"
	}
	key := PrefixKey(prefix)
	if cfg.HashKeys {
		key = HashedKey(prefix)
	}
	return &Limiter{store: store, limit: cfg.Limit, window: cfg.Window, key: key}, nil
}

// Admit consumes one request from identity's window when any remain.
func (l *Limiter) Admit(ctx context.Context, identity string) (Decision, error) {
	counter, allowed, err := l.store.Admit(ctx, l.key(identity), l.limit, l.window)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	used := clampCount(counter.Count, l.limit)
	return Decision{
		Allowed:   allowed,
		Used:      used,
		Remaining: l.limit - used,
		Limit:     l.limit,
		ResetIn:   l.resetIn(counter.TTL),
	}, nil
}

// Status reports identity's usage without consuming a request.
func (l *Limiter) Status(ctx context.Context, identity string) (Status, error) {
	counter, err := l.store.Peek(ctx, l.key(identity))
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	used := clampCount(counter.Count, l.limit)
	status := Status{
		Identity:  identity,
		Used:      used,
		Remaining: l.limit - used,
		Limit:     l.limit,
		Window:    l.window,
	}
	if counter.Count > 0 {
		status.ResetIn = l.resetIn(counter.TTL)
	}
	return status, nil
}

// Ping checks the backing store.
func (l *Limiter) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}

func (l *Limiter) resetIn(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return l.window
	}
	return ttl
}

func clampCount(count int64, limit int) int {
	if count < 0 {
		return 0
	}
	if count > int64(limit) {
		return limit
	}
	return int(count)
}
