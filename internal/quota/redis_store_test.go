package quota

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newMiniredisLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(RedisConfig{URL: "redis://" + mr.Addr() + "/0"})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	limiter, err := NewLimiter(store, cfg)
	if err != nil {
		t.Fatalf("NewLimiter: %v", err)
	}
	return limiter, mr
}

func TestRedisStoreAdmitAndReject(t *testing.T) {
	limiter, mr := newMiniredisLimiter(t, Config{Limit: 5, Window: time.Minute, KeyPrefix: "test:quota"})
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		decision, err := limiter.Admit(ctx, "alice@example.com")
		if err != nil {
			t.Fatalf("Admit %d: %v", i, err)
		}
		if !decision.Allowed || decision.Used != i {
			t.Fatalf("request %d: unexpected decision %+v", i, decision)
		}
	}

	decision, err := limiter.Admit(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("Admit 6: %v", err)
	}
	if decision.Allowed {
		t.Fatal("6th request should be rejected")
	}
	if decision.ResetIn <= 0 || decision.ResetIn > time.Minute {
		t.Fatalf("unexpected reset %s", decision.ResetIn)
	}

	value, err := mr.Get("test:quota:alice@example.com")
	if err != nil {
		t.Fatalf("read key: %v", err)
	}
	if value != "5" {
		t.Fatalf("rejection must not increment the counter, got %s", value)
	}
	if ttl := mr.TTL("test:quota:alice@example.com"); ttl != time.Minute {
		t.Fatalf("expected TTL of one window, got %s", ttl)
	}
}

func TestRedisStoreWindowExpires(t *testing.T) {
	limiter, mr := newMiniredisLimiter(t, Config{Limit: 1, Window: time.Minute})
	ctx := context.Background()

	if decision, _ := limiter.Admit(ctx, "alice"); !decision.Allowed {
		t.Fatal("first request should be admitted")
	}
	if decision, _ := limiter.Admit(ctx, "alice"); decision.Allowed {
		t.Fatal("second request should be rejected")
	}

	mr.FastForward(time.Minute + time.Second)

	decision, err := limiter.Admit(ctx, "alice")
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if !decision.Allowed || decision.Used != 1 {
		t.Fatalf("expected a fresh window, got %+v", decision)
	}
}

func TestRedisStoreRestoresMissingTTL(t *testing.T) {
	limiter, mr := newMiniredisLimiter(t, Config{Limit: 5, Window: time.Minute, KeyPrefix: "q"})
	if err := mr.Set("q:alice", "2"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	decision, err := limiter.Admit(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if !decision.Allowed || decision.Used != 3 {
		t.Fatalf("unexpected decision %+v", decision)
	}
	if ttl := mr.TTL("q:alice"); ttl != time.Minute {
		t.Fatalf("expected TTL to be restored, got %s", ttl)
	}
}

func TestRedisStoreConcurrentAdmits(t *testing.T) {
	limiter, _ := newMiniredisLimiter(t, Config{Limit: 5, Window: time.Minute})

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := limiter.Admit(context.Background(), "alice")
			if err != nil {
				t.Errorf("Admit: %v", err)
				return
			}
			if decision.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != 5 {
		t.Fatalf("expected exactly 5 admits, got %d", got)
	}
}

func TestRedisStoreStatus(t *testing.T) {
	limiter, mr := newMiniredisLimiter(t, Config{Limit: 5, Window: time.Minute, HashKeys: true})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := limiter.Admit(ctx, "alice@example.com"); err != nil {
			t.Fatalf("Admit: %v", err)
		}
	}

	status, err := limiter.Status(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Used != 2 || status.Remaining != 3 || status.Limit != 5 || status.Window != time.Minute {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.Identity != "alice@example.com" {
		t.Fatalf("status must report the identity, got %q", status.Identity)
	}
	for _, key := range mr.Keys() {
		if key == "audiofetch:quota:alice@example.com" {
			t.Fatal("hashed keys must not store the raw identity")
		}
	}

	empty, err := limiter.Status(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if empty.Used != 0 || empty.Remaining != 5 {
		t.Fatalf("unexpected empty status %+v", empty)
	}
}

func TestRedisStorePing(t *testing.T) {
	limiter, mr := newMiniredisLimiter(t, Config{Limit: 1, Window: time.Second})
	if err := limiter.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	mr.Close()
	if err := limiter.Ping(context.Background()); err == nil {
		t.Fatal("expected ping to fail once the server is gone")
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore(RedisConfig{}); err == nil {
		t.Fatal("expected error for empty url")
	}
	if _, err := NewRedisStore(RedisConfig{URL: "http://localhost:6379"}); err == nil {
		t.Fatal("expected error for non-redis scheme")
	}
}
