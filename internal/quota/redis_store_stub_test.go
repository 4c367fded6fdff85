package quota

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"audiofetch/internal/testsupport/redisstub"
)

func TestRedisStorePlainWithPassword(t *testing.T) {
	runRedisStubConnectivity(t, false)
}

func TestRedisStoreTLS(t *testing.T) {
	runRedisStubConnectivity(t, true)
}

func runRedisStubConnectivity(t *testing.T, useTLS bool) {
	t.Helper()
	srv, err := redisstub.Start(redisstub.Options{Password: "secret", EnableTLS: useTLS})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	cfg := RedisConfig{URL: srv.URL(), Timeout: time.Second}
	if useTLS {
		caPath := filepath.Join(t.TempDir(), "ca.pem")
		if err := os.WriteFile(caPath, srv.CertPEM(), 0o600); err != nil {
			t.Fatalf("write ca: %v", err)
		}
		cfg.TLS = RedisTLSConfig{CAFile: caPath}
	}
	store, err := NewRedisStore(cfg)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	limiter, err := NewLimiter(store, Config{Limit: 5, Window: time.Minute, KeyPrefix: "stub"})
	if err != nil {
		t.Fatalf("NewLimiter: %v", err)
	}
	srv.SetCounter("stub:alice", 4, 30*time.Second)

	status, err := limiter.Status(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Used != 4 || status.Remaining != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.ResetIn <= 0 || status.ResetIn > 30*time.Second {
		t.Fatalf("unexpected reset %s", status.ResetIn)
	}
	if srv.CommandCount("GET") == 0 || srv.CommandCount("PTTL") == 0 {
		t.Fatal("expected status to read the counter and its ttl")
	}
}

func TestRedisStoreScriptFailureIsStoreUnavailable(t *testing.T) {
	srv, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	store, err := NewRedisStore(RedisConfig{URL: srv.URL(), Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	limiter, err := NewLimiter(store, Config{Limit: 5, Window: time.Minute})
	if err != nil {
		t.Fatalf("NewLimiter: %v", err)
	}
	if _, err := limiter.Admit(context.Background(), "alice"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if srv.CommandCount("EVALSHA") == 0 {
		t.Fatal("expected the admit script to be attempted")
	}
}

func TestRedisStoreWrongPassword(t *testing.T) {
	srv, err := redisstub.Start(redisstub.Options{Password: "secret"})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	store, err := NewRedisStore(RedisConfig{URL: "redis://:wrong@" + srv.Addr() + "/0", Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Ping(context.Background()); err == nil {
		t.Fatal("expected ping to fail with the wrong password")
	}
}
