package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func baseEnv() map[string]string {
	return map[string]string{
		"SECRET":    "topsecret",
		"REDIS_URL": "redis://localhost:6379/0",
	}
}

func TestResolveDefaults(t *testing.T) {
	cfg, err := Resolve("", envLookup(baseEnv()))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if cfg.Addr != DefaultAddr {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.Quota.Limit != 5 || cfg.Quota.Window() != time.Minute {
		t.Fatalf("unexpected quota defaults: %+v", cfg.Quota)
	}
	if cfg.Quota.Store != StoreRedis {
		t.Fatalf("expected redis store by default, got %q", cfg.Quota.Store)
	}
	if cfg.Cookies != nil {
		t.Fatalf("expected no cookies without blob")
	}
	if cfg.Janitor.MaxAge != 2*DefaultDownloadTimeout {
		t.Fatalf("expected janitor max age to follow download timeout, got %s", cfg.Janitor.MaxAge)
	}
	if len(cfg.HTTP.AllowedOrigins) != 2 {
		t.Fatalf("expected default origins, got %v", cfg.HTTP.AllowedOrigins)
	}
}

func TestResolveRequiresSecret(t *testing.T) {
	env := baseEnv()
	delete(env, "SECRET")

	_, err := Resolve("", envLookup(env))
	if err == nil {
		t.Fatal("expected error when SECRET is missing")
	}
	if !strings.Contains(err.Error(), "SECRET") {
		t.Fatalf("expected error to name SECRET, got %v", err)
	}
}

func TestResolveRequiresRedisURLUnlessMemory(t *testing.T) {
	env := baseEnv()
	delete(env, "REDIS_URL")

	if _, err := Resolve("", envLookup(env)); err == nil || !strings.Contains(err.Error(), "REDIS_URL") {
		t.Fatalf("expected REDIS_URL error, got %v", err)
	}

	env["AUDIOFETCH_COUNTER_STORE"] = "Memory"
	cfg, err := Resolve("", envLookup(env))
	if err != nil {
		t.Fatalf("expected memory store to be accepted: %v", err)
	}
	if cfg.Quota.Store != StoreMemory {
		t.Fatalf("expected memory store, got %q", cfg.Quota.Store)
	}
}

func TestResolveDecodesCookieBlob(t *testing.T) {
	env := baseEnv()
	env["YT_COOKIE_BASE64"] = "IyBOZXRzY2FwZSBIVFRQIENvb2tpZSBGaWxl"

	cfg, err := Resolve("", envLookup(env))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if string(cfg.Cookies) != "# Netscape HTTP Cookie File" {
		t.Fatalf("unexpected cookies %q", cfg.Cookies)
	}

	env["YT_COOKIE_BASE64"] = "not base64!!"
	if _, err := Resolve("", envLookup(env)); err == nil || !strings.Contains(err.Error(), "YT_COOKIE_BASE64") {
		t.Fatalf("expected cookie decode error, got %v", err)
	}
}

func TestResolveEnvOverrides(t *testing.T) {
	env := baseEnv()
	env["RATE_LIMIT_REQUESTS"] = "10"
	env["RATE_LIMIT_WINDOW_SECONDS"] = "120"
	env["AUDIOFETCH_RATE_HASH_KEYS"] = "true"
	env["AUDIOFETCH_DOWNLOAD_TIMEOUT"] = "90"
	env["AUDIOFETCH_IDENTITY_TIMEOUT"] = "2s"
	env["AUDIOFETCH_ALLOWED_ORIGINS"] = " https://a.example , https://b.example "
	env["AUDIOFETCH_IDENTITY_PROVIDER"] = "TokenInfo"

	cfg, err := Resolve("", envLookup(env))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Quota.Limit != 10 || cfg.Quota.Window() != 2*time.Minute || !cfg.Quota.HashKeys {
		t.Fatalf("unexpected quota %+v", cfg.Quota)
	}
	if cfg.Download.Timeout != 90*time.Second {
		t.Fatalf("expected bare integer to be seconds, got %s", cfg.Download.Timeout)
	}
	if cfg.Identity.Timeout != 2*time.Second {
		t.Fatalf("unexpected identity timeout %s", cfg.Identity.Timeout)
	}
	if cfg.Identity.Provider != ProviderTokenInfo {
		t.Fatalf("expected provider to be normalised, got %q", cfg.Identity.Provider)
	}
	if got := cfg.HTTP.AllowedOrigins; len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", got)
	}
}

func TestResolveRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{name: "non numeric limit", key: "RATE_LIMIT_REQUESTS", val: "five", want: "invalid RATE_LIMIT_REQUESTS"},
		{name: "zero limit", key: "RATE_LIMIT_REQUESTS", val: "0", want: "RATE_LIMIT_REQUESTS"},
		{name: "unknown store", key: "AUDIOFETCH_COUNTER_STORE", val: "etcd", want: "AUDIOFETCH_COUNTER_STORE"},
		{name: "unknown provider", key: "AUDIOFETCH_IDENTITY_PROVIDER", val: "saml", want: "AUDIOFETCH_IDENTITY_PROVIDER"},
		{name: "bad duration", key: "AUDIOFETCH_DOWNLOAD_TIMEOUT", val: "soon", want: "invalid AUDIOFETCH_DOWNLOAD_TIMEOUT"},
		{name: "bad origin", key: "AUDIOFETCH_ALLOWED_ORIGINS", val: "not a url", want: "AUDIOFETCH_ALLOWED_ORIGINS"},
		{name: "bad format", key: "AUDIOFETCH_LOG_FORMAT", val: "xml", want: "AUDIOFETCH_LOG_FORMAT"},
		{name: "bad skip verify", key: "AUDIOFETCH_REDIS_TLS_SKIP_VERIFY", val: "maybe", want: "invalid AUDIOFETCH_REDIS_TLS_SKIP_VERIFY"},
		{name: "negative pool size", key: "AUDIOFETCH_REDIS_POOL_SIZE", val: "-1", want: "AUDIOFETCH_REDIS_POOL_SIZE"},
		{name: "bad redis timeout", key: "AUDIOFETCH_REDIS_TIMEOUT", val: "later", want: "invalid AUDIOFETCH_REDIS_TIMEOUT"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			env := baseEnv()
			env[tc.key] = tc.val
			_, err := Resolve("", envLookup(env))
			if err == nil {
				t.Fatalf("expected error for %s=%q", tc.key, tc.val)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestResolveRequiresTLSPair(t *testing.T) {
	env := baseEnv()
	env["AUDIOFETCH_TLS_CERT"] = "/etc/tls/cert.pem"

	if _, err := Resolve("", envLookup(env)); err == nil || !strings.Contains(err.Error(), "AUDIOFETCH_TLS_KEY") {
		t.Fatalf("expected TLS key error, got %v", err)
	}
}

func TestResolveRedisTLSFromEnv(t *testing.T) {
	env := baseEnv()
	env["REDIS_URL"] = "rediss://cache.internal:6380/0"
	env["AUDIOFETCH_REDIS_TLS_CA"] = "/etc/redis/ca.pem"
	env["AUDIOFETCH_REDIS_TLS_CERT"] = "/etc/redis/client.pem"
	env["AUDIOFETCH_REDIS_TLS_KEY"] = "/etc/redis/client.key"
	env["AUDIOFETCH_REDIS_TLS_SERVER_NAME"] = "cache.internal"
	env["AUDIOFETCH_REDIS_TLS_SKIP_VERIFY"] = "true"
	env["AUDIOFETCH_REDIS_TIMEOUT"] = "3s"
	env["AUDIOFETCH_REDIS_POOL_SIZE"] = "20"

	cfg, err := Resolve("", envLookup(env))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := RedisTLSConfig{
		CAFile:             "/etc/redis/ca.pem",
		CertFile:           "/etc/redis/client.pem",
		KeyFile:            "/etc/redis/client.key",
		ServerName:         "cache.internal",
		InsecureSkipVerify: true,
	}
	if cfg.Quota.RedisTLS != want {
		t.Fatalf("expected %+v, got %+v", want, cfg.Quota.RedisTLS)
	}
	if cfg.Quota.RedisTimeout != 3*time.Second || cfg.Quota.RedisPoolSize != 20 {
		t.Fatalf("unexpected redis pool settings %+v", cfg.Quota)
	}
}

func TestResolveRequiresRedisClientKeyPair(t *testing.T) {
	env := baseEnv()
	env["AUDIOFETCH_REDIS_TLS_CERT"] = "/etc/redis/client.pem"

	if _, err := Resolve("", envLookup(env)); err == nil || !strings.Contains(err.Error(), "AUDIOFETCH_REDIS_TLS_KEY") {
		t.Fatalf("expected redis client key error, got %v", err)
	}
}

func TestResolveYAMLFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audiofetch.yaml")
	contents := `addr: ":7000"
secret: from-file
quota:
  store: memory
  limit: 3
  window_seconds: 30
  redis_timeout: 4s
  redis_tls:
    ca_file: /etc/redis/ca.pem
download:
  dir: /var/lib/audiofetch
  timeout: 2m
janitor:
  interval: 30s
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	env := map[string]string{
		"AUDIOFETCH_CONFIG":   path,
		"RATE_LIMIT_REQUESTS": "8",
	}
	cfg, err := Resolve("", envLookup(env))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if cfg.Addr != ":7000" || cfg.Secret != "from-file" {
		t.Fatalf("expected file values, got addr=%q secret=%q", cfg.Addr, cfg.Secret)
	}
	if cfg.Quota.Limit != 8 {
		t.Fatalf("expected env to override file limit, got %d", cfg.Quota.Limit)
	}
	if cfg.Quota.WindowSeconds != 30 || cfg.Quota.Store != StoreMemory || cfg.Quota.RedisTimeout != 4*time.Second || cfg.Quota.RedisTLS.CAFile != "/etc/redis/ca.pem" {
		t.Fatalf("unexpected quota %+v", cfg.Quota)
	}
	if cfg.Download.Timeout != 2*time.Minute || cfg.Janitor.MaxAge != 4*time.Minute {
		t.Fatalf("unexpected durations: timeout=%s max_age=%s", cfg.Download.Timeout, cfg.Janitor.MaxAge)
	}
	if cfg.Download.YTDLPPath != DefaultYTDLPPath {
		t.Fatalf("expected defaults to survive file overlay, got %q", cfg.Download.YTDLPPath)
	}
}

func TestResolveMissingFile(t *testing.T) {
	_, err := Resolve(filepath.Join(t.TempDir(), "missing.yaml"), envLookup(baseEnv()))
	if err == nil || !strings.Contains(err.Error(), "failed to read config file") {
		t.Fatalf("expected read error, got %v", err)
	}
}
