package quota

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisTLSConfig controls TLS behaviour for Redis connections. A rediss://
// URL enables TLS on its own; these settings add a private CA, a client
// certificate, or relax verification.
type RedisTLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// RedisConfig configures the Redis-backed counter store.
type RedisConfig struct {
	URL      string
	TLS      RedisTLSConfig
	Timeout  time.Duration
	PoolSize int
}

// admitScript increments KEYS[1] only while it is below ARGV[1]. A fresh key
// gets a TTL of ARGV[2] milliseconds; a key that somehow lost its TTL gets it
// back. Returns {admitted, count, pttl}.
var admitScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local limit = tonumber(ARGV[1])
if current >= limit then
  return {0, current, redis.call("PTTL", KEYS[1])}
end
current = redis.call("INCR", KEYS[1])
if current == 1 or redis.call("PTTL", KEYS[1]) < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return {1, current, redis.call("PTTL", KEYS[1])}
`)

// RedisStore keeps counters in Redis so every replica shares one quota.
type RedisStore struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// NewRedisStore parses cfg.URL (redis:// or rediss://) and builds a client.
// No connection is made until the first command; call Ping to fail fast.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return nil, errors.New("redis url is required")
	}
	parsed, err := redis.ParseURL(raw)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	tlsConfig, err := buildTLSConfig(cfg.TLS, parsed.TLSConfig)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:            []string{parsed.Addr},
		Username:         parsed.Username,
		Password:         parsed.Password,
		DB:               parsed.DB,
		TLSConfig:        tlsConfig,
		DialTimeout:      timeout,
		ReadTimeout:      timeout,
		WriteTimeout:     timeout,
		PoolSize:         cfg.PoolSize,
		MaxRetries:       2,
		DisableIndentity: true,
	})
	return &RedisStore{client: client, timeout: timeout}, nil
}

func (s *RedisStore) Admit(ctx context.Context, key string, limit int, window time.Duration) (Counter, bool, error) {
	windowMillis := window.Milliseconds()
	if windowMillis <= 0 {
		windowMillis = 1000
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := admitScript.Run(ctx, s.client, []string{key}, limit, windowMillis).Result()
	if err != nil {
		return Counter{}, false, fmt.Errorf("run admit script: %w", err)
	}
	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return Counter{}, false, fmt.Errorf("unexpected admit script reply %T", result)
	}
	admitted, ok1 := values[0].(int64)
	count, ok2 := values[1].(int64)
	ttlMillis, ok3 := values[2].(int64)
	if !ok1 || !ok2 || !ok3 {
		return Counter{}, false, fmt.Errorf("unexpected admit script values %v", values)
	}
	return Counter{Count: count, TTL: millis(ttlMillis)}, admitted == 1, nil
}

func (s *RedisStore) Peek(ctx context.Context, key string) (Counter, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Counter{}, fmt.Errorf("read counter: %w", err)
	}

	count, err := getCmd.Int64()
	if errors.Is(err, redis.Nil) {
		return Counter{}, nil
	}
	if err != nil {
		return Counter{}, fmt.Errorf("parse counter: %w", err)
	}
	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = 0
	}
	return Counter{Count: count, TTL: ttl}, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func millis(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func buildTLSConfig(cfg RedisTLSConfig, fromURL *tls.Config) (*tls.Config, error) {
	custom := cfg.CAFile != "" || cfg.CertFile != "" || cfg.KeyFile != "" || cfg.InsecureSkipVerify || cfg.ServerName != ""
	if !custom {
		return fromURL, nil
	}
	var tlsCfg *tls.Config
	if fromURL != nil {
		tlsCfg = fromURL.Clone()
	} else {
		tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	tlsCfg.InsecureSkipVerify = cfg.InsecureSkipVerify
	if cfg.ServerName != "" {
		tlsCfg.ServerName = cfg.ServerName
	}
	if cfg.CAFile != "" {
		pemData, err := os.ReadFile(filepath.Clean(cfg.CAFile))
		if err != nil {
			return nil, fmt.Errorf("read redis tls ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("redis tls ca is invalid")
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(filepath.Clean(cfg.CertFile), filepath.Clean(cfg.KeyFile))
		if err != nil {
			return nil, fmt.Errorf("load redis tls certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
