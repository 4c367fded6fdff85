// Package config resolves the service configuration from an optional YAML
// file, a .env file, and the process environment, in that order of
// precedence (environment wins).
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Counter store drivers.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Identity providers.
const (
	ProviderUserInfo  = "userinfo"
	ProviderTokenInfo = "tokeninfo"
)

const (
	DefaultAddr             = ":5000"
	DefaultRateLimit        = 5
	DefaultWindowSeconds    = 60
	DefaultKeyPrefix        = "audiofetch:quota"
	DefaultUserInfoURL      = "https://openidconnect.googleapis.com/v1/userinfo"
	DefaultIdentityField    = "email"
	DefaultIdentityTimeout  = 5 * time.Second
	DefaultDownloadDir      = "downloads"
	DefaultYTDLPPath        = "yt-dlp"
	DefaultDownloadTimeout  = 5 * time.Minute
	DefaultMaxConcurrent    = 4
	DefaultJanitorInterval  = time.Minute
	DefaultHistoryCapacity  = 256
	defaultStagingSubfolder = "audiofetch"
)

// DefaultAllowedOrigins lists the browser origins permitted by CORS when no
// override is configured.
var DefaultAllowedOrigins = []string{"http://localhost:3000", "https://youtube.tibeechaw.com"}

// Config is built once at startup and handed to every component. Nothing
// mutates it after Load returns.
type Config struct {
	Addr      string    `yaml:"addr" validate:"required"`
	LogLevel  string    `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	LogFormat string    `yaml:"log_format" validate:"omitempty,oneof=json text pretty"`
	TLS       TLSConfig `yaml:"tls"`

	Secret       string `yaml:"secret" validate:"required"`
	CookieBase64 string `yaml:"cookie_base64"`
	// Cookies holds the decoded cookie jar; nil when no blob was configured.
	Cookies []byte `yaml:"-"`

	Quota    QuotaConfig    `yaml:"quota"`
	Identity IdentityConfig `yaml:"identity"`
	Download DownloadConfig `yaml:"download"`
	HTTP     HTTPConfig     `yaml:"http"`
	History  HistoryConfig  `yaml:"history"`
	Janitor  JanitorConfig  `yaml:"janitor"`
}

type TLSConfig struct {
	CertFile string `yaml:"cert_file" validate:"required_with=KeyFile"`
	KeyFile  string `yaml:"key_file" validate:"required_with=CertFile"`
}

// QuotaConfig describes the per-identity fixed window.
type QuotaConfig struct {
	Store         string `yaml:"store" validate:"oneof=redis memory"`
	RedisURL      string `yaml:"redis_url" validate:"required_if=Store redis"`
	Limit         int    `yaml:"limit" validate:"gt=0"`
	WindowSeconds int    `yaml:"window_seconds" validate:"gt=0"`
	KeyPrefix     string `yaml:"key_prefix" validate:"required"`
	HashKeys      bool   `yaml:"hash_keys"`

	RedisTLS      RedisTLSConfig `yaml:"redis_tls"`
	RedisTimeout  time.Duration  `yaml:"redis_timeout" validate:"gte=0"`
	RedisPoolSize int            `yaml:"redis_pool_size" validate:"gte=0"`
}

// RedisTLSConfig adds a private CA, a client certificate, or relaxed
// verification on top of what the redis URL scheme implies.
type RedisTLSConfig struct {
	CAFile             string `yaml:"ca_file"`
	CertFile           string `yaml:"cert_file" validate:"required_with=KeyFile"`
	KeyFile            string `yaml:"key_file" validate:"required_with=CertFile"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// Window returns the window length as a duration.
func (q QuotaConfig) Window() time.Duration {
	return time.Duration(q.WindowSeconds) * time.Second
}

type IdentityConfig struct {
	Provider          string        `yaml:"provider" validate:"oneof=userinfo tokeninfo"`
	UserInfoURL       string        `yaml:"userinfo_url" validate:"omitempty,url"`
	Field             string        `yaml:"field" validate:"required"`
	TokenInfoEndpoint string        `yaml:"tokeninfo_endpoint" validate:"omitempty,url"`
	Audience          string        `yaml:"audience"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
}

type DownloadConfig struct {
	Dir           string        `yaml:"dir" validate:"required"`
	StagingDir    string        `yaml:"staging_dir" validate:"required"`
	YTDLPPath     string        `yaml:"ytdlp_path" validate:"required"`
	Timeout       time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxConcurrent int           `yaml:"max_concurrent" validate:"gt=0"`
}

type HTTPConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" validate:"dive,url"`
	GlobalRPS      float64  `yaml:"global_rps" validate:"gte=0"`
	GlobalBurst    int      `yaml:"global_burst" validate:"gte=0"`
}

type HistoryConfig struct {
	DSN      string `yaml:"dsn"`
	Capacity int    `yaml:"capacity" validate:"gte=0"`
}

type JanitorConfig struct {
	Interval time.Duration `yaml:"interval" validate:"gte=0"`
	MaxAge   time.Duration `yaml:"max_age" validate:"gte=0"`
}

// LookupFunc matches os.LookupEnv so tests can supply a fixed environment.
type LookupFunc func(string) (string, bool)

// Default returns the configuration used before any file or environment
// overrides are applied.
func Default() Config {
	return Config{
		Addr:      DefaultAddr,
		LogLevel:  "info",
		LogFormat: "json",
		Quota: QuotaConfig{
			Store:         StoreRedis,
			Limit:         DefaultRateLimit,
			WindowSeconds: DefaultWindowSeconds,
			KeyPrefix:     DefaultKeyPrefix,
		},
		Identity: IdentityConfig{
			Provider:    ProviderUserInfo,
			UserInfoURL: DefaultUserInfoURL,
			Field:       DefaultIdentityField,
			Timeout:     DefaultIdentityTimeout,
		},
		Download: DownloadConfig{
			Dir:           DefaultDownloadDir,
			StagingDir:    filepath.Join(os.TempDir(), defaultStagingSubfolder),
			YTDLPPath:     DefaultYTDLPPath,
			Timeout:       DefaultDownloadTimeout,
			MaxConcurrent: DefaultMaxConcurrent,
		},
		HTTP: HTTPConfig{
			AllowedOrigins: append([]string(nil), DefaultAllowedOrigins...),
		},
		History: HistoryConfig{Capacity: DefaultHistoryCapacity},
		Janitor: JanitorConfig{Interval: DefaultJanitorInterval},
	}
}

// Load reads .env from the working directory when present, then resolves the
// configuration against the process environment. configPath may be empty, in
// which case AUDIOFETCH_CONFIG is consulted.
func Load(configPath string) (Config, error) {
	_ = godotenv.Load()
	return Resolve(configPath, os.LookupEnv)
}

// Resolve builds and validates a Config from defaults, the optional YAML file,
// and the supplied environment lookup.
func Resolve(configPath string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg := Default()

	path := strings.TrimSpace(configPath)
	if path == "" {
		path, _ = lookupTrimmed(lookup, "AUDIOFETCH_CONFIG")
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}

	if err := finalize(&cfg); err != nil {
		return Config{}, err
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup LookupFunc) error {
	setString(lookup, "AUDIOFETCH_ADDR", &cfg.Addr)
	setString(lookup, "AUDIOFETCH_LOG_LEVEL", &cfg.LogLevel)
	setString(lookup, "AUDIOFETCH_LOG_FORMAT", &cfg.LogFormat)
	setString(lookup, "AUDIOFETCH_TLS_CERT", &cfg.TLS.CertFile)
	setString(lookup, "AUDIOFETCH_TLS_KEY", &cfg.TLS.KeyFile)

	setString(lookup, "SECRET", &cfg.Secret)
	setString(lookup, "YT_COOKIE_BASE64", &cfg.CookieBase64)

	setString(lookup, "REDIS_URL", &cfg.Quota.RedisURL)
	setString(lookup, "AUDIOFETCH_COUNTER_STORE", &cfg.Quota.Store)
	setString(lookup, "AUDIOFETCH_RATE_KEY_PREFIX", &cfg.Quota.KeyPrefix)
	setString(lookup, "AUDIOFETCH_REDIS_TLS_CA", &cfg.Quota.RedisTLS.CAFile)
	setString(lookup, "AUDIOFETCH_REDIS_TLS_CERT", &cfg.Quota.RedisTLS.CertFile)
	setString(lookup, "AUDIOFETCH_REDIS_TLS_KEY", &cfg.Quota.RedisTLS.KeyFile)
	setString(lookup, "AUDIOFETCH_REDIS_TLS_SERVER_NAME", &cfg.Quota.RedisTLS.ServerName)

	setString(lookup, "AUDIOFETCH_IDENTITY_PROVIDER", &cfg.Identity.Provider)
	setString(lookup, "AUDIOFETCH_USERINFO_URL", &cfg.Identity.UserInfoURL)
	setString(lookup, "AUDIOFETCH_IDENTITY_FIELD", &cfg.Identity.Field)
	setString(lookup, "AUDIOFETCH_TOKENINFO_ENDPOINT", &cfg.Identity.TokenInfoEndpoint)
	setString(lookup, "AUDIOFETCH_TOKEN_AUDIENCE", &cfg.Identity.Audience)

	setString(lookup, "AUDIOFETCH_DOWNLOAD_DIR", &cfg.Download.Dir)
	setString(lookup, "AUDIOFETCH_STAGING_DIR", &cfg.Download.StagingDir)
	setString(lookup, "AUDIOFETCH_YTDLP_PATH", &cfg.Download.YTDLPPath)

	setString(lookup, "AUDIOFETCH_HISTORY_DSN", &cfg.History.DSN)

	if raw, ok := lookupTrimmed(lookup, "AUDIOFETCH_ALLOWED_ORIGINS"); ok {
		cfg.HTTP.AllowedOrigins = splitAndTrim(raw)
	}

	var errs []error
	errs = append(errs,
		setInt(lookup, "RATE_LIMIT_REQUESTS", &cfg.Quota.Limit),
		setInt(lookup, "RATE_LIMIT_WINDOW_SECONDS", &cfg.Quota.WindowSeconds),
		setBool(lookup, "AUDIOFETCH_RATE_HASH_KEYS", &cfg.Quota.HashKeys),
		setBool(lookup, "AUDIOFETCH_REDIS_TLS_SKIP_VERIFY", &cfg.Quota.RedisTLS.InsecureSkipVerify),
		setDuration(lookup, "AUDIOFETCH_REDIS_TIMEOUT", &cfg.Quota.RedisTimeout),
		setInt(lookup, "AUDIOFETCH_REDIS_POOL_SIZE", &cfg.Quota.RedisPoolSize),
		setDuration(lookup, "AUDIOFETCH_IDENTITY_TIMEOUT", &cfg.Identity.Timeout),
		setDuration(lookup, "AUDIOFETCH_DOWNLOAD_TIMEOUT", &cfg.Download.Timeout),
		setInt(lookup, "AUDIOFETCH_MAX_CONCURRENT_DOWNLOADS", &cfg.Download.MaxConcurrent),
		setFloat(lookup, "AUDIOFETCH_GLOBAL_RPS", &cfg.HTTP.GlobalRPS),
		setInt(lookup, "AUDIOFETCH_GLOBAL_BURST", &cfg.HTTP.GlobalBurst),
		setInt(lookup, "AUDIOFETCH_HISTORY_CAPACITY", &cfg.History.Capacity),
		setDuration(lookup, "AUDIOFETCH_JANITOR_INTERVAL", &cfg.Janitor.Interval),
		setDuration(lookup, "AUDIOFETCH_JANITOR_MAX_AGE", &cfg.Janitor.MaxAge),
	)
	return errors.Join(errs...)
}

func finalize(cfg *Config) error {
	cfg.Quota.Store = strings.ToLower(strings.TrimSpace(cfg.Quota.Store))
	cfg.Identity.Provider = strings.ToLower(strings.TrimSpace(cfg.Identity.Provider))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))

	if blob := strings.TrimSpace(cfg.CookieBase64); blob != "" {
		decoded, err := base64.StdEncoding.DecodeString(blob)
		if err != nil {
			return fmt.Errorf("invalid YT_COOKIE_BASE64: %w", err)
		}
		cfg.Cookies = decoded
	}

	if cfg.Janitor.MaxAge <= 0 {
		cfg.Janitor.MaxAge = 2 * cfg.Download.Timeout
	}
	return nil
}

// fieldEnv maps struct namespaces to the variable an operator would set, so
// validation failures name something actionable.
var fieldEnv = map[string]string{
	"Config.Addr":                       "AUDIOFETCH_ADDR",
	"Config.LogLevel":                   "AUDIOFETCH_LOG_LEVEL",
	"Config.LogFormat":                  "AUDIOFETCH_LOG_FORMAT",
	"Config.TLS.CertFile":               "AUDIOFETCH_TLS_CERT",
	"Config.TLS.KeyFile":                "AUDIOFETCH_TLS_KEY",
	"Config.Secret":                     "SECRET",
	"Config.Quota.Store":                "AUDIOFETCH_COUNTER_STORE",
	"Config.Quota.RedisURL":             "REDIS_URL",
	"Config.Quota.Limit":                "RATE_LIMIT_REQUESTS",
	"Config.Quota.WindowSeconds":        "RATE_LIMIT_WINDOW_SECONDS",
	"Config.Quota.KeyPrefix":            "AUDIOFETCH_RATE_KEY_PREFIX",
	"Config.Quota.RedisTLS.CertFile":    "AUDIOFETCH_REDIS_TLS_CERT",
	"Config.Quota.RedisTLS.KeyFile":     "AUDIOFETCH_REDIS_TLS_KEY",
	"Config.Quota.RedisTimeout":         "AUDIOFETCH_REDIS_TIMEOUT",
	"Config.Quota.RedisPoolSize":        "AUDIOFETCH_REDIS_POOL_SIZE",
	"Config.Identity.Provider":          "AUDIOFETCH_IDENTITY_PROVIDER",
	"Config.Identity.UserInfoURL":       "AUDIOFETCH_USERINFO_URL",
	"Config.Identity.Field":             "AUDIOFETCH_IDENTITY_FIELD",
	"Config.Identity.TokenInfoEndpoint": "AUDIOFETCH_TOKENINFO_ENDPOINT",
	"Config.Identity.Timeout":           "AUDIOFETCH_IDENTITY_TIMEOUT",
	"Config.Download.Dir":               "AUDIOFETCH_DOWNLOAD_DIR",
	"Config.Download.StagingDir":        "AUDIOFETCH_STAGING_DIR",
	"Config.Download.YTDLPPath":         "AUDIOFETCH_YTDLP_PATH",
	"Config.Download.Timeout":           "AUDIOFETCH_DOWNLOAD_TIMEOUT",
	"Config.Download.MaxConcurrent":     "AUDIOFETCH_MAX_CONCURRENT_DOWNLOADS",
	"Config.HTTP.GlobalRPS":             "AUDIOFETCH_GLOBAL_RPS",
	"Config.HTTP.GlobalBurst":           "AUDIOFETCH_GLOBAL_BURST",
	"Config.History.Capacity":           "AUDIOFETCH_HISTORY_CAPACITY",
	"Config.Janitor.Interval":           "AUDIOFETCH_JANITOR_INTERVAL",
	"Config.Janitor.MaxAge":             "AUDIOFETCH_JANITOR_MAX_AGE",
}

var structValidator = validator.New()

func validate(cfg Config) error {
	err := structValidator.Struct(cfg)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	problems := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		name := fe.StructNamespace()
		if env, ok := fieldEnv[name]; ok {
			name = env
		} else if strings.HasPrefix(name, "Config.HTTP.AllowedOrigins") {
			name = "AUDIOFETCH_ALLOWED_ORIGINS"
		}
		problems = append(problems, fmt.Errorf("%s: failed %q check", name, describeTag(fe)))
	}
	return fmt.Errorf("invalid configuration: %w", errors.Join(problems...))
}

func describeTag(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

func lookupTrimmed(lookup LookupFunc, key string) (string, bool) {
	value, ok := lookup(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func setString(lookup LookupFunc, key string, dst *string) {
	if value, ok := lookupTrimmed(lookup, key); ok {
		*dst = value
	}
}

func setInt(lookup LookupFunc, key string, dst *int) error {
	value, ok := lookupTrimmed(lookup, key)
	if !ok {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func setFloat(lookup LookupFunc, key string, dst *float64) error {
	value, ok := lookupTrimmed(lookup, key)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func setBool(lookup LookupFunc, key string, dst *bool) error {
	value, ok := lookupTrimmed(lookup, key)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

// setDuration accepts Go duration strings and bare integers, which are read
// as seconds.
func setDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	value, ok := lookupTrimmed(lookup, key)
	if !ok {
		return nil
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		*dst = time.Duration(seconds) * time.Second
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
