package main

import (
	"net/url"
	"strings"

	"audiofetch/internal/config"
)

// startupSummary groups the settings worth logging once at boot with
// credentials stripped from connection strings.
type startupSummary struct {
	groups []summaryGroup
}

type summaryGroup struct {
	name   string
	fields map[string]any
}

func newStartupSummary(cfg config.Config) startupSummary {
	store := map[string]any{"driver": cfg.Quota.Store}
	if cfg.Quota.Store == config.StoreRedis {
		store["url"] = redactURL(cfg.Quota.RedisURL)
		store["tls_ca"] = cfg.Quota.RedisTLS.CAFile != ""
		store["tls_client_cert"] = cfg.Quota.RedisTLS.CertFile != ""
		store["tls_skip_verify"] = cfg.Quota.RedisTLS.InsecureSkipVerify
	}

	quota := map[string]any{
		"limit":          cfg.Quota.Limit,
		"window_seconds": cfg.Quota.WindowSeconds,
		"key_prefix":     cfg.Quota.KeyPrefix,
		"hash_keys":      cfg.Quota.HashKeys,
	}

	identity := map[string]any{"provider": cfg.Identity.Provider, "timeout": cfg.Identity.Timeout.String()}
	switch cfg.Identity.Provider {
	case config.ProviderTokenInfo:
		if cfg.Identity.Audience != "" {
			identity["audience"] = cfg.Identity.Audience
		}
	default:
		identity["userinfo_url"] = cfg.Identity.UserInfoURL
		identity["field"] = cfg.Identity.Field
	}

	download := map[string]any{
		"dir":            cfg.Download.Dir,
		"staging_dir":    cfg.Download.StagingDir,
		"ytdlp":          cfg.Download.YTDLPPath,
		"timeout":        cfg.Download.Timeout.String(),
		"max_concurrent": cfg.Download.MaxConcurrent,
		"cookies":        len(cfg.Cookies) > 0,
	}

	ledger := map[string]any{"driver": "memory", "capacity": cfg.History.Capacity}
	if dsn := strings.TrimSpace(cfg.History.DSN); dsn != "" {
		ledger = map[string]any{"driver": "postgres", "dsn": redactURL(dsn)}
	}

	return startupSummary{groups: []summaryGroup{
		{name: "counter_store", fields: store},
		{name: "quota", fields: quota},
		{name: "identity", fields: identity},
		{name: "download", fields: download},
		{name: "history", fields: ledger},
	}}
}

// LogArgs flattens the summary into slog key/value pairs.
func (s startupSummary) LogArgs() []any {
	args := make([]any, 0, len(s.groups)*2)
	for _, group := range s.groups {
		args = append(args, group.name, group.fields)
	}
	return args
}

// redactURL masks the password of a URL-style connection string. Values that
// do not parse as URLs are replaced entirely.
func redactURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" {
		return "*****"
	}
	return parsed.Redacted()
}
