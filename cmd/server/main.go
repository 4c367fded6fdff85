// Command server starts the audio download HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"audiofetch/internal/api"
	"audiofetch/internal/auth"
	"audiofetch/internal/auth/oauth"
	"audiofetch/internal/config"
	"audiofetch/internal/credentials"
	"audiofetch/internal/history"
	"audiofetch/internal/media"
	"audiofetch/internal/observability/logging"
	"audiofetch/internal/observability/metrics"
	"audiofetch/internal/quota"
	"audiofetch/internal/server"
	"audiofetch/internal/serverutil"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides AUDIOFETCH_ADDR)")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json, text, pretty)")
	configPath := flag.String("config", "", "optional YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg.Addr = firstNonEmpty(*addr, cfg.Addr)
	cfg.LogLevel = firstNonEmpty(*logLevel, cfg.LogLevel)
	cfg.LogFormat = firstNonEmpty(*logFormat, cfg.LogFormat)

	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	recorder := metrics.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openCounterStore(cfg.Quota)
	if err != nil {
		logger.Error("failed to configure counter store", "error", err)
		os.Exit(1)
	}
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	if err := store.Ping(pingCtx); err != nil {
		logger.Warn("counter store not reachable at startup", "error", err)
	}
	cancelPing()

	limiter, err := quota.NewLimiter(store, quota.Config{
		Limit:     cfg.Quota.Limit,
		Window:    cfg.Quota.Window(),
		KeyPrefix: cfg.Quota.KeyPrefix,
		HashKeys:  cfg.Quota.HashKeys,
	})
	if err != nil {
		logger.Error("failed to configure quota", "error", err)
		os.Exit(1)
	}

	identity, err := newIdentityValidator(ctx, cfg.Identity, logging.WithComponent(logger, "identity"))
	if err != nil {
		logger.Error("failed to configure identity provider", "error", err)
		os.Exit(1)
	}

	secret, err := auth.NewSecretGate(cfg.Secret)
	if err != nil {
		logger.Error("failed to configure secret", "error", err)
		os.Exit(1)
	}

	stager, err := credentials.NewStager(cfg.Cookies, cfg.Download.StagingDir,
		credentials.WithLogger(logging.WithComponent(logger, "credentials")),
		credentials.WithStageHook(recorder.CredentialStaged),
	)
	if err != nil {
		logger.Error("failed to configure credential staging", "error", err)
		os.Exit(1)
	}
	if !stager.Enabled() {
		logger.Warn("YT_COOKIE_BASE64 not set; downloads run without cookies")
	}

	downloader := media.NewYTDLP(
		media.WithBinary(cfg.Download.YTDLPPath),
		media.WithTimeout(cfg.Download.Timeout),
		media.WithLogger(logging.WithComponent(logger, "ytdlp")),
	)
	if err := downloader.VerifyInstalled(ctx); err != nil {
		logger.Warn("yt-dlp not available", "error", err)
	}

	ledger, err := openLedger(ctx, cfg.History, logging.WithComponent(logger, "history"))
	if err != nil {
		logger.Error("failed to open download history", "error", err)
		os.Exit(1)
	}

	handler, err := api.NewHandler(api.Config{
		Secret:                 secret,
		Identity:               identity,
		Limiter:                limiter,
		Stager:                 stager,
		Downloader:             downloader,
		History:                ledger,
		Metrics:                recorder,
		Logger:                 logger,
		DownloadDir:            cfg.Download.Dir,
		MaxConcurrentDownloads: cfg.Download.MaxConcurrent,
	})
	if err != nil {
		logger.Error("failed to initialise handler", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(handler, server.Config{
		Addr: cfg.Addr,
		TLS: server.TLSConfig{
			CertFile: cfg.TLS.CertFile,
			KeyFile:  cfg.TLS.KeyFile,
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:   cfg.HTTP.GlobalRPS,
			GlobalBurst: cfg.HTTP.GlobalBurst,
		},
		CORS:         server.CORSConfig{AllowedOrigins: cfg.HTTP.AllowedOrigins},
		Logger:       logger,
		Metrics:      recorder,
		WriteTimeout: cfg.Download.Timeout + time.Minute,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	logger.Info("audiofetch starting", newStartupSummary(cfg).LogArgs()...)
	if cfg.TLS.CertFile != "" {
		logger.Info("TLS enabled", "cert_file", cfg.TLS.CertFile)
	}

	sweeper := newJanitor(logging.WithComponent(logger, "janitor"), stager.Dir(), cfg.Download.Dir, cfg.Janitor.Interval, cfg.Janitor.MaxAge)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return serverutil.Run(groupCtx, serverutil.Config{Service: srv, Logger: logger})
	})
	group.Go(func() error {
		return sweeper.Run(groupCtx)
	})
	runErr := group.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ledger.Close(shutdownCtx); err != nil {
		logger.Warn("failed to close download history", "error", err)
	}
	if err := store.Close(); err != nil {
		logger.Warn("failed to close counter store", "error", err)
	}

	if runErr != nil {
		logger.Error("server error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func openCounterStore(cfg config.QuotaConfig) (quota.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return quota.NewMemoryStore(), nil
	case config.StoreRedis:
		return quota.NewRedisStore(redisConfig(cfg))
	default:
		return nil, fmt.Errorf("unsupported counter store %q", cfg.Store)
	}
}

func redisConfig(cfg config.QuotaConfig) quota.RedisConfig {
	return quota.RedisConfig{
		URL: cfg.RedisURL,
		TLS: quota.RedisTLSConfig{
			CAFile:             cfg.RedisTLS.CAFile,
			CertFile:           cfg.RedisTLS.CertFile,
			KeyFile:            cfg.RedisTLS.KeyFile,
			ServerName:         cfg.RedisTLS.ServerName,
			InsecureSkipVerify: cfg.RedisTLS.InsecureSkipVerify,
		},
		Timeout:  cfg.RedisTimeout,
		PoolSize: cfg.RedisPoolSize,
	}
}

func newIdentityValidator(ctx context.Context, cfg config.IdentityConfig, logger *slog.Logger) (auth.IdentityValidator, error) {
	opts := []oauth.Option{oauth.WithTimeout(cfg.Timeout), oauth.WithLogger(logger)}
	switch cfg.Provider {
	case config.ProviderTokenInfo:
		return oauth.NewTokenInfoValidator(ctx, cfg.TokenInfoEndpoint, cfg.Audience, opts...)
	case config.ProviderUserInfo:
		return oauth.NewUserInfoValidator(cfg.UserInfoURL, cfg.Field, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported identity provider %q", cfg.Provider)
	}
}

func openLedger(ctx context.Context, cfg config.HistoryConfig, logger *slog.Logger) (history.Ledger, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return history.NewMemoryLedger(cfg.Capacity), nil
	}
	ledger, err := history.NewPostgresLedger(ctx, history.PostgresConfig{
		DSN:             cfg.DSN,
		ApplicationName: "audiofetch",
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	return ledger, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
