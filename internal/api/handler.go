package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/sync/semaphore"

	"audiofetch/internal/auth"
	"audiofetch/internal/credentials"
	"audiofetch/internal/history"
	"audiofetch/internal/media"
	"audiofetch/internal/observability/logging"
	"audiofetch/internal/observability/metrics"
	"audiofetch/internal/quota"
)

// DefaultMaxConcurrentDownloads bounds simultaneous tool runs when the
// configuration leaves it unset.
const DefaultMaxConcurrentDownloads = 4

// Config wires a Handler. Secret, Identity, Limiter, and Downloader are
// required.
type Config struct {
	Secret     *auth.SecretGate
	Identity   auth.IdentityValidator
	Limiter    *quota.Limiter
	Stager     *credentials.Stager
	Downloader media.Downloader
	History    history.Ledger
	Metrics    *metrics.Recorder
	Logger     *slog.Logger
	// DownloadDir holds one sub-directory per in-flight download.
	DownloadDir            string
	MaxConcurrentDownloads int
}

type Handler struct {
	secret      *auth.SecretGate
	identity    auth.IdentityValidator
	limiter     *quota.Limiter
	stager      *credentials.Stager
	downloader  media.Downloader
	history     history.Ledger
	metrics     *metrics.Recorder
	logger      *slog.Logger
	downloadDir string
	slots       *semaphore.Weighted
}

func NewHandler(cfg Config) (*Handler, error) {
	var missing []string
	if cfg.Secret == nil {
		missing = append(missing, "secret gate")
	}
	if cfg.Identity == nil {
		missing = append(missing, "identity validator")
	}
	if cfg.Limiter == nil {
		missing = append(missing, "rate limiter")
	}
	if cfg.Downloader == nil {
		missing = append(missing, "downloader")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("api handler missing %s", strings.Join(missing, ", "))
	}

	stager := cfg.Stager
	if stager == nil {
		var err error
		if stager, err = credentials.NewStager(nil, ""); err != nil {
			return nil, err
		}
	}
	ledger := cfg.History
	if ledger == nil {
		ledger = history.NewMemoryLedger(history.DefaultCapacity)
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dir := strings.TrimSpace(cfg.DownloadDir)
	if dir == "" {
		dir = "downloads"
	}
	slots := cfg.MaxConcurrentDownloads
	if slots <= 0 {
		slots = DefaultMaxConcurrentDownloads
	}

	return &Handler{
		secret:      cfg.Secret,
		identity:    cfg.Identity,
		limiter:     cfg.Limiter,
		stager:      stager,
		downloader:  cfg.Downloader,
		history:     ledger,
		metrics:     recorder,
		logger:      logging.WithComponent(logger, "api"),
		downloadDir: dir,
		slots:       semaphore.NewWeighted(int64(slots)),
	}, nil
}

// Ping answers liveness probes without authentication.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
}

// authenticate resolves the caller from the Authorization header.
func (h *Handler) authenticate(ctx context.Context, r *http.Request) (auth.Identity, error) {
	token, err := auth.ExtractBearerToken(r)
	if err != nil {
		return "", err
	}
	identity, err := h.identity.Validate(ctx, token)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidToken) {
			err = fmt.Errorf("%w: %v", auth.ErrInvalidToken, err)
		}
		h.requestLogger(ctx).Debug("token validation failed", "error", err)
		return "", err
	}
	if strings.TrimSpace(identity.String()) == "" {
		return "", fmt.Errorf("%w: empty identity", auth.ErrInvalidToken)
	}
	return identity, nil
}

func (h *Handler) requestLogger(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, h.logger)
}

// fail classifies err and writes it. Server-side failures are logged with
// their cause; caller mistakes only at debug.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) RequestError {
	classified := classify(err)
	logger := h.requestLogger(ctx)
	attrs := []any{"kind", classified.Kind, "status", classified.Status, "error", err}
	if classified.Status >= http.StatusInternalServerError {
		logger.Error("request failed", attrs...)
	} else {
		logger.Debug("request rejected", attrs...)
	}
	writeError(w, classified.Status, classified)
	return classified
}
