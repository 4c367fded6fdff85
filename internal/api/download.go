package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"audiofetch/internal/auth"
	"audiofetch/internal/credentials"
	"audiofetch/internal/history"
	"audiofetch/internal/media"
	"audiofetch/internal/observability/logging"
	"audiofetch/internal/observability/metrics"
	"audiofetch/internal/quota"
)

const historyTimeout = 5 * time.Second

// DownloadAudio serves GET /download/audio?url=...&secret=... for a caller
// with a valid bearer token and quota left.
func (h *Handler) DownloadAudio(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	ctx := r.Context()
	query := r.URL.Query()

	if err := h.secret.Authorize(query.Get("secret")); err != nil {
		h.fail(ctx, w, err)
		return
	}

	videoURL := strings.TrimSpace(query.Get("url"))
	if videoURL == "" {
		h.fail(ctx, w, ValidationError(msgNoURL))
		return
	}

	identity, err := h.authenticate(ctx, r)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	ctx = logging.ContextWithIdentity(ctx, identity.String())
	ctx = logging.ContextWithLogger(ctx, h.requestLogger(ctx).With("identity", identity.String()))

	decision, err := h.limiter.Admit(ctx, identity.String())
	if err != nil {
		h.metrics.ObserveQuotaDecision(metrics.QuotaError)
		h.fail(ctx, w, err)
		return
	}
	setRateLimitHeaders(w.Header(), decision)
	if !decision.Allowed {
		h.metrics.ObserveQuotaDecision(metrics.QuotaRejected)
		w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter()))
		h.fail(ctx, w, RequestError{Kind: KindQuota, Status: http.StatusTooManyRequests, Message: msgRateLimited})
		h.record(ctx, history.Entry{
			RequestID: requestIDFrom(ctx),
			Identity:  identity.String(),
			URL:       videoURL,
			Outcome:   history.OutcomeRejected,
			Error:     msgRateLimited,
		})
		return
	}
	h.metrics.ObserveQuotaDecision(metrics.QuotaAdmitted)

	if err := h.slots.Acquire(ctx, 1); err != nil {
		slotErr := ServiceUnavailableError("request cancelled while waiting for a download slot")
		slotErr.Err = err
		h.fail(ctx, w, slotErr)
		return
	}
	defer h.slots.Release(1)

	h.serveDownload(ctx, w, r, identity, videoURL)
}

// download tracks the per-request resources that cleanup must remove.
type download struct {
	id        string
	dir       string
	handle    *credentials.Handle
	started   time.Time
	entry     history.Entry
	active    bool
	succeeded bool
}

func (h *Handler) serveDownload(ctx context.Context, w http.ResponseWriter, r *http.Request, identity auth.Identity, videoURL string) {
	id := uuid.NewString()
	d := &download{
		id:      id,
		dir:     filepath.Join(h.downloadDir, id),
		started: time.Now(),
		entry: history.Entry{
			RequestID: requestIDFrom(ctx),
			Identity:  identity.String(),
			URL:       videoURL,
			Outcome:   history.OutcomeFailure,
		},
	}
	if d.entry.RequestID == "" {
		d.entry.RequestID = id
	}
	defer h.cleanup(ctx, d)

	handle, err := h.stager.Stage(id)
	if err != nil {
		d.entry.Error = err.Error()
		h.fail(ctx, w, RequestError{Kind: KindResource, Status: http.StatusInternalServerError, Message: "failed to stage credentials", Err: err})
		return
	}
	d.handle = handle

	h.metrics.DownloadStarted()
	d.active = true
	result, err := h.downloader.Download(ctx, media.Request{
		URL:         videoURL,
		CookiesPath: handle.Path(),
		OutputDir:   d.dir,
	})
	d.active = false
	h.metrics.DownloadFinished(downloadOutcome(err), time.Since(d.started))
	if err != nil {
		d.entry.Error = classify(err).Message
		h.fail(ctx, w, err)
		return
	}
	d.entry.Title = result.Title

	file, err := os.Open(result.Path)
	if err != nil {
		d.entry.Error = err.Error()
		h.fail(ctx, w, RequestError{Kind: KindResource, Status: http.StatusInternalServerError, Message: "failed to open downloaded file", Err: err})
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		d.entry.Error = err.Error()
		h.fail(ctx, w, RequestError{Kind: KindResource, Status: http.StatusInternalServerError, Message: "failed to read downloaded file", Err: err})
		return
	}

	name := result.Title + ".m4a"
	w.Header().Set("Content-Type", "audio/mp4")
	w.Header().Set("Content-Disposition", contentDisposition(name))
	http.ServeContent(w, r.WithContext(ctx), name, info.ModTime(), file)

	d.entry.Outcome = history.OutcomeSuccess
	d.succeeded = true
}

// cleanup runs on every exit path of serveDownload, panics included: the
// credential goes first, then the download directory, then the ledger.
func (h *Handler) cleanup(ctx context.Context, d *download) {
	logger := h.requestLogger(ctx)
	if err := d.handle.Release(); err != nil {
		h.metrics.ObserveCleanupFailure("credential")
		logger.Warn("credential cleanup failed", "error", err)
	}
	if err := os.RemoveAll(d.dir); err != nil {
		h.metrics.ObserveCleanupFailure("download")
		logger.Warn("download cleanup failed", "dir", d.dir, "error", err)
	}
	if recovered := recover(); recovered != nil {
		if d.active {
			h.metrics.DownloadFinished(metrics.OutcomeFailure, time.Since(d.started))
		}
		d.entry.Error = "panic during download"
		d.entry.Duration = time.Since(d.started)
		h.record(ctx, d.entry)
		panic(recovered)
	}
	d.entry.Duration = time.Since(d.started)
	h.record(ctx, d.entry)
	if d.succeeded {
		logger.Info("download served", "title", d.entry.Title, "duration_ms", d.entry.Duration.Milliseconds())
	}
}

func (h *Handler) record(ctx context.Context, entry history.Entry) {
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()
	if err := h.history.Record(recordCtx, entry); err != nil {
		h.requestLogger(ctx).Warn("history record failed", "error", err)
	}
}

func downloadOutcome(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	var failure *media.Failure
	if errors.As(err, &failure) && failure.Timeout {
		return metrics.OutcomeTimeout
	}
	return metrics.OutcomeFailure
}

func requestIDFrom(ctx context.Context) string {
	id, _ := logging.RequestIDFromContext(ctx)
	return id
}

func setRateLimitHeaders(header http.Header, decision quota.Decision) {
	header.Set("RateLimit-Limit", strconv.Itoa(decision.Limit))
	header.Set("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	header.Set("RateLimit-Reset", strconv.Itoa(decision.RetryAfter()))
}
