//go:build integration

package steps

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cucumber/godog"

	"audiofetch/internal/api"
	"audiofetch/internal/auth"
	"audiofetch/internal/credentials"
	"audiofetch/internal/history"
	"audiofetch/internal/media"
	"audiofetch/internal/observability/metrics"
	"audiofetch/internal/quota"
	"audiofetch/internal/server"
)

// scriptedDownloader plays back per-URL titles or failures.
type scriptedDownloader struct {
	mu       sync.Mutex
	titles   map[string]string
	failures map[string]string
}

func (d *scriptedDownloader) Download(_ context.Context, req media.Request) (media.Result, error) {
	d.mu.Lock()
	title, ok := d.titles[req.URL]
	failure := d.failures[req.URL]
	d.mu.Unlock()

	if err := os.MkdirAll(req.OutputDir, 0o700); err != nil {
		return media.Result{}, err
	}
	if failure != "" {
		// Leave a partial file behind so cleanup has something to remove.
		_ = os.WriteFile(filepath.Join(req.OutputDir, "partial.m4a.part"), []byte("x"), 0o600)
		return media.Result{}, &media.Failure{Message: failure}
	}
	if !ok {
		return media.Result{}, &media.Failure{Message: "Unsupported URL: " + req.URL}
	}
	path := filepath.Join(req.OutputDir, title+".m4a")
	if err := os.WriteFile(path, []byte("audio:"+title), 0o600); err != nil {
		return media.Result{}, err
	}
	return media.Result{Title: title, Path: path}, nil
}

type downloadContext struct {
	secret      string
	limit       int
	window      time.Duration
	tokens      map[string]auth.Identity
	cookies     []byte
	stagingDir  string
	downloadDir string
	downloader  *scriptedDownloader
	server      *httptest.Server

	status int
	header http.Header
	body   []byte
}

// SharedDownloadContext is reset before each scenario via Before hook
var SharedDownloadContext *downloadContext

func getDownloadContext() *downloadContext {
	return SharedDownloadContext
}

func InitializeDownloadScenario(ctx *godog.ScenarioContext) {
	ctx.Before(func(c context.Context, sc *godog.Scenario) (context.Context, error) {
		root, err := os.MkdirTemp("", "audiofetch-features-")
		if err != nil {
			return c, err
		}
		SharedDownloadContext = &downloadContext{
			limit:       5,
			window:      time.Minute,
			tokens:      make(map[string]auth.Identity),
			stagingDir:  filepath.Join(root, "staging"),
			downloadDir: filepath.Join(root, "downloads"),
			downloader: &scriptedDownloader{
				titles:   make(map[string]string),
				failures: make(map[string]string),
			},
		}
		return c, nil
	})

	ctx.After(func(c context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		d := getDownloadContext()
		if d != nil {
			if d.server != nil {
				d.server.Close()
			}
			_ = os.RemoveAll(filepath.Dir(d.stagingDir))
		}
		SharedDownloadContext = nil
		return c, nil
	})

	ctx.Step(`^the service secret is "([^"]*)"$`, theServiceSecretIs)
	ctx.Step(`^the quota is (\d+) downloads per (\d+) seconds$`, theQuotaIs)
	ctx.Step(`^the token "([^"]*)" belongs to "([^"]*)"$`, theTokenBelongsTo)
	ctx.Step(`^a cookie jar is configured$`, aCookieJarIsConfigured)
	ctx.Step(`^the video "([^"]*)" is titled "([^"]*)"$`, theVideoIsTitled)
	ctx.Step(`^downloads of "([^"]*)" fail with "([^"]*)"$`, downloadsFailWith)

	ctx.Step(`^I request a download of "([^"]*)" with token "([^"]*)"$`, iRequestADownloadWithToken)
	ctx.Step(`^I request a download of "([^"]*)" without a token$`, iRequestADownloadWithoutAToken)
	ctx.Step(`^I request a download of "([^"]*)" with token "([^"]*)" and secret "([^"]*)"$`, iRequestADownloadWithTokenAndSecret)
	ctx.Step(`^I request (\d+) downloads of "([^"]*)" with token "([^"]*)"$`, iRequestNDownloads)
	ctx.Step(`^I check the rate limit with token "([^"]*)"$`, iCheckTheRateLimit)

	ctx.Step(`^the response status should be (\d+)$`, theResponseStatusShouldBe)
	ctx.Step(`^the error message should be "([^"]*)"$`, theErrorMessageShouldBe)
	ctx.Step(`^the attachment should be named "([^"]*)"$`, theAttachmentShouldBeNamed)
	ctx.Step(`^the response should carry a Retry-After header$`, theResponseShouldCarryRetryAfter)
	ctx.Step(`^no staged cookie files should remain$`, noStagedCookieFilesShouldRemain)
	ctx.Step(`^no downloaded files should remain$`, noDownloadedFilesShouldRemain)
	ctx.Step(`^the rate limit should report (\d+) used, (\d+) remaining, limit (\d+) and window (\d+)$`, theRateLimitShouldReport)
}

func theServiceSecretIs(secret string) error {
	getDownloadContext().secret = secret
	return nil
}

func theQuotaIs(limit, seconds int) error {
	d := getDownloadContext()
	d.limit = limit
	d.window = time.Duration(seconds) * time.Second
	return nil
}

func theTokenBelongsTo(token, identity string) error {
	getDownloadContext().tokens[token] = auth.Identity(identity)
	return nil
}

func aCookieJarIsConfigured() error {
	getDownloadContext().cookies = []byte(".youtube.com\tTRUE\t/\tTRUE\t1999999999\tSID\tabc\n")
	return nil
}

func theVideoIsTitled(videoURL, title string) error {
	d := getDownloadContext()
	d.downloader.mu.Lock()
	d.downloader.titles[videoURL] = title
	d.downloader.mu.Unlock()
	return nil
}

func downloadsFailWith(videoURL, message string) error {
	d := getDownloadContext()
	d.downloader.mu.Lock()
	d.downloader.failures[videoURL] = message
	d.downloader.mu.Unlock()
	return nil
}

// ensureServer builds the full server lazily so Background steps can adjust
// its collaborators first.
func (d *downloadContext) ensureServer() error {
	if d.server != nil {
		return nil
	}
	gate, err := auth.NewSecretGate(d.secret)
	if err != nil {
		return err
	}
	limiter, err := quota.NewLimiter(quota.NewMemoryStore(), quota.Config{Limit: d.limit, Window: d.window})
	if err != nil {
		return err
	}
	stager, err := credentials.NewStager(d.cookies, d.stagingDir)
	if err != nil {
		return err
	}
	tokens := d.tokens
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler, err := api.NewHandler(api.Config{
		Secret: gate,
		Identity: auth.ValidatorFunc(func(_ context.Context, token string) (auth.Identity, error) {
			if identity, ok := tokens[token]; ok {
				return identity, nil
			}
			return "", auth.ErrInvalidToken
		}),
		Limiter:     limiter,
		Stager:      stager,
		Downloader:  d.downloader,
		History:     history.NewMemoryLedger(32),
		Metrics:     metrics.New(),
		Logger:      logger,
		DownloadDir: d.downloadDir,
	})
	if err != nil {
		return err
	}
	srv, err := server.New(handler, server.Config{Logger: logger, Metrics: metrics.New()})
	if err != nil {
		return err
	}
	d.server = httptest.NewServer(srv.Handler())
	return nil
}

func (d *downloadContext) do(path string, query url.Values, token string) error {
	if err := d.ensureServer(); err != nil {
		return err
	}
	target := d.server.URL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := d.server.Client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	d.status = resp.StatusCode
	d.header = resp.Header
	d.body = body
	return nil
}

func (d *downloadContext) download(videoURL, token, secret string) error {
	query := url.Values{}
	if secret != "" {
		query.Set("secret", base64.StdEncoding.EncodeToString([]byte(secret)))
	}
	if videoURL != "" {
		query.Set("url", videoURL)
	}
	return d.do("/download/audio", query, token)
}

func iRequestADownloadWithToken(videoURL, token string) error {
	d := getDownloadContext()
	return d.download(videoURL, token, d.secret)
}

func iRequestADownloadWithoutAToken(videoURL string) error {
	d := getDownloadContext()
	return d.download(videoURL, "", d.secret)
}

func iRequestADownloadWithTokenAndSecret(videoURL, token, secret string) error {
	return getDownloadContext().download(videoURL, token, secret)
}

func iRequestNDownloads(n int, videoURL, token string) error {
	d := getDownloadContext()
	for i := 0; i < n; i++ {
		if err := d.download(videoURL, token, d.secret); err != nil {
			return err
		}
		if d.status != http.StatusOK {
			return fmt.Errorf("download %d returned %d: %s", i+1, d.status, d.body)
		}
	}
	return nil
}

func iCheckTheRateLimit(token string) error {
	return getDownloadContext().do("/rate-limit", nil, token)
}

func theResponseStatusShouldBe(status int) error {
	d := getDownloadContext()
	if d.status != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, d.status, d.body)
	}
	return nil
}

func theErrorMessageShouldBe(message string) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(getDownloadContext().body, &payload); err != nil {
		return fmt.Errorf("decode error body: %w", err)
	}
	if payload.Error != message {
		return fmt.Errorf("expected error %q, got %q", message, payload.Error)
	}
	return nil
}

func theAttachmentShouldBeNamed(name string) error {
	d := getDownloadContext()
	disposition := d.header.Get("Content-Disposition")
	if !strings.HasPrefix(disposition, "attachment;") || !strings.Contains(disposition, `filename="`+name+`"`) {
		return fmt.Errorf("unexpected Content-Disposition %q", disposition)
	}
	if string(d.body) != "audio:"+strings.TrimSuffix(name, ".m4a") {
		return fmt.Errorf("unexpected body %q", d.body)
	}
	return nil
}

func theResponseShouldCarryRetryAfter() error {
	if getDownloadContext().header.Get("Retry-After") == "" {
		return fmt.Errorf("expected Retry-After header")
	}
	return nil
}

// eventually retries check because cleanup runs after the last body byte
// has been flushed to the client.
func eventually(check func() error) error {
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := check()
		if err == nil || time.Now().After(deadline) {
			return err
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func noStagedCookieFilesShouldRemain() error {
	return eventually(stagedCookieFilesAbsent)
}

func stagedCookieFilesAbsent() error {
	matches, err := filepath.Glob(filepath.Join(getDownloadContext().stagingDir, credentials.FilePrefix+"*"))
	if err != nil {
		return err
	}
	if len(matches) != 0 {
		return fmt.Errorf("expected no staged cookie files, found %v", matches)
	}
	return nil
}

func noDownloadedFilesShouldRemain() error {
	return eventually(downloadDirEmpty)
}

func downloadDirEmpty() error {
	var leftovers []string
	root := getDownloadContext().downloadDir
	err := filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if path != root {
			leftovers = append(leftovers, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(leftovers) != 0 {
		return fmt.Errorf("expected an empty download directory, found %v", leftovers)
	}
	return nil
}

func theRateLimitShouldReport(used, remaining, limit, window int) error {
	var payload struct {
		RequestsUsed      int `json:"requests_used"`
		RequestsRemaining int `json:"requests_remaining"`
		Limit             int `json:"limit"`
		WindowSeconds     int `json:"window_seconds"`
	}
	if err := json.Unmarshal(getDownloadContext().body, &payload); err != nil {
		return fmt.Errorf("decode rate limit body: %w", err)
	}
	if payload.RequestsUsed != used || payload.RequestsRemaining != remaining || payload.Limit != limit || payload.WindowSeconds != window {
		return fmt.Errorf("unexpected rate limit report %+v", payload)
	}
	return nil
}
