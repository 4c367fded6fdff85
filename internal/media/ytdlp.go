package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	audioFormat  = "m4a"
	audioQuality = "192K"
	formatSpec   = "m4a/bestaudio/best"
)

// YTDLP implements Downloader with yt-dlp (which shells out to ffmpeg for
// the audio conversion).
type YTDLP struct {
	binary  string
	runner  CommandRunner
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures YTDLP.
type Option func(*YTDLP)

// WithBinary sets the yt-dlp executable path.
func WithBinary(path string) Option {
	return func(y *YTDLP) {
		if strings.TrimSpace(path) != "" {
			y.binary = path
		}
	}
}

// WithCommandRunner sets a custom command runner (for testing).
func WithCommandRunner(runner CommandRunner) Option {
	return func(y *YTDLP) {
		if runner != nil {
			y.runner = runner
		}
	}
}

// WithTimeout bounds each download. Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(y *YTDLP) {
		y.timeout = timeout
	}
}

// WithLogger sets the logger for tool diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(y *YTDLP) {
		if logger != nil {
			y.logger = logger
		}
	}
}

// NewYTDLP creates a yt-dlp backed downloader.
func NewYTDLP(opts ...Option) *YTDLP {
	y := &YTDLP{
		binary:  "yt-dlp",
		runner:  ExecCommandRunner{},
		timeout: 5 * time.Minute,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(y)
	}
	return y
}

// Download runs yt-dlp for req and locates the produced file.
func (y *YTDLP) Download(ctx context.Context, req Request) (Result, error) {
	url := strings.TrimSpace(req.URL)
	if url == "" {
		return Result{}, failuref(nil, "no video URL provided")
	}
	if strings.TrimSpace(req.OutputDir) == "" {
		return Result{}, errors.New("output directory is required")
	}
	if err := os.MkdirAll(req.OutputDir, 0o700); err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}

	runCtx := ctx
	if y.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, y.timeout)
		defer cancel()
	}

	args := y.args(req.OutputDir, req.CookiesPath, url)
	started := time.Now()
	stdout, stderr, err := y.runner.Run(runCtx, y.binary, args...)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return Result{}, &Failure{Message: "download cancelled", Err: ctx.Err()}
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			return Result{}, &Failure{
				Message: fmt.Sprintf("download timed out after %s", y.timeout),
				Timeout: true,
				Err:     runCtx.Err(),
			}
		}
		message := lastLine(stderr)
		if message == "" {
			message = err.Error()
		}
		y.logger.Debug("yt-dlp failed", "url", url, "error", err, "stderr", message)
		return Result{}, &Failure{Message: message, Err: err}
	}

	result, err := locate(req.OutputDir, lastLine(stdout))
	if err != nil {
		return Result{}, err
	}
	y.logger.Debug("yt-dlp finished", "url", url, "title", result.Title, "duration", time.Since(started))
	return result, nil
}

// VerifyInstalled checks that the yt-dlp binary runs.
func (y *YTDLP) VerifyInstalled(ctx context.Context) error {
	if _, _, err := y.runner.Run(ctx, y.binary, "--version"); err != nil {
		return fmt.Errorf("yt-dlp not found or not executable: %w", err)
	}
	return nil
}

func (y *YTDLP) args(outputDir, cookiesPath, url string) []string {
	args := []string{
		"--no-playlist",
		"--no-progress",
		"-f", formatSpec,
		"-x",
		"--audio-format", audioFormat,
		"--audio-quality", audioQuality,
		"-o", filepath.Join(outputDir, "%(title)s.%(ext)s"),
		"--print", "after_move:title",
		"--no-simulate",
	}
	if cookiesPath != "" {
		args = append(args, "--cookies", cookiesPath)
	}
	return append(args, "--", url)
}

// locate resolves the produced file. yt-dlp may sanitise the title when
// building the filename, so the single audio file in dir is used when the
// printed title does not match.
func locate(dir, title string) (Result, error) {
	if title != "" {
		path := filepath.Join(dir, title+"."+audioFormat)
		if filepath.Dir(path) == filepath.Clean(dir) {
			if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
				return Result{Title: title, Path: path}, nil
			}
		}
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*."+audioFormat))
	if err != nil {
		return Result{}, fmt.Errorf("scan output dir: %w", err)
	}
	switch len(matches) {
	case 0:
		return Result{}, failuref(nil, "download produced no audio file")
	case 1:
		if title == "" {
			title = strings.TrimSuffix(filepath.Base(matches[0]), "."+audioFormat)
		}
		return Result{Title: title, Path: matches[0]}, nil
	default:
		return Result{}, failuref(nil, "download produced %d audio files", len(matches))
	}
}

func lastLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

var _ Downloader = (*YTDLP)(nil)
