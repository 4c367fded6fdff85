package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

type fakeRunner struct {
	name   string
	args   []string
	calls  int
	stdout string
	stderr string
	err    error
	// files are created in the -o directory before returning.
	files []string
	block bool
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls++
	f.name = name
	f.args = append([]string(nil), args...)
	if f.block {
		<-ctx.Done()
		return nil, []byte("killed"), ctx.Err()
	}
	if dir := outputDir(args); dir != "" {
		for _, file := range f.files {
			if err := os.WriteFile(filepath.Join(dir, file), []byte("audio"), 0o600); err != nil {
				return nil, nil, err
			}
		}
	}
	return []byte(f.stdout), []byte(f.stderr), f.err
}

func outputDir(args []string) string {
	for i, arg := range args {
		if arg == "-o" && i+1 < len(args) {
			return filepath.Dir(args[i+1])
		}
	}
	return ""
}

func TestDownloadBuildsArguments(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "req-1")
	runner := &fakeRunner{stdout: "My Song\n", files: []string{"My Song.m4a"}}
	downloader := NewYTDLP(WithBinary("/opt/yt-dlp"), WithCommandRunner(runner))

	result, err := downloader.Download(context.Background(), Request{
		URL:         "https://youtu.be/abc",
		CookiesPath: "/tmp/cookies-req-1.txt",
		OutputDir:   dir,
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if result.Title != "My Song" || result.Path != filepath.Join(dir, "My Song.m4a") {
		t.Fatalf("unexpected result %+v", result)
	}
	if runner.name != "/opt/yt-dlp" {
		t.Fatalf("unexpected binary %q", runner.name)
	}

	joined := strings.Join(runner.args, " ")
	for _, want := range []string{
		"-f m4a/bestaudio/best",
		"-x",
		"--audio-format m4a",
		"--audio-quality 192K",
		"-o " + filepath.Join(dir, "%(title)s.%(ext)s"),
		"--print after_move:title",
		"--cookies /tmp/cookies-req-1.txt",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in args %q", want, joined)
		}
	}
	if got := runner.args[len(runner.args)-2:]; got[0] != "--" || got[1] != "https://youtu.be/abc" {
		t.Fatalf("url must follow a -- separator, got %q", got)
	}
}

func TestDownloadWithoutCookies(t *testing.T) {
	runner := &fakeRunner{stdout: "Song", files: []string{"Song.m4a"}}
	downloader := NewYTDLP(WithCommandRunner(runner))

	if _, err := downloader.Download(context.Background(), Request{URL: "https://youtu.be/abc", OutputDir: t.TempDir()}); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if slices.Contains(runner.args, "--cookies") {
		t.Fatalf("did not expect --cookies in %q", runner.args)
	}
}

func TestDownloadFallsBackToSingleFile(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{stdout: "AC/DC: Live", files: []string{"AC⧸DC - Live.m4a"}}
	downloader := NewYTDLP(WithCommandRunner(runner))

	result, err := downloader.Download(context.Background(), Request{URL: "https://youtu.be/abc", OutputDir: dir})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if result.Title != "AC/DC: Live" {
		t.Fatalf("expected printed title to be kept, got %q", result.Title)
	}
	if result.Path != filepath.Join(dir, "AC⧸DC - Live.m4a") {
		t.Fatalf("unexpected path %q", result.Path)
	}
}

func TestDownloadFailures(t *testing.T) {
	tests := []struct {
		name    string
		runner  *fakeRunner
		message string
	}{
		{
			name:    "tool error uses last stderr line",
			runner:  &fakeRunner{stderr: "WARNING: slow\nERROR: Video unavailable\n", err: errors.New("exit status 1")},
			message: "ERROR: Video unavailable",
		},
		{
			name:    "tool error without stderr",
			runner:  &fakeRunner{err: errors.New("exit status 2")},
			message: "exit status 2",
		},
		{
			name:    "no output file",
			runner:  &fakeRunner{stdout: "Song"},
			message: "download produced no audio file",
		},
		{
			name:    "ambiguous output",
			runner:  &fakeRunner{files: []string{"a.m4a", "b.m4a"}},
			message: "download produced 2 audio files",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			downloader := NewYTDLP(WithCommandRunner(tt.runner))
			_, err := downloader.Download(context.Background(), Request{URL: "https://youtu.be/abc", OutputDir: t.TempDir()})
			var failure *Failure
			if !errors.As(err, &failure) {
				t.Fatalf("expected *Failure, got %T %v", err, err)
			}
			if failure.Message != tt.message {
				t.Fatalf("expected message %q, got %q", tt.message, failure.Message)
			}
			if failure.Timeout {
				t.Fatal("did not expect a timeout")
			}
			if tt.runner.calls != 1 {
				t.Fatalf("expected exactly one attempt, got %d", tt.runner.calls)
			}
		})
	}
}

func TestDownloadTimeout(t *testing.T) {
	runner := &fakeRunner{block: true}
	downloader := NewYTDLP(WithCommandRunner(runner), WithTimeout(20*time.Millisecond))

	_, err := downloader.Download(context.Background(), Request{URL: "https://youtu.be/abc", OutputDir: t.TempDir()})
	var failure *Failure
	if !errors.As(err, &failure) || !failure.Timeout {
		t.Fatalf("expected timeout failure, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected failure to wrap the deadline, got %v", err)
	}
}

func TestDownloadCallerCancellation(t *testing.T) {
	runner := &fakeRunner{block: true}
	downloader := NewYTDLP(WithCommandRunner(runner), WithTimeout(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := downloader.Download(ctx, Request{URL: "https://youtu.be/abc", OutputDir: t.TempDir()})
	var failure *Failure
	if !errors.As(err, &failure) || failure.Timeout {
		t.Fatalf("expected non-timeout failure, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected failure to wrap cancellation, got %v", err)
	}
}

func TestDownloadValidatesRequest(t *testing.T) {
	runner := &fakeRunner{}
	downloader := NewYTDLP(WithCommandRunner(runner))

	if _, err := downloader.Download(context.Background(), Request{OutputDir: t.TempDir()}); err == nil {
		t.Fatal("expected error for missing url")
	}
	if _, err := downloader.Download(context.Background(), Request{URL: "https://youtu.be/abc"}); err == nil {
		t.Fatal("expected error for missing output dir")
	}
	if runner.calls != 0 {
		t.Fatalf("tool must not run for invalid requests, ran %d times", runner.calls)
	}
}

func TestVerifyInstalled(t *testing.T) {
	ok := &fakeRunner{stdout: "2024.08.06"}
	if err := NewYTDLP(WithCommandRunner(ok)).VerifyInstalled(context.Background()); err != nil {
		t.Fatalf("VerifyInstalled: %v", err)
	}
	if ok.args[0] != "--version" {
		t.Fatalf("unexpected args %q", ok.args)
	}

	missing := &fakeRunner{err: errors.New("executable file not found")}
	if err := NewYTDLP(WithCommandRunner(missing)).VerifyInstalled(context.Background()); err == nil {
		t.Fatal("expected error when the binary is missing")
	}
}
