// Package credentials writes the configured cookie jar to a per-request file
// for the media tool and removes it again once the request is done.
package credentials

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// FilePrefix names every staged cookie file so the janitor can find leftovers.
const FilePrefix = "cookies-"

// Stager materialises cookie files. A Stager without cookies stages nothing.
type Stager struct {
	cookies []byte
	dir     string
	logger  *slog.Logger
	// onStage is called after every file written; metrics hook.
	onStage func()
}

// Option customises a Stager.
type Option func(*Stager)

// WithLogger sets the logger used for release failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stager) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStageHook registers a callback invoked after each successful stage.
func WithStageHook(fn func()) Option {
	return func(s *Stager) {
		s.onStage = fn
	}
}

// NewStager returns a Stager writing cookies (already decoded) under dir.
func NewStager(cookies []byte, dir string, opts ...Option) (*Stager, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "audiofetch")
	}
	s := &Stager{
		cookies: append([]byte(nil), cookies...),
		dir:     dir,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.cookies) == 0 {
		return s, nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return s, nil
}

// Enabled reports whether a cookie jar was configured.
func (s *Stager) Enabled() bool {
	return s != nil && len(s.cookies) > 0
}

// Dir returns the staging directory.
func (s *Stager) Dir() string {
	return s.dir
}

// Stage writes the cookie jar for requestID. It returns a nil handle and nil
// error when no cookies are configured.
func (s *Stager) Stage(requestID string) (*Handle, error) {
	if !s.Enabled() {
		return nil, nil
	}
	id := strings.TrimSpace(requestID)
	if id == "" {
		id = uuid.NewString()
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return nil, fmt.Errorf("invalid request id %q", requestID)
	}
	path := filepath.Join(s.dir, FilePrefix+id+".txt")

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create cookie file: %w", err)
	}
	_, writeErr := file.Write(s.cookies)
	closeErr := file.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write cookie file: %w", err)
	}
	if s.onStage != nil {
		s.onStage()
	}
	return &Handle{path: path, logger: s.logger}, nil
}

// Handle owns one staged cookie file.
type Handle struct {
	path   string
	logger *slog.Logger
	once   sync.Once
	err    error
}

// Path returns the cookie file location, or "" for a nil handle.
func (h *Handle) Path() string {
	if h == nil {
		return ""
	}
	return h.path
}

// Release removes the cookie file. Only the first call does any work; later
// calls return the first result. Releasing a nil handle is a no-op.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		if err := os.Remove(h.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.err = fmt.Errorf("remove cookie file: %w", err)
			if h.logger != nil {
				h.logger.Warn("failed to remove cookie file", "path", h.path, "error", err)
			}
		}
	})
	return h.err
}
