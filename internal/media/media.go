// Package media drives the external extraction tool that turns a video URL
// into an audio file on disk.
package media

import (
	"context"
	"fmt"
)

// Request describes one download.
type Request struct {
	URL string
	// CookiesPath is passed to the tool when non-empty.
	CookiesPath string
	// OutputDir must be private to the request; the tool writes exactly one
	// file into it.
	OutputDir string
}

// Result is a completed download.
type Result struct {
	Title string
	Path  string
}

// Downloader fetches the audio track for a video URL.
type Downloader interface {
	Download(ctx context.Context, req Request) (Result, error)
}

// Failure is returned for every unsuccessful tool run. Message is safe to
// show to callers.
type Failure struct {
	Message string
	Timeout bool
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil && f.Message == "" {
		return f.Err.Error()
	}
	return f.Message
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func failuref(err error, format string, args ...any) *Failure {
	return &Failure{Message: fmt.Sprintf(format, args...), Err: err}
}
