// Package serverutil runs a long-lived listener until its context ends.
package serverutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Service is the subset of server.Server that Run drives.
type Service interface {
	Addr() string
	Serve(net.Listener) error
	Shutdown(context.Context) error
}

// Config controls the HTTP server runtime behaviour.
type Config struct {
	Service         Service
	ShutdownTimeout time.Duration
	// Ready receives the bound address once the listener is open. It must be
	// buffered or actively read.
	Ready  chan<- net.Addr
	Logger *slog.Logger
}

// DefaultShutdownTimeout bounds graceful shutdown when the context is cancelled.
const DefaultShutdownTimeout = 10 * time.Second

// Run listens on the service address and blocks until the service stops.
// When the context is cancelled, Run drains in-flight requests bounded by
// ShutdownTimeout. A clean shutdown returns nil.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Service == nil {
		return fmt.Errorf("service is required")
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ln, err := net.Listen("tcp", cfg.Service.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Service.Addr(), err)
	}
	logger.Info("listening", "addr", ln.Addr().String())

	if cfg.Ready != nil {
		cfg.Ready <- ln.Addr()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- cfg.Service.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", timeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	shutdownErr := cfg.Service.Shutdown(shutdownCtx)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-shutdownCtx.Done():
		if shutdownErr != nil {
			return shutdownErr
		}
		return shutdownCtx.Err()
	}

	return shutdownErr
}
