package server

import (
	"log/slog"
	"net/http"
)

// requestLogger returns a logger annotated with request-scoped fields so
// middleware logs share keys with the request log line.
func requestLogger(base *slog.Logger, r *http.Request) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	logger := loggerWithRequestContext(r.Context(), base)
	return logger.With(
		"path", r.URL.Path,
		"remote_ip", extractClientIP(r),
	)
}
