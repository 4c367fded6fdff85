package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"audiofetch/internal/observability/logging"
)

func TestRequestIDMiddlewareAnnotatesContextAndHeaders(t *testing.T) {
	t.Parallel()

	handler := requestIDMiddlewareWithGenerator(slog.Default(), func() string { return "generated" }, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID, _ := logging.RequestIDFromContext(r.Context())
		if requestID != "incoming-123" {
			t.Fatalf("expected request id to be preserved, got %q", requestID)
		}
		if logging.LoggerFromContext(r.Context()) == nil {
			t.Fatal("expected a request-scoped logger on the context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "incoming-123")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Header().Get("X-Request-Id") != "incoming-123" {
		t.Fatalf("expected response header to carry request id, got %q", rr.Header().Get("X-Request-Id"))
	}
}

func TestRequestIDMiddlewareReplacesUnsafeIDs(t *testing.T) {
	t.Parallel()

	for _, incoming := range []string{"", "../../etc/passwd", "id with spaces", "x\ninjected", strings.Repeat("a", maxRequestIDLength+1)} {
		handler := requestIDMiddlewareWithGenerator(slog.Default(), func() string { return "generated" }, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID, _ := logging.RequestIDFromContext(r.Context())
			if requestID != "generated" {
				t.Fatalf("expected generated id for %q, got %q", incoming, requestID)
			}
		}))

		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header["X-Request-Id"] = []string{incoming}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Header().Get("X-Request-Id") != "generated" {
			t.Fatalf("expected generated id echoed for %q, got %q", incoming, rr.Header().Get("X-Request-Id"))
		}
	}
}

func TestNewRequestIDIsHex(t *testing.T) {
	id := newRequestID()
	if len(id) != 32 || !validRequestID(id) {
		t.Fatalf("unexpected generated id %q", id)
	}
}
