package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"audiofetch/internal/history"
)

type unavailableLedger struct {
	*history.MemoryLedger
}

func (unavailableLedger) Recent(context.Context, string, int) ([]history.Entry, error) {
	return nil, errors.New("connection refused")
}

func historyRequest(query, token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/history"+query, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestDownloadHistoryListsOwnEntries(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		env.handler.DownloadAudio(rec, downloadRequest("https://youtu.be/abc", encodedSecret(testSecret), testToken))
		if rec.Code != http.StatusOK {
			t.Fatalf("download %d: expected 200, got %d", i, rec.Code)
		}
	}
	if err := env.history.Record(context.Background(), history.Entry{RequestID: "other", Identity: "bob@example.com", Outcome: history.OutcomeSuccess}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{name: "default limit", query: "", want: 3},
		{name: "explicit limit", query: "?limit=2", want: 2},
		{name: "limit above cap", query: "?limit=1000", want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			env.handler.DownloadHistory(rec, historyRequest(tt.query, testToken))
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
			}
			var body historyResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Email != testEmail {
				t.Fatalf("unexpected email %q", body.Email)
			}
			if len(body.Downloads) != tt.want {
				t.Fatalf("expected %d entries, got %d", tt.want, len(body.Downloads))
			}
			for _, entry := range body.Downloads {
				if entry.RequestID == "other" {
					t.Fatal("expected entries of other identities to be hidden")
				}
				if entry.Outcome != string(history.OutcomeSuccess) || entry.Title != "Test Song" || entry.RecordedAt.IsZero() {
					t.Fatalf("unexpected entry %+v", entry)
				}
			}
		})
	}
}

func TestDownloadHistoryFailures(t *testing.T) {
	tests := []struct {
		name    string
		opts    []envOption
		req     *http.Request
		status  int
		message string
	}{
		{name: "missing token", req: historyRequest("", ""), status: http.StatusUnauthorized, message: msgUnauthorized},
		{name: "invalid token", req: historyRequest("", "nope"), status: http.StatusUnauthorized, message: msgInvalidToken},
		{name: "non-numeric limit", req: historyRequest("?limit=ten", testToken), status: http.StatusBadRequest, message: "limit must be a positive integer"},
		{name: "zero limit", req: historyRequest("?limit=0", testToken), status: http.StatusBadRequest, message: "limit must be a positive integer"},
		{name: "ledger down", opts: []envOption{withLedger(unavailableLedger{history.NewMemoryLedger(1)})}, req: historyRequest("", testToken), status: http.StatusServiceUnavailable, message: "download history unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.opts...)
			rec := httptest.NewRecorder()
			env.handler.DownloadHistory(rec, tt.req)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			if got := decodeError(t, rec); got != tt.message {
				t.Fatalf("expected %q, got %q", tt.message, got)
			}
		})
	}
}
