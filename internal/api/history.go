package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"audiofetch/internal/history"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type historyEntryResponse struct {
	RequestID  string    `json:"request_id"`
	URL        string    `json:"url"`
	Title      string    `json:"title,omitempty"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	RecordedAt time.Time `json:"recorded_at"`
}

type historyResponse struct {
	Email     string                 `json:"email"`
	Downloads []historyEntryResponse `json:"downloads"`
}

// DownloadHistory lists the caller's own recent download attempts. The
// optional limit query parameter is capped at maxHistoryLimit.
func (h *Handler) DownloadHistory(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	ctx := r.Context()
	identity, err := h.authenticate(ctx, r)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}

	entries, err := h.history.Recent(ctx, identity.String(), limit)
	if err != nil {
		unavailable := ServiceUnavailableError("download history unavailable")
		unavailable.Err = err
		h.fail(ctx, w, unavailable)
		return
	}

	resp := historyResponse{Email: identity.String(), Downloads: make([]historyEntryResponse, 0, len(entries))}
	for _, entry := range entries {
		resp.Downloads = append(resp.Downloads, historyEntryFrom(entry))
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseHistoryLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, ValidationError("limit must be a positive integer")
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, nil
}

func historyEntryFrom(entry history.Entry) historyEntryResponse {
	return historyEntryResponse{
		RequestID:  entry.RequestID,
		URL:        entry.URL,
		Title:      entry.Title,
		Outcome:    string(entry.Outcome),
		Error:      entry.Error,
		DurationMS: entry.Duration.Milliseconds(),
		RecordedAt: entry.At,
	}
}
