package api

import (
	"net/http"
)

type rateLimitResponse struct {
	Email             string `json:"email"`
	RequestsUsed      int    `json:"requests_used"`
	RequestsRemaining int    `json:"requests_remaining"`
	Limit             int    `json:"limit"`
	WindowSeconds     int    `json:"window_seconds"`
}

// RateLimitStatus reports the caller's usage in the current window without
// consuming a request.
func (h *Handler) RateLimitStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	ctx := r.Context()
	identity, err := h.authenticate(ctx, r)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}

	status, err := h.limiter.Status(ctx, identity.String())
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, rateLimitResponse{
		Email:             status.Identity,
		RequestsUsed:      status.Used,
		RequestsRemaining: status.Remaining,
		Limit:             status.Limit,
		WindowSeconds:     int(status.Window.Seconds()),
	})
}
