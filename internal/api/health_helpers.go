package api

import (
	"context"
	"net/http"
	"time"
)

const healthTimeout = 2 * time.Second

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type healthResponse struct {
	Status     string            `json:"status"`
	Components []componentStatus `json:"components"`
}

func (h *Handler) componentHealth(ctx context.Context) ([]componentStatus, string, int) {
	overallStatus := "ok"
	statusCode := http.StatusOK
	recordComponent := func(component string, err error) componentStatus {
		status := "ok"
		message := ""
		if err != nil {
			status = "degraded"
			message = err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
		return componentStatus{Component: component, Status: status, Error: message}
	}

	components := make([]componentStatus, 0, 2)
	components = append(components, recordComponent("counter_store", h.limiter.Ping(ctx)))
	components = append(components, recordComponent("history", h.history.Ping(ctx)))

	return components, overallStatus, statusCode
}

// Health reports the counter store and history ledger; any failure turns the
// response into a 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	components, status, code := h.componentHealth(ctx)
	if code != http.StatusOK {
		h.requestLogger(ctx).Warn("health check degraded", "components", components)
	}
	writeJSON(w, code, healthResponse{Status: status, Components: components})
}
