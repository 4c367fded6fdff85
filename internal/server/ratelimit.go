package server

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig throttles the whole process, independent of the
// per-identity download quota. A zero GlobalRPS disables the throttle.
type RateLimitConfig struct {
	GlobalRPS   float64
	GlobalBurst int
}

type rateLimiter struct {
	global *rate.Limiter
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.GlobalRPS <= 0 {
		return nil
	}
	burst := cfg.GlobalBurst
	if burst <= 0 {
		burst = int(math.Ceil(cfg.GlobalRPS))
	}
	return &rateLimiter{global: rate.NewLimiter(rate.Limit(cfg.GlobalRPS), burst)}
}

// allow reports whether a request may proceed now, and otherwise how long
// until the next token.
func (r *rateLimiter) allow() (bool, time.Duration) {
	if r == nil || r.global == nil {
		return true, 0
	}
	reservation := r.global.Reserve()
	if !reservation.OK() {
		return false, time.Second
	}
	delay := reservation.Delay()
	if delay == 0 {
		return true, 0
	}
	reservation.Cancel()
	return false, delay
}

// exemptFromThrottle keeps probes working while the API is saturated.
func exemptFromThrottle(path string) bool {
	return path == "/healthz" || path == "/metrics"
}

func rateLimitMiddleware(rl *rateLimiter, logger *slog.Logger, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exemptFromThrottle(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		allowed, retryAfter := rl.allow()
		if !allowed {
			seconds := int(math.Ceil(retryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			requestLogger(logger, r).Debug("global rate limit exceeded", "retry_after", seconds)
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeMiddlewareError(w, http.StatusTooManyRequests, "global rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
