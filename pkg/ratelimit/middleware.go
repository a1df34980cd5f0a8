package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/render"

	"github.com/canyonlabs/usermgr/pkg/response"
)

// PerIP returns middleware that throttles requests per client IP.
// capacity is the burst allowance, perMinute the sustained rate.
func PerIP(capacity int, perMinute float64) func(http.Handler) http.Handler {
	limiter := NewLimiter(capacity, perMinute/60.0, time.Hour)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientIP(r)) {
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, response.ErrorEnvelope{
					Status:  response.StatusError,
					Message: "too many requests",
					Errors: []response.ErrorDetail{
						{Code: "RATE_LIMITED", Message: "too many requests, slow down"},
					},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP prefers the first X-Forwarded-For hop, set by the ingress
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
