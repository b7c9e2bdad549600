package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/maskview/internal/api/response"
	"github.com/kiranshivaraju/maskview/internal/cache"
)

const (
	defaultRequestsPerMinute = 120
	rateWindow               = time.Minute
)

// Counter is the subset of cache.Cache the limiter needs.
type Counter interface {
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RateLimit allows requestsPerMin requests per credential in each aligned
// one-minute window. Counters live in Redis so replicas share them.
type RateLimit struct {
	cache          Counter
	requestsPerMin int
	now            func() time.Time
}

// NewRateLimit creates a new RateLimit middleware.
func NewRateLimit(c Counter, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{cache: c, requestsPerMin: requestsPerMin, now: time.Now}
}

// Limit counts the request against the credential fingerprint set by Auth.
// Requests without a fingerprint pass through.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := GetKeyPrefix(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		now := rl.now()
		window := now.Truncate(rateWindow)
		reset := window.Add(rateWindow)

		key := cache.RateLimitKey(prefix, window.Unix())
		count, err := rl.cache.IncrWithExpiry(r.Context(), key, reset.Sub(now)+time.Second)
		if err != nil {
			slog.Warn("rate limit counter unavailable, allowing request", "key_prefix", prefix, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.requestsPerMin - int(count)
		if remaining < 0 {
			remaining = 0
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if count > int64(rl.requestsPerMin) {
			retry := int(math.Ceil(reset.Sub(now).Seconds()))
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
