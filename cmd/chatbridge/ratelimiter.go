package main

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"chatbridge/internal/errors"
	"chatbridge/internal/httputil"
	"chatbridge/internal/logging"
	"chatbridge/internal/metrics"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const minVisitorTTL = time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-client-IP token bucket limiter
type RateLimiter struct {
	mu          sync.RWMutex
	requests    map[string]*visitor
	limit       rate.Limit
	burst       int
	perWindow   int
	window      time.Duration
	ttl         time.Duration
	lastCleanup time.Time
}

// NewRateLimiter allows limit requests per window per IP, with bursts up
// to burst (limit when burst <= 0). A limit <= 0 denies everything.
func NewRateLimiter(limit int, window time.Duration, burst int) *RateLimiter {
	if limit < 0 {
		limit = 0
	}
	if window <= 0 {
		window = time.Minute
	}
	if burst <= 0 {
		burst = limit
	}

	ttl := 3 * window
	if ttl < minVisitorTTL {
		ttl = minVisitorTTL
	}

	return &RateLimiter{
		requests:    make(map[string]*visitor),
		limit:       rate.Limit(float64(limit) / window.Seconds()),
		burst:       burst,
		perWindow:   limit,
		window:      window,
		ttl:         ttl,
		lastCleanup: time.Now(),
	}
}

// Allow reports whether a request from ip may proceed now
func (rl *RateLimiter) Allow(ip string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastCleanup) > rl.ttl {
		rl.cleanupLocked(now)
	}

	v, ok := rl.requests[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.requests[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// cleanupLocked drops visitors idle for longer than the ttl
func (rl *RateLimiter) cleanupLocked(now time.Time) {
	for ip, v := range rl.requests {
		if now.Sub(v.lastSeen) > rl.ttl {
			delete(rl.requests, ip)
		}
	}
	rl.lastCleanup = now
}

// Middleware rejects over-limit requests with 429
func (rl *RateLimiter) Middleware(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := httputil.GetClientIP(r)
			if !rl.Allow(ip) {
				metrics.IncrementCounter("rate_limited_requests_total", nil, "Requests rejected by the rate limiter")
				logger.WithFields(logrus.Fields{
					logging.LogFieldRemoteIP: ip,
					logging.LogFieldURL:      r.URL.Path,
				}).Warn("Rate limit exceeded")

				w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
				httputil.WriteError(w, errors.NewRateLimitError(rl.perWindow, rl.window.String()), false)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
