package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/shindakun/supalogin/internal/metrics"
)

const (
	maxTrackedClients = 65536
	clientIdleTimeout = 10 * time.Minute
)

// RateLimiter tracks per-IP limits for credential and OAuth submits.
// Limits are per process.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	window  time.Duration
	metrics *metrics.Metrics

	// Skip exempts requests that never reach the identity service
	Skip func(r *http.Request) bool

	mu      sync.Mutex
	clients *expirable.LRU[string, *rate.Limiter]
}

// NewRateLimiter allows requests per window with a burst of burst.
// Clients idle for ten minutes are forgotten.
func NewRateLimiter(requests int, window time.Duration, burst int, m *metrics.Metrics) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Every(window / time.Duration(requests)),
		burst:   burst,
		window:  window,
		clients: expirable.NewLRU[string, *rate.Limiter](maxTrackedClients, nil, clientIdleTimeout),
		metrics: m,
	}
}

// Allow reports whether a request from ip may proceed
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	lim, ok := rl.clients.Get(ip)
	if !ok {
		lim = rate.NewLimiter(rl.limit, rl.burst)
	}
	// re-adding refreshes the idle deadline
	rl.clients.Add(ip, lim)
	return lim.Allow()
}

// Middleware limits POST requests only; page loads are never throttled.
// Mount it on the routes that call the identity service.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || (rl.Skip != nil && rl.Skip(r)) || rl.Allow(clientIP(r)) {
			next.ServeHTTP(w, r)
			return
		}

		if rl.metrics != nil {
			rl.metrics.RateLimited.Inc()
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
		http.Error(w, "Too many requests. Please wait a moment and try again.", http.StatusTooManyRequests)
	})
}

// clientIP strips the port from RemoteAddr. Proxy headers are trusted only
// through chi's RealIP, which rewrites RemoteAddr earlier in the chain.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
