package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AmoditYadav/amodit-space/internal/metrics"
)

// RateLimitConfig configures the per-IP request limiter.
type RateLimitConfig struct {
	Enabled    bool
	RPS        float64 // sustained requests per second per IP
	Burst      int
	TrustProxy bool
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter hands out one token bucket per client IP.
type IPRateLimiter struct {
	mu  sync.Mutex
	ips map[string]*visitor
	r   rate.Limit
	b   int
}

// NewIPRateLimiter creates a limiter allowing r events per second with burst b.
func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	return &IPRateLimiter{
		ips: make(map[string]*visitor),
		r:   r,
		b:   b,
	}
}

// GetLimiter returns the limiter for ip, creating it on first use.
func (l *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, exists := l.ips[ip]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(l.r, l.b)}
		l.ips[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// Allow reports whether a request from ip may proceed now.
func (l *IPRateLimiter) Allow(ip string) bool {
	return l.GetLimiter(ip).Allow()
}

// Cleanup drops limiters for IPs not seen within maxIdle and returns how
// many were removed.
func (l *IPRateLimiter) Cleanup(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	l.mu.Lock()
	defer l.mu.Unlock()

	var removed int
	for ip, v := range l.ips {
		if v.lastSeen.Before(cutoff) {
			delete(l.ips, ip)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked IPs.
func (l *IPRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ips)
}

// RateLimitMiddleware rejects requests from IPs that exceed their budget
// with 429. Probe and metrics paths are never limited.
func RateLimitMiddleware(cfg RateLimitConfig, limiter *IPRateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	retryAfter := "1"
	if cfg.RPS > 0 && cfg.RPS < 1 {
		retryAfter = strconv.Itoa(int(1/cfg.RPS + 0.5))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || unlimitedPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			ip := ClientIP(r, cfg.TrustProxy)
			if !limiter.Allow(ip) {
				metrics.IncRateLimited()
				logger.Debug("rate limit exceeded", "remote_ip", ip, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", retryAfter)
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unlimitedPath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}
