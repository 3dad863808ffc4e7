package shield

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig is a fixed-window budget per client IP and route.
type RateLimitConfig struct {
	MaxRequests int           `json:"max_requests" yaml:"max_requests"`
	Window      time.Duration `json:"window" yaml:"window"`
}

type bucket struct {
	count   int
	resetAt time.Time
}

// RateLimiter counts requests per client IP and method+path in fixed
// windows. Expired buckets are dropped lazily, at most once per window.
type RateLimiter struct {
	cfg     RateLimitConfig
	include []string
	now     func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	lastGC  time.Time
}

// NewRateLimiter limits paths starting with any of prefixes; with none,
// every path is limited. A zero Window means one minute.
func NewRateLimiter(cfg RateLimitConfig, prefixes ...string) *RateLimiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &RateLimiter{
		cfg:     cfg,
		include: prefixes,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (rl *RateLimiter) applies(path string) bool {
	if len(rl.include) == 0 {
		return true
	}
	for _, p := range rl.include {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func (rl *RateLimiter) allow(key string) bool {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastGC) > rl.cfg.Window {
		for k, b := range rl.buckets {
			if now.After(b.resetAt) {
				delete(rl.buckets, k)
			}
		}
		rl.lastGC = now
	}

	b, ok := rl.buckets[key]
	if !ok || now.After(b.resetAt) {
		rl.buckets[key] = &bucket{count: 1, resetAt: now.Add(rl.cfg.Window)}
		return true
	}
	b.count++
	return b.count <= rl.cfg.MaxRequests
}

// Middleware answers 429 with Retry-After once a client exceeds its budget.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(rl.cfg.Window.Seconds()))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.applies(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		ip := ExtractIP(r)
		if rl.allow(ip + " " + r.Method + " " + r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		slog.Warn("ratelimit: request blocked", "ip", ip, "method", r.Method, "path", r.URL.Path)
		w.Header().Set("Retry-After", retryAfter)
		writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
	})
}

// ExtractIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
