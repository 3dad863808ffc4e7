// Package shield provides the HTTP middleware in front of the extraction
// server: request ids, security headers, upload limits, per-client rate
// limiting on the extraction routes, and panic recovery.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(shield.Config{}) {
//		r.Use(mw)
//	}
package shield

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/hazyhaar/kreuzberg/idgen"
	"github.com/hazyhaar/kreuzberg/kit"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// Config tunes DefaultStack.
type Config struct {
	// MaxBodyBytes bounds request bodies (default 128 MiB).
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes"`

	// RateLimit applies to paths under RateLimitPrefixes. Zero MaxRequests
	// disables it.
	RateLimit         RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	RateLimitPrefixes []string        `json:"rate_limit_prefixes" yaml:"rate_limit_prefixes"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 128 << 20
	}
	if len(c.RateLimitPrefixes) == 0 {
		c.RateLimitPrefixes = []string{"/extract"}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Middleware is the standard net/http decorator shape.
type Middleware = func(http.Handler) http.Handler

// DefaultStack returns, outermost first: Recover, RequestID, HeadToGet,
// SecurityHeaders, MaxBody and, when configured, the rate limiter.
func DefaultStack(cfg Config) []Middleware {
	cfg.defaults()
	stack := []Middleware{
		Recover(cfg.Logger),
		RequestID(cfg.Logger),
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(cfg.MaxBodyBytes),
	}
	if cfg.RateLimit.MaxRequests > 0 {
		stack = append(stack, NewRateLimiter(cfg.RateLimit, cfg.RateLimitPrefixes...).Middleware)
	}
	return stack
}

var requestIDs = idgen.Prefixed("req_", idgen.Default)

// RequestID assigns each request an id, stored with kit.WithRequestID so
// endpoint logging picks it up, echoed in X-Request-ID, and attached to a
// per-request logger.
func RequestID(base *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" || len(id) > 128 {
				id = requestIDs()
			}
			w.Header().Set("X-Request-ID", id)

			logger := base.With("request_id", id, "method", r.Method, "path", r.URL.Path)
			ctx := kit.WithRequestID(r.Context(), id)
			ctx = kit.WithTransport(ctx, "http")
			ctx = context.WithValue(ctx, LoggerKey, logger)
			logger.Debug("request", "remote_addr", r.RemoteAddr)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetLogger retrieves the per-request logger, or slog.Default().
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// Recover turns a handler panic into a 500 JSON response.
func Recover(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("shield: handler panic", "path", r.URL.Path, "panic", rec, "stack", string(debug.Stack()))
				writeJSONError(w, http.StatusInternalServerError, "internal error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// HeadToGet lets routes registered with Get answer HEAD; net/http drops
// the body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

// MaxBody caps every request body at maxBytes. Reads past the cap fail and
// the server answers 413 when the handler reports it.
func MaxBody(maxBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
