// Package kit adapts transport-agnostic endpoints to the HTTP server and
// MCP tools that front the extraction engine.
package kit

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/kreuzberg/idgen"
)

// Endpoint is a single operation: decoded request in, response out.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware decorates an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first one is outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs each call of the named operation with its transport,
// request id and duration. Failures are logged at Warn.
func Logging(logger *slog.Logger, op string) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"op", op,
				"transport", GetTransport(ctx),
				"request_id", GetRequestID(ctx),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if err != nil {
				logger.Warn("kit: endpoint failed", append(attrs, "error", err)...)
			} else {
				logger.Debug("kit: endpoint", attrs...)
			}
			return resp, err
		}
	}
}

// RequestID gives calls that arrive without a request id one from gen.
func RequestID(gen idgen.Generator) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			if GetRequestID(ctx) == "" {
				ctx = WithRequestID(ctx, gen())
			}
			return next(ctx, req)
		}
	}
}
