// Package shield holds the HTTP middleware in front of every public route:
// security headers, JSON body limits, request tracing, HEAD handling,
// maintenance mode and per-client rate limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(logger, mm) {
//	    r.Use(mw)
//	}
//	r.Group(func(r chi.Router) {
//	    r.Use(shield.MaxJSONBody(shield.DefaultJSONBody), limiter.Middleware)
//	    ...
//	})
package shield

import (
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultJSONBody caps JSON request bodies on the REST routes. Uploads are
// multipart and are limited by their own handler.
const DefaultJSONBody = 256 << 10

// DefaultStack returns the middleware shared by every route, outermost
// first: Maintenance → HeadToGet → SecurityHeaders → TraceID. A nil mm
// skips maintenance checks. Body limits differ per route group and are
// applied there.
func DefaultStack(logger *slog.Logger, mm *MaintenanceMode) []func(http.Handler) http.Handler {
	stack := make([]func(http.Handler) http.Handler, 0, 4)
	if mm != nil {
		stack = append(stack, mm.Middleware)
	}
	return append(stack,
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		TraceID(logger),
	)
}
