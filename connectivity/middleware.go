// Package connectivity wraps outbound calls (remote extraction workers, chat
// models) with the cross-cutting behaviour every call site needs: deadline
// racing, retry with capped exponential backoff, circuit breaking, panic
// recovery and logging.
//
// A call is modelled as a Handler: bytes in, bytes out. Middlewares compose
// with Chain:
//
//	h, closeFn, _ := connectivity.HTTPHandler("https://worker.example/extract")
//	defer closeFn()
//	call := connectivity.Chain(
//		connectivity.Logging(logger),
//		connectivity.WithRetry(connectivity.DefaultRetryPolicy(), logger),
//		connectivity.WithDeadline(30*time.Second, "worker"),
//	)(h)
//	resp, err := call(ctx, pdfBytes)
package connectivity

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/hazyhaar/mockinterview/kit"
)

// Handler is a transport-agnostic call: bytes in, bytes out. Local Go
// functions and remote HTTP clients both implement this signature.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// HandlerMiddleware wraps a Handler, adding cross-cutting behaviour
// (logging, deadline, retry, recovery) without changing the signature.
type HandlerMiddleware func(next Handler) Handler

// Chain composes middlewares left-to-right: the first middleware in the
// slice is the outermost wrapper (executed first on the request path).
//
//	chain := Chain(logging, retry, deadline)
//	wrapped := chain(baseHandler)
func Chain(mws ...HandlerMiddleware) HandlerMiddleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging returns a middleware that logs every call with its duration.
// A nil logger falls back to slog.Default().
func Logging(logger *slog.Logger) HandlerMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			start := time.Now()
			resp, err := next(ctx, payload)
			dur := time.Since(start)

			l := logger
			if id := kit.GetRequestID(ctx); id != "" {
				l = l.With("request_id", id)
			}
			if id := kit.GetSessionID(ctx); id != "" {
				l = l.With("session_id", id)
			}
			if err != nil {
				l.WarnContext(ctx, "call failed",
					"duration_ms", dur.Milliseconds(),
					"payload_bytes", len(payload),
					"error", err)
			} else {
				l.DebugContext(ctx, "call ok",
					"duration_ms", dur.Milliseconds(),
					"payload_bytes", len(payload),
					"response_bytes", len(resp))
			}
			return resp, err
		}
	}
}

// Recovery returns a middleware that catches panics in downstream handlers
// and converts them into *ErrPanic instead of crashing the process.
func Recovery(logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) (resp []byte, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = Recovered(ctx, logger, r)
				}
			}()
			return next(ctx, payload)
		}
	}
}

// Recovered logs a recovered panic value and returns it as an *ErrPanic.
// Call it from a deferred recover() in code that is not shaped as a Handler.
func Recovered(ctx context.Context, logger *slog.Logger, v any) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.ErrorContext(ctx, "panic recovered",
		"panic", v,
		"stack", string(debug.Stack()))
	return &ErrPanic{Value: v}
}
