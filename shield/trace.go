package shield

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/mockinterview/kit"
)

const maxRequestIDLen = 64

// TraceID tags each request with a trace ID and a request ID, stores them
// through kit, and attaches a per-request logger under LoggerKey. An
// inbound X-Request-ID is kept when it is short and printable. One line is
// logged when the request completes, with its status and duration.
func TraceID(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := randomHex(4)
			requestID := r.Header.Get("X-Request-ID")
			if !validRequestID(requestID) {
				requestID = randomHex(8)
			}

			ctx := kit.WithTraceID(r.Context(), traceID)
			ctx = kit.WithRequestID(ctx, requestID)
			ctx = kit.WithRemoteAddr(ctx, ExtractIP(r))
			w.Header().Set("X-Trace-ID", traceID)
			w.Header().Set("X-Request-ID", requestID)

			logger := base.With(
				"trace_id", traceID,
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
			)
			ctx = context.WithValue(ctx, LoggerKey, logger)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info("request",
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// GetLogger returns the per-request logger, or slog.Default() outside a
// traced request.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

func randomHex(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func validRequestID(s string) bool {
	if s == "" || len(s) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}
