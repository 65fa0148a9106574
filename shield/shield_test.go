package shield

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/mockinterview/kit"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSecurityHeaders(t *testing.T) {
	w := serve(SecurityHeaders(DefaultHeaders())(okHandler()), "GET", "/")
	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
		"Referrer-Policy":        "no-referrer",
	}
	for k, v := range want {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestSecurityHeaders_EmptyFieldsSkipped(t *testing.T) {
	w := serve(SecurityHeaders(HeaderConfig{XFrameOptions: "DENY"})(okHandler()), "GET", "/")
	if w.Header().Get("Content-Security-Policy") != "" {
		t.Error("empty CSP must not be set")
	}
	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("X-Frame-Options missing")
	}
}

func TestHeadToGet(t *testing.T) {
	var seen string
	h := HeadToGet(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { seen = r.Method }))
	serve(h, http.MethodHead, "/healthz")
	if seen != http.MethodGet {
		t.Errorf("method = %q, want GET", seen)
	}
}

func TestMaxJSONBody(t *testing.T) {
	read := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	h := MaxJSONBody(16)(read)

	tests := []struct {
		name        string
		contentType string
		body        string
		want        int
	}{
		{"small json", "application/json", `{"a":1}`, http.StatusOK},
		{"large json", "application/json; charset=utf-8", strings.Repeat("x", 64), http.StatusRequestEntityTooLarge},
		{"large multipart passes", "multipart/form-data; boundary=x", strings.Repeat("x", 64), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestTraceID(t *testing.T) {
	// WHAT: Each request gets trace and request IDs in headers, context and the log line.
	// WHY: Parse failures are investigated from a user-reported request ID.
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var ctxTrace, ctxReq, ctxAddr string
	h := TraceID(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxTrace = kit.GetTraceID(r.Context())
		ctxReq = kit.GetRequestID(r.Context())
		ctxAddr = kit.GetRemoteAddr(r.Context())
		GetLogger(r.Context()).Info("inside")
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest("GET", "/api/x", nil)
	req.Header.Set("X-Request-ID", "client-abc")
	req.RemoteAddr = "192.0.2.7:5555"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if ctxTrace == "" || w.Header().Get("X-Trace-ID") != ctxTrace {
		t.Errorf("trace id ctx=%q header=%q", ctxTrace, w.Header().Get("X-Trace-ID"))
	}
	if ctxReq != "client-abc" || w.Header().Get("X-Request-ID") != "client-abc" {
		t.Errorf("request id = %q", ctxReq)
	}
	if ctxAddr != "192.0.2.7" {
		t.Errorf("remote addr = %q", ctxAddr)
	}
	out := buf.String()
	if !strings.Contains(out, `"msg":"inside"`) || !strings.Contains(out, `"request_id":"client-abc"`) {
		t.Errorf("log = %s", out)
	}
	if !strings.Contains(out, `"status":418`) {
		t.Errorf("completion line missing status: %s", out)
	}
}

func TestTraceID_RejectsBadRequestID(t *testing.T) {
	var got string
	h := TraceID(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = kit.GetRequestID(r.Context())
	}))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "has space\n")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got == "" || strings.Contains(got, " ") {
		t.Errorf("request id = %q, want a generated one", got)
	}
}

func TestGetLogger_Default(t *testing.T) {
	if GetLogger(t.Context()) != slog.Default() {
		t.Error("expected slog.Default outside a request")
	}
}

func TestRateLimiter(t *testing.T) {
	// WHAT: Burst requests pass, the next is refused, and one token returns after 60/PerMinute seconds.
	// WHY: Uploads are expensive; a single client must not monopolise the parsers.
	rl := NewRateLimiter(RateLimitConfig{PerMinute: 2, Burst: 2}, discardLogger())
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("burst must pass")
	}
	if rl.Allow("a") {
		t.Fatal("third request must be refused")
	}
	if !rl.Allow("b") {
		t.Fatal("clients are limited independently")
	}
	now = now.Add(30 * time.Second)
	if !rl.Allow("a") {
		t.Fatal("a token must be back after 30s")
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{}, discardLogger())
	for i := 0; i < 100; i++ {
		if !rl.Allow("a") {
			t.Fatal("disabled limiter refused a request")
		}
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{PerMinute: 1}, discardLogger())
	h := rl.Middleware(okHandler())

	if w := serve(h, "POST", "/api/resume/parse"); w.Code != http.StatusOK {
		t.Fatalf("first = %d", w.Code)
	}
	w := serve(h, "POST", "/api/resume/parse")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q", w.Header().Get("Retry-After"))
	}
	if !strings.Contains(w.Body.String(), "rate limit exceeded") {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestRateLimiter_GC(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{PerMinute: 10}, discardLogger())
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }
	rl.Allow("old")
	now = now.Add(20 * time.Minute)
	rl.Allow("fresh")

	if n := rl.gc(10 * time.Minute); n != 1 {
		t.Fatalf("gc removed %d, want 1", n)
	}
	if _, ok := rl.clients["fresh"]; !ok {
		t.Error("fresh client removed")
	}
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		xff, remote, want string
	}{
		{"", "10.0.0.1:1234", "10.0.0.1"},
		{"203.0.113.5, 10.0.0.1", "10.0.0.1:1234", "203.0.113.5"},
		{" 198.51.100.2 ", "x", "198.51.100.2"},
		{"", "no-port", "no-port"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = tt.remote
		if tt.xff != "" {
			req.Header.Set("X-Forwarded-For", tt.xff)
		}
		if got := ExtractIP(req); got != tt.want {
			t.Errorf("ExtractIP(%q, %q) = %q, want %q", tt.xff, tt.remote, got, tt.want)
		}
	}
}

func TestDefaultStack(t *testing.T) {
	mm := NewMaintenanceMode(setupMaintenanceDB(t), discardLogger())
	if got := len(DefaultStack(discardLogger(), mm)); got != 4 {
		t.Errorf("stack with maintenance = %d, want 4", got)
	}
	if got := len(DefaultStack(discardLogger(), nil)); got != 3 {
		t.Errorf("stack without maintenance = %d, want 3", got)
	}
}
