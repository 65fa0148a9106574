package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/mockinterview/docpipe"
	"github.com/hazyhaar/mockinterview/observability"
)

func newTestApp(t *testing.T, mutate func(*Config)) *app {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "data", "mi.db")
	cfg.LLM.BaseURL = "http://127.0.0.1:9"
	cfg.LLM.AllowPrivate = true
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	a, err := newApp(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func serve(a *app, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func TestApp_Health(t *testing.T) {
	a := newTestApp(t, nil)
	w := serve(a, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "ok" || body["strategies"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestApp_SecurityHeaders(t *testing.T) {
	// WHAT: Every route carries the shield headers and a trace ID.
	// WHY: The stack is mounted once on the root router; a group must not bypass it.
	a := newTestApp(t, nil)
	w := serve(a, httptest.NewRequest(http.MethodGet, "/api/resume/strategies", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := w.Header().Get("X-Trace-ID"); len(got) != 8 {
		t.Errorf("X-Trace-ID = %q, want 8 hex chars", got)
	}

	var infos []docpipe.StrategyInfo
	json.NewDecoder(w.Body).Decode(&infos)
	if len(infos) != 2 || infos[0].Name != "Local PDF Worker" {
		t.Errorf("strategies = %+v", infos)
	}
}

func TestApp_ParseIsRecorded(t *testing.T) {
	// WHAT: An upload through the router lands in the ingest log with its transport.
	// WHY: The OnResult hook is the only link between the pipeline and persistence.
	a := newTestApp(t, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="resume.pdf"`)
	h.Set("Content-Type", "application/pdf")
	part, _ := mw.CreatePart(h)
	part.Write([]byte("%PDF-1.4\nnot a real document"))
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/resume/parse", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	w := serve(a, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var res docpipe.ParseResult
	json.NewDecoder(w.Body).Decode(&res)
	if res.Success {
		t.Fatalf("garbage PDF parsed: %+v", res)
	}

	a.ingest.Close()
	events, err := a.ingest.Query(context.Background(), observability.IngestFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Filename != "resume.pdf" || events[0].Success || events[0].Transport != "http" {
		t.Errorf("event = %+v", events[0])
	}

	w = serve(a, httptest.NewRequest(http.MethodGet, "/api/stats/ingest?hours=1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d", w.Code)
	}
	w = serve(a, httptest.NewRequest(http.MethodGet, "/api/stats/ingest?hours=abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad hours status = %d", w.Code)
	}
}

func TestApp_RateLimit(t *testing.T) {
	a := newTestApp(t, func(c *Config) {
		c.Upload.RatePerMinute = 1
		c.Upload.Burst = 1
	})
	first := serve(a, httptest.NewRequest(http.MethodGet, "/api/resume/strategies", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first = %d", first.Code)
	}
	second := serve(a, httptest.NewRequest(http.MethodGet, "/api/resume/strategies", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second = %d, want 429", second.Code)
	}
	// Health checks are outside the limited group.
	if w := serve(a, httptest.NewRequest(http.MethodGet, "/healthz", nil)); w.Code != http.StatusOK {
		t.Errorf("healthz = %d", w.Code)
	}
}

func TestApp_Maintenance(t *testing.T) {
	a := newTestApp(t, nil)
	if err := a.maint.Set(context.Background(), true, "upgrading"); err != nil {
		t.Fatal(err)
	}
	w := serve(a, httptest.NewRequest(http.MethodGet, "/api/resume/strategies", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("api during maintenance = %d, want 503", w.Code)
	}
	if w := serve(a, httptest.NewRequest(http.MethodGet, "/healthz", nil)); w.Code != http.StatusOK {
		t.Errorf("healthz during maintenance = %d", w.Code)
	}
}

func TestApp_InterviewWithoutKey(t *testing.T) {
	a := newTestApp(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions",
		bytes.NewBufferString(`{"job_title":"SRE","resume_text":"Jane Doe"}`))
	req.Header.Set("Content-Type", "application/json")
	if w := serve(a, req); w.Code != http.StatusServiceUnavailable {
		t.Errorf("start without key = %d, want 503", w.Code)
	}
}

func TestApp_MCPMount(t *testing.T) {
	off := newTestApp(t, nil)
	if w := serve(off, httptest.NewRequest(http.MethodGet, "/mcp", nil)); w.Code != http.StatusNotFound {
		t.Errorf("mcp disabled = %d, want 404", w.Code)
	}
	on := newTestApp(t, func(c *Config) { c.MCP = true })
	if w := serve(on, httptest.NewRequest(http.MethodGet, "/mcp", nil)); w.Code == http.StatusNotFound {
		t.Error("mcp enabled but /mcp not mounted")
	}
}

func TestApp_DisabledStrategies(t *testing.T) {
	a := newTestApp(t, func(c *Config) {
		c.Strategies.Local.Enabled = false
		c.Strategies.PlainText.Enabled = false
	})
	if n := len(a.pipe.Strategies()); n != 0 {
		t.Fatalf("strategies = %d, want 0", n)
	}
	var body map[string]any
	w := serve(a, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	json.NewDecoder(w.Body).Decode(&body)
	if body["strategies"] != false {
		t.Errorf("body = %v", body)
	}
}
