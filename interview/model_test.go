package interview

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/mockinterview/connectivity"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testModelConfig(url string) ModelConfig {
	return ModelConfig{
		BaseURL:      url,
		Model:        "test-model",
		APIKey:       "sk-test",
		AllowPrivate: true,
		Timeout:      time.Second,
		Retry:        &connectivity.RetryPolicy{MaxRetries: 2, BaseBackoff: time.Millisecond},
		Logger:       discardLogger(),
	}
}

func TestOpenAIClient_Ask(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"  Tell me about Acme.  "}}]}`)
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(testModelConfig(srv.URL + "/"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	reply, err := c.Ask(context.Background(), "sys", "usr")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "Tell me about Acme." {
		t.Errorf("reply = %q", reply)
	}
	if got.Model != "test-model" || len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "usr" {
		t.Errorf("request = %+v", got)
	}
}

func TestOpenAIClient_RetriesTransient(t *testing.T) {
	// WHAT: A 503 is retried and the next success is returned.
	// WHY: Hosted models shed load with 5xx; one blip must not end an interview.
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	c, _ := NewOpenAIClient(testModelConfig(srv.URL))
	if _, err := c.Ask(context.Background(), "s", "u"); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestOpenAIClient_NoRetryOnAuthError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, _ := NewOpenAIClient(testModelConfig(srv.URL))
	_, err := c.Ask(context.Background(), "s", "u")
	var se *connectivity.ErrStatus
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestOpenAIClient_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	c, _ := NewOpenAIClient(testModelConfig(srv.URL))
	if _, err := c.Ask(context.Background(), "s", "u"); err == nil {
		t.Fatal("expected an error for empty choices")
	}
}

func TestOpenAIClient_NoAPIKey(t *testing.T) {
	cfg := testModelConfig("https://api.example.com/v1")
	cfg.APIKey = ""
	c, err := NewOpenAIClient(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Ask(context.Background(), "s", "u"); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("err = %v, want ErrNoAPIKey", err)
	}
}

func TestOpenAIClient_RejectsPrivateBaseURL(t *testing.T) {
	cfg := testModelConfig("http://127.0.0.1:9/v1")
	cfg.AllowPrivate = false
	if _, err := NewOpenAIClient(cfg); err == nil {
		t.Fatal("expected loopback base URL to be rejected")
	}
}
