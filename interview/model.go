package interview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/mockinterview/connectivity"
)

// ChatModel answers a single system + user prompt exchange.
type ChatModel interface {
	Ask(ctx context.Context, system, user string) (string, error)
}

// ErrNoAPIKey is returned by Ask when the model client has no credentials.
var ErrNoAPIKey = errors.New("interview: model api key is empty")

// ModelConfig configures OpenAIClient.
type ModelConfig struct {
	// BaseURL of an OpenAI-compatible API (default: https://openrouter.ai/api/v1).
	BaseURL string `yaml:"base_url"`

	// Model name (default: qwen/qwen2.5-32b-instruct).
	Model string `yaml:"model"`

	APIKey string `yaml:"api_key"`

	// Timeout per attempt (default: 60s).
	Timeout time.Duration `yaml:"timeout"`

	Temperature float32 `yaml:"temperature"`

	// AppTitle and Referer are sent as X-Title and HTTP-Referer, which
	// OpenRouter uses for attribution.
	AppTitle string `yaml:"app_title"`
	Referer  string `yaml:"referer"`

	// AllowPrivate permits a BaseURL on a private network (self-hosted models).
	AllowPrivate bool `yaml:"allow_private"`

	Retry      *connectivity.RetryPolicy `yaml:"retry"`
	HTTPClient *http.Client              `yaml:"-"`
	Logger     *slog.Logger              `yaml:"-"`
}

func (c *ModelConfig) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://openrouter.ai/api/v1"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Model == "" {
		c.Model = "qwen/qwen2.5-32b-instruct"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Temperature == 0 {
		c.Temperature = 0.4
	}
	if c.Retry == nil {
		p := connectivity.DefaultRetryPolicy()
		c.Retry = &p
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// OpenAIClient calls an OpenAI-compatible chat completions endpoint with a
// per-attempt deadline and retry on transient failures.
type OpenAIClient struct {
	cfg     ModelConfig
	call    connectivity.Handler
	closeFn func()
}

// NewOpenAIClient validates the endpoint and builds the call chain.
func NewOpenAIClient(cfg ModelConfig) (*OpenAIClient, error) {
	cfg.defaults()

	opts := []connectivity.HTTPOption{
		connectivity.WithHTTPClient(cfg.HTTPClient),
		connectivity.WithContentType("application/json"),
		connectivity.WithAccept("application/json"),
		connectivity.WithHeader("Authorization", "Bearer "+cfg.APIKey),
	}
	if cfg.AppTitle != "" {
		opts = append(opts, connectivity.WithHeader("X-Title", cfg.AppTitle))
	}
	if cfg.Referer != "" {
		opts = append(opts, connectivity.WithHeader("HTTP-Referer", cfg.Referer))
	}
	if cfg.AllowPrivate {
		opts = append(opts, connectivity.WithAllowPrivate())
	}
	h, closeFn, err := connectivity.HTTPHandler(cfg.BaseURL+"/chat/completions", opts...)
	if err != nil {
		return nil, err
	}

	call := connectivity.Chain(
		connectivity.Recovery(cfg.Logger),
		connectivity.WithRetry(*cfg.Retry, cfg.Logger),
		connectivity.WithDeadline(cfg.Timeout, "chat-model"),
		connectivity.Logging(cfg.Logger.With("service", "chat-model", "model", cfg.Model)),
	)(h)
	return &OpenAIClient{cfg: cfg, call: call, closeFn: closeFn}, nil
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.cfg.Model }

// Ask sends one system + user exchange and returns the first choice.
func (c *OpenAIClient) Ask(ctx context.Context, system, user string) (string, error) {
	if c.cfg.APIKey == "" {
		return "", ErrNoAPIKey
	}
	payload, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", err
	}

	body, err := c.call(ctx, payload)
	if err != nil {
		return "", fmt.Errorf("interview: chat completion: %w", err)
	}
	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("interview: decode chat completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("interview: no choices returned by model")
	}
	reply := strings.TrimSpace(out.Choices[0].Message.Content)
	if reply == "" {
		return "", errors.New("interview: empty reply from model")
	}
	return reply, nil
}

// Close releases idle connections.
func (c *OpenAIClient) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}
