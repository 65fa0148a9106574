package docpipe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/mockinterview/connectivity"
)

// RemoteConfig configures RemoteStrategy.
type RemoteConfig struct {
	Name     string `yaml:"name"`
	Priority int    `yaml:"priority"`
	// Endpoint receives the raw PDF as a POST body and answers with a
	// WorkerResponse (see Worker.Routes).
	Endpoint string `yaml:"endpoint"`
	// HealthURL is checked with HEAD by IsAvailable (default: Endpoint).
	HealthURL string `yaml:"health_url"`
	// Timeout bounds one attempt (default 30s).
	Timeout time.Duration `yaml:"timeout"`
	// CheckTimeout bounds IsAvailable (default 3s).
	CheckTimeout time.Duration `yaml:"check_timeout"`
	// Retry controls whole-attempt retries (default 2 retries, 1s base, 5s cap).
	Retry *connectivity.RetryPolicy `yaml:"retry"`
	// AllowPrivate permits workers on private or loopback addresses.
	AllowPrivate bool `yaml:"allow_private"`
	// Breaker tunes the circuit breaker guarding the worker.
	Breaker connectivity.BreakerConfig `yaml:"breaker"`

	Logger     *slog.Logger `yaml:"-"`
	HTTPClient *http.Client `yaml:"-"`
}

func (c *RemoteConfig) defaults() {
	if c.Name == "" {
		c.Name = "Remote PDF Worker"
	}
	if c.Priority == 0 {
		c.Priority = 50
	}
	if c.HealthURL == "" {
		c.HealthURL = c.Endpoint
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = 3 * time.Second
	}
	if c.Retry == nil {
		p := connectivity.DefaultRetryPolicy()
		c.Retry = &p
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
}

// RemoteStrategy sends the document to an extraction worker over HTTP. Each
// attempt is raced against Timeout; transient failures are retried with
// capped exponential backoff; the circuit breaker makes the strategy report
// unavailable while the worker keeps failing.
type RemoteStrategy struct {
	cfg     RemoteConfig
	breaker *connectivity.CircuitBreaker
	call    connectivity.Handler
	closeFn func()
}

// NewRemoteStrategy validates the endpoint and builds the call chain.
func NewRemoteStrategy(cfg RemoteConfig) (*RemoteStrategy, error) {
	cfg.defaults()
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("docpipe: remote strategy: endpoint is required")
	}

	opts := []connectivity.HTTPOption{
		connectivity.WithHTTPClient(cfg.HTTPClient),
		connectivity.WithContentType(DefaultAcceptedType),
		connectivity.WithAccept("application/json"),
	}
	if cfg.AllowPrivate {
		opts = append(opts, connectivity.WithAllowPrivate())
	}
	h, closeFn, err := connectivity.HTTPHandler(cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("docpipe: remote strategy: %w", err)
	}

	breaker := connectivity.NewCircuitBreaker(cfg.Name, cfg.Breaker, cfg.Logger)
	call := connectivity.Chain(
		connectivity.WithRetry(*cfg.Retry, cfg.Logger),
		connectivity.WithCircuitBreaker(breaker),
		connectivity.WithDeadline(cfg.Timeout, cfg.Name),
		connectivity.Logging(cfg.Logger),
	)(h)

	return &RemoteStrategy{cfg: cfg, breaker: breaker, call: call, closeFn: closeFn}, nil
}

func (s *RemoteStrategy) Name() string  { return s.cfg.Name }
func (s *RemoteStrategy) Priority() int { return s.cfg.Priority }

// IsAvailable is false while the breaker is open; otherwise it sends HEAD to
// HealthURL.
func (s *RemoteStrategy) IsAvailable(ctx context.Context) bool {
	if !s.breaker.Allow() {
		return false
	}
	return connectivity.Reachable(ctx, s.cfg.HTTPClient, s.cfg.HealthURL, s.cfg.CheckTimeout)
}

// Parse uploads the document and walks the returned pages.
func (s *RemoteStrategy) Parse(ctx context.Context, doc Document, progress ProgressFunc) (string, error) {
	progress.emit(ProgressEvent{
		Stage:    StageParsing,
		Progress: progressOpen,
		Message:  "Sending document to the remote worker",
	})

	body, err := s.call(ctx, doc.Content)
	if err != nil {
		return "", err
	}

	var resp WorkerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("remote worker: unreadable response: %w", err)
	}

	src := &remotePages{resp: resp}
	defer src.Close()

	text, err := readPages(ctx, src, s.cfg.Name, progress, s.cfg.Logger)
	if errors.Is(err, ErrNoTextContent) && resp.NeedsOCR {
		return "", fmt.Errorf("%w: worker reports scanned pages", ErrNoTextContent)
	}
	return text, err
}

// ErrorMessage translates a Parse failure.
func (s *RemoteStrategy) ErrorMessage(err error) string {
	return TranslateError(s.cfg.Name, err)
}

// Close releases idle connections to the worker.
func (s *RemoteStrategy) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

// remotePages adapts a WorkerResponse to pageSource. Pages missing from the
// response are reported as empty.
type remotePages struct {
	resp WorkerResponse
}

func (p *remotePages) PageCount() int {
	if p.resp.PageCount > 0 {
		return p.resp.PageCount
	}
	return len(p.resp.Pages)
}

func (p *remotePages) PageText(_ context.Context, pageNr int) (string, error) {
	for _, pg := range p.resp.Pages {
		if pg.Page != pageNr {
			continue
		}
		if pg.Error != "" {
			return "", errors.New(pg.Error)
		}
		return pg.Text, nil
	}
	return "", ErrEmptyPage
}

func (p *remotePages) Close() error {
	p.resp = WorkerResponse{}
	return nil
}
