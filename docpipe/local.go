package docpipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hazyhaar/mockinterview/connectivity"
)

// LocalConfig configures LocalStrategy.
type LocalConfig struct {
	// Name overrides the default strategy name.
	Name string `yaml:"name"`
	// Priority overrides the default priority (100).
	Priority int `yaml:"priority"`
	// AssetPath, when set, must exist on disk for the strategy to be
	// available (e.g. a mounted worker bundle or font map directory).
	AssetPath string `yaml:"asset_path"`
	// AssetURL, when set, is checked with HEAD instead of AssetPath.
	AssetURL string `yaml:"asset_url"`
	// Timeout bounds one whole Parse call (default 30s).
	Timeout time.Duration `yaml:"timeout"`
	// CheckTimeout bounds IsAvailable (default 3s).
	CheckTimeout time.Duration `yaml:"check_timeout"`

	Logger     *slog.Logger `yaml:"-"`
	HTTPClient *http.Client `yaml:"-"`
}

func (c *LocalConfig) defaults() {
	if c.Name == "" {
		c.Name = "Local PDF Worker"
	}
	if c.Priority == 0 {
		c.Priority = 100
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = 3 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// LocalStrategy extracts text in-process with pdfcpu. It needs no network
// and is preferred whenever its bundled assets are present.
type LocalStrategy struct {
	cfg LocalConfig
}

// NewLocalStrategy creates a LocalStrategy.
func NewLocalStrategy(cfg LocalConfig) *LocalStrategy {
	cfg.defaults()
	return &LocalStrategy{cfg: cfg}
}

func (s *LocalStrategy) Name() string  { return s.cfg.Name }
func (s *LocalStrategy) Priority() int { return s.cfg.Priority }

// IsAvailable checks the configured asset: a HEAD request for AssetURL, a
// stat for AssetPath, or nothing at all when neither is set.
func (s *LocalStrategy) IsAvailable(ctx context.Context) bool {
	switch {
	case s.cfg.AssetURL != "":
		return connectivity.Reachable(ctx, s.cfg.HTTPClient, s.cfg.AssetURL, s.cfg.CheckTimeout)
	case s.cfg.AssetPath != "":
		ok, err := connectivity.RunWithDeadline(ctx, s.cfg.CheckTimeout, s.cfg.Name, func(context.Context) (bool, error) {
			_, err := os.Stat(s.cfg.AssetPath)
			return err == nil, nil
		})
		return err == nil && ok
	default:
		return true
	}
}

// Parse opens the document with pdfcpu and reads it page by page, racing
// the whole job against Timeout.
func (s *LocalStrategy) Parse(ctx context.Context, doc Document, progress ProgressFunc) (string, error) {
	return connectivity.RunWithDeadline(ctx, s.cfg.Timeout, s.cfg.Name, func(ctx context.Context) (string, error) {
		progress.emit(ProgressEvent{
			Stage:    StageParsing,
			Progress: progressOpen,
			Message:  "Loading PDF document",
		})

		src, err := openPDFCPU(doc.Content)
		if err != nil {
			return "", err
		}
		defer src.Close()

		text, err := readPages(ctx, src, s.cfg.Name, progress, s.cfg.Logger)
		if errors.Is(err, ErrNoTextContent) && src.HasImages() {
			return "", fmt.Errorf("%w: pages contain only images", ErrNoTextContent)
		}
		if err != nil {
			return "", err
		}

		q := measureQuality(text, src.PageCount(), false)
		if q.Garbled() {
			return "", fmt.Errorf("invalid font encoding: printable ratio %.2f", q.PrintableRatio)
		}
		return text, nil
	})
}

// ErrorMessage translates a Parse failure.
func (s *LocalStrategy) ErrorMessage(err error) string {
	return TranslateError(s.cfg.Name, err)
}
