package docpipe

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/mockinterview/connectivity"
	pdf "github.com/ledongthuc/pdf"
)

// PlainTextConfig configures PlainTextStrategy.
type PlainTextConfig struct {
	Name     string        `yaml:"name"`
	Priority int           `yaml:"priority"`
	Timeout  time.Duration `yaml:"timeout"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *PlainTextConfig) defaults() {
	if c.Name == "" {
		c.Name = "Embedded Text Reader"
	}
	if c.Priority == 0 {
		c.Priority = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// PlainTextStrategy is the last-resort reader. It decodes fonts through
// their ToUnicode maps, which rescues some files the content-stream reader
// garbles, but it is slower and stricter about document structure.
type PlainTextStrategy struct {
	cfg PlainTextConfig
}

// NewPlainTextStrategy creates a PlainTextStrategy.
func NewPlainTextStrategy(cfg PlainTextConfig) *PlainTextStrategy {
	cfg.defaults()
	return &PlainTextStrategy{cfg: cfg}
}

func (s *PlainTextStrategy) Name() string  { return s.cfg.Name }
func (s *PlainTextStrategy) Priority() int { return s.cfg.Priority }

// IsAvailable is always true: the reader is compiled in.
func (s *PlainTextStrategy) IsAvailable(context.Context) bool { return true }

// Parse reads the document page by page.
func (s *PlainTextStrategy) Parse(ctx context.Context, doc Document, progress ProgressFunc) (string, error) {
	return connectivity.RunWithDeadline(ctx, s.cfg.Timeout, s.cfg.Name, func(ctx context.Context) (string, error) {
		progress.emit(ProgressEvent{
			Stage:    StageParsing,
			Progress: progressOpen,
			Message:  "Reading embedded text",
		})

		src, err := openPlainText(doc.Content)
		if err != nil {
			return "", err
		}
		defer src.Close()

		return readPages(ctx, src, s.cfg.Name, progress, s.cfg.Logger)
	})
}

// ErrorMessage translates a Parse failure.
func (s *PlainTextStrategy) ErrorMessage(err error) string {
	return TranslateError(s.cfg.Name, err)
}

type plainTextSource struct {
	r     *pdf.Reader
	fonts map[string]*pdf.Font
}

func openPlainText(data []byte) (src *plainTextSource, err error) {
	// The reader panics on some malformed trailers.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader: corrupt document: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("pdf reader: invalid document: %w", err)
	}
	return &plainTextSource{r: r, fonts: make(map[string]*pdf.Font)}, nil
}

func (s *plainTextSource) PageCount() int {
	if s.r == nil {
		return 0
	}
	return s.r.NumPage()
}

func (s *plainTextSource) PageText(_ context.Context, pageNr int) (string, error) {
	if s.r == nil {
		return "", fmt.Errorf("pdf reader: source closed")
	}
	p := s.r.Page(pageNr)
	if p.V.IsNull() {
		return "", ErrEmptyPage
	}
	// Fonts are shared across pages; cache them per document.
	for _, name := range p.Fonts() {
		if _, ok := s.fonts[name]; !ok {
			f := p.Font(name)
			s.fonts[name] = &f
		}
	}
	text, err := p.GetPlainText(s.fonts)
	if err != nil {
		return "", fmt.Errorf("pdf reader page %d: %w", pageNr, err)
	}
	return cleanPageText(text), nil
}

func (s *plainTextSource) Close() error {
	s.r = nil
	s.fonts = nil
	return nil
}
