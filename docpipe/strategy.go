package docpipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Strategy is one way of turning a PDF into text. Implementations must be
// safe for concurrent use: per-call state lives on the stack, only
// configuration lives on the value.
//
// A future OCR-backed extractor plugs in by implementing this interface
// and registering it with a priority below the text-based strategies.
type Strategy interface {
	// Name is the stable identifier shown to users and in logs.
	Name() string
	// Priority orders strategies; higher runs first.
	Priority() int
	// IsAvailable is a bounded-time reachability check. It never panics
	// and never blocks longer than the strategy's check timeout.
	IsAvailable(ctx context.Context) bool
	// Parse extracts the document text, reporting progress through
	// parsing then extraction. It never decides about fallback.
	Parse(ctx context.Context, doc Document, progress ProgressFunc) (string, error)
	// ErrorMessage turns a Parse failure into one user-facing sentence.
	ErrorMessage(err error) string
}

var (
	// ErrNoTextContent means extraction finished but produced no text,
	// which for a PDF almost always means scanned pages.
	ErrNoTextContent = errors.New("no text content found in PDF")

	// ErrEmptyPage is returned by page sources for pages without text.
	ErrEmptyPage = errors.New("page has no text")
)

// User-facing messages, one sentence each.
const (
	MsgTimeout    = "Processing timed out, trying an alternative method."
	MsgNetwork    = "The extraction service is unreachable, trying an alternative method."
	MsgImageBased = "This document appears to be image-based (scanned). Consider an OCR tool or enter your résumé text manually."
	MsgCorrupted  = "The file appears to be corrupted or is not a valid PDF."
	MsgTooLarge   = "The file is too large or too complex for this method."
	MsgManual     = "No PDF parser is available. Please paste your résumé text manually."
)

type messageRule struct {
	patterns []string
	message  string
}

// messageRules is evaluated in order; the first rule with a matching
// substring wins.
var messageRules = []messageRule{
	{[]string{"timeout", "timed out", "deadline exceeded"}, MsgTimeout},
	{[]string{"network", "connection", "fetch", "unreachable", "no such host", "refused", "circuit open", "status 5"}, MsgNetwork},
	{[]string{"no text content"}, MsgImageBased},
	{[]string{"corrupt", "invalid", "malformed", "pdfcpu", "xref", "unexpected eof", "not a pdf"}, MsgCorrupted},
	{[]string{"too large", "memory", "complex", "exceeds"}, MsgTooLarge},
}

// TranslateError maps a raw failure to a user-facing sentence by
// case-insensitive substring matching. It is total: a nil error or an
// unmatched one yields the strategy-specific generic sentence.
func TranslateError(strategy string, err error) string {
	if err != nil {
		raw := strings.ToLower(err.Error())
		for _, rule := range messageRules {
			for _, p := range rule.patterns {
				if strings.Contains(raw, p) {
					return rule.message
				}
			}
		}
	}
	if strategy == "" {
		strategy = "The PDF reader"
	}
	return fmt.Sprintf("%s could not read this file. Please try again or enter your résumé text manually.", strategy)
}

// pageSource is an opened document that yields text one page at a time.
// Close releases everything acquired by the open call.
type pageSource interface {
	PageCount() int
	PageText(ctx context.Context, pageNr int) (string, error)
	Close() error
}

// Progress band used by strategies for the extraction stage.
const (
	progressOpen      = 25
	progressPageStart = 30
	progressPageEnd   = 90
)

// readPages walks src sequentially. A failing or empty page is logged and
// skipped; the call fails only when no page produced text. Pages are joined
// with a blank line. Context cancellation stops the walk.
func readPages(ctx context.Context, src pageSource, strategy string, progress ProgressFunc, logger *slog.Logger) (string, error) {
	total := src.PageCount()
	if total <= 0 {
		return "", fmt.Errorf("%w: document has no pages", ErrNoTextContent)
	}

	var (
		pages   []string
		started = time.Now()
	)
	for pageNr := 1; pageNr <= total; pageNr++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text, err := safePageText(ctx, src, pageNr)
		switch {
		case err == nil && strings.TrimSpace(text) != "":
			pages = append(pages, strings.TrimSpace(text))
		case err == nil || errors.Is(err, ErrEmptyPage):
			logger.DebugContext(ctx, "page has no text", "strategy", strategy, "page", pageNr)
		default:
			logger.WarnContext(ctx, "page extraction failed, skipping",
				"strategy", strategy, "page", pageNr, "error", err)
		}

		elapsed := time.Since(started)
		remaining := elapsed / time.Duration(pageNr) * time.Duration(total-pageNr)
		progress.emit(ProgressEvent{
			Stage:              StageExtraction,
			Progress:           progressPageStart + (progressPageEnd-progressPageStart)*pageNr/total,
			Message:            fmt.Sprintf("Extracted page %d of %d", pageNr, total),
			CurrentPage:        pageNr,
			TotalPages:         total,
			EstimatedRemaining: remaining,
		})
	}

	if len(pages) == 0 {
		return "", ErrNoTextContent
	}
	return strings.Join(pages, "\n\n"), nil
}

// safePageText converts a panic inside a page decoder into an error so one
// bad page cannot abort the whole document.
func safePageText(ctx context.Context, src pageSource, pageNr int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page %d: decoder panic: %v", pageNr, r)
		}
	}()
	return src.PageText(ctx, pageNr)
}
