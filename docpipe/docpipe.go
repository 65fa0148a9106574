// Package docpipe turns an uploaded PDF résumé into plain text.
//
// A Pipeline validates the upload, then tries its registered strategies in
// descending priority order. Strategies that report unavailable are
// skipped; the first strategy that returns non-blank text wins; if every
// attempted strategy fails, the last one's translated error is returned.
// Progress is reported through an optional callback.
//
// Usage:
//
//	pipe := docpipe.New(docpipe.Config{},
//		docpipe.NewLocalStrategy(docpipe.LocalConfig{}),
//		docpipe.NewPlainTextStrategy(docpipe.PlainTextConfig{}),
//	)
//	res := pipe.ParseFile(ctx, docpipe.Document{
//		Content:   data,
//		MediaType: "application/pdf",
//		Filename:  "resume.pdf",
//	}, nil)
package docpipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/mockinterview/connectivity"
)

// Pipeline is the strategy registry and orchestrator. It is safe for
// concurrent ParseFile calls; RegisterStrategy may run concurrently too.
type Pipeline struct {
	cfg       Config
	logger    *slog.Logger
	validator *Validator

	mu         sync.RWMutex
	strategies []Strategy
}

// New creates a Pipeline with the given configuration and strategies.
func New(cfg Config, strategies ...Strategy) *Pipeline {
	cfg.defaults()
	p := &Pipeline{
		cfg:       cfg,
		logger:    cfg.Logger,
		validator: NewValidator(cfg),
	}
	for _, s := range strategies {
		p.RegisterStrategy(s)
	}
	return p
}

// RegisterStrategy adds s and keeps the registry sorted by descending
// priority. Strategies with equal priority keep registration order.
func (p *Pipeline) RegisterStrategy(s Strategy) {
	if s == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strategies = append(p.strategies, s)
	sort.SliceStable(p.strategies, func(i, j int) bool {
		return p.strategies[i].Priority() > p.strategies[j].Priority()
	})
}

// Strategies returns a copy of the registry in execution order.
func (p *Pipeline) Strategies() []Strategy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Strategy, len(p.strategies))
	copy(out, p.strategies)
	return out
}

// StrategyInfo checks every strategy and describes it.
func (p *Pipeline) StrategyInfo(ctx context.Context) []StrategyInfo {
	strategies := p.Strategies()
	out := make([]StrategyInfo, 0, len(strategies))
	for _, s := range strategies {
		out = append(out, StrategyInfo{
			Name:      s.Name(),
			Priority:  s.Priority(),
			Available: p.available(ctx, s),
		})
	}
	return out
}

// HasAvailableStrategies reports whether at least one registered strategy
// currently passes its availability check.
func (p *Pipeline) HasAvailableStrategies(ctx context.Context) bool {
	for _, s := range p.Strategies() {
		if p.available(ctx, s) {
			return true
		}
	}
	return false
}

// MaxFileSize returns the upload size ceiling in bytes.
func (p *Pipeline) MaxFileSize() int64 { return p.validator.MaxFileSize() }

// SetMaxFileSize changes the upload size ceiling. Non-positive values are ignored.
func (p *Pipeline) SetMaxFileSize(n int64) { p.validator.SetMaxFileSize(n) }

// Validate runs the pre-flight checks without extracting anything.
func (p *Pipeline) Validate(doc Document) ValidationResult { return p.validator.Validate(doc) }

// ParseFile validates doc and extracts its text with the first strategy
// that succeeds. It never panics and never returns a raw error: failures
// are reported in ParseResult.Error as one user-facing sentence.
func (p *Pipeline) ParseFile(ctx context.Context, doc Document, progress ProgressFunc) ParseResult {
	start := time.Now()
	tr := &progressTracker{out: progress}

	res := p.parse(ctx, doc, tr, start)
	res.ProcessingTime = time.Since(start)
	tr.close()

	p.logger.InfoContext(ctx, "resume parsed",
		"filename", doc.Filename,
		"size", doc.Size(),
		"success", res.Success,
		"strategy", res.Strategy,
		"duration_ms", res.ProcessingTime.Milliseconds())
	if p.cfg.OnResult != nil {
		p.cfg.OnResult(ctx, doc, res)
	}
	return res
}

func (p *Pipeline) parse(ctx context.Context, doc Document, tr *progressTracker, start time.Time) ParseResult {
	vr := p.validator.Validate(doc)
	if !vr.IsValid {
		p.logger.DebugContext(ctx, "validation failed", "filename", doc.Filename, "errors", vr.Errors)
		return ParseResult{
			Strategy: StrategyValidation,
			Error:    strings.Join(vr.Errors, "; "),
		}
	}
	for _, w := range vr.Warnings {
		p.logger.DebugContext(ctx, "validation warning", "filename", doc.Filename, "warning", w)
	}

	tr.emit(ProgressEvent{Stage: StageValidation, Progress: 10, Message: "File validated"})

	strategies := p.Strategies()
	if len(strategies) == 0 {
		tr.fail(MsgManual)
		return ParseResult{Strategy: StrategyNone, Error: MsgManual}
	}

	var (
		lastStrategy Strategy
		lastErr      error
	)
	for i, s := range strategies {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		if !p.available(ctx, s) {
			p.logger.DebugContext(ctx, "strategy unavailable, skipping", "strategy", s.Name())
			continue
		}

		tr.emit(ProgressEvent{
			Stage:    StageParsing,
			Progress: 20,
			Message:  fmt.Sprintf("Parsing with %s", s.Name()),
		})

		began := time.Now()
		text, err := p.attempt(ctx, s, doc, tr.forwarder(i))
		tr.endAttempt()
		if err == nil {
			text = sanitizeText(text)
			if text == "" {
				err = ErrNoTextContent
			}
		}
		if err == nil {
			tr.emit(ProgressEvent{Stage: StageComplete, Progress: 100, Message: "Text extracted"})
			return ParseResult{Success: true, Text: text, Strategy: s.Name()}
		}

		p.logger.WarnContext(ctx, "strategy failed",
			"strategy", s.Name(),
			"duration_ms", time.Since(began).Milliseconds(),
			"elapsed_ms", time.Since(start).Milliseconds(),
			"last", i == len(strategies)-1,
			"error", err)
		lastStrategy, lastErr = s, err
	}

	if lastStrategy == nil {
		// Every strategy was skipped (or the caller gave up before any ran).
		tr.fail(MsgManual)
		return ParseResult{Strategy: StrategyNone, Error: MsgManual}
	}

	msg := p.errorMessage(lastStrategy, lastErr)
	tr.fail(msg)
	return ParseResult{Strategy: lastStrategy.Name(), Error: msg}
}

// attempt runs one strategy, converting panics into errors.
func (p *Pipeline) attempt(ctx context.Context, s Strategy, doc Document, progress ProgressFunc) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = connectivity.Recovered(ctx, p.logger, r)
		}
	}()
	return s.Parse(ctx, doc, progress)
}

// available checks s, treating a panic as unavailable.
func (p *Pipeline) available(ctx context.Context, s Strategy) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "availability check panicked", "strategy", s.Name(), "panic", r)
			ok = false
		}
	}()
	return s.IsAvailable(ctx)
}

// errorMessage asks the strategy for its translation and falls back to the
// shared table if the strategy misbehaves.
func (p *Pipeline) errorMessage(s Strategy, err error) (msg string) {
	defer func() {
		if r := recover(); r != nil || strings.TrimSpace(msg) == "" {
			msg = TranslateError(s.Name(), err)
		}
	}()
	var pe *connectivity.ErrPanic
	if errors.As(err, &pe) {
		return TranslateError(s.Name(), err)
	}
	return s.ErrorMessage(err)
}

// progressTracker forwards events while keeping the sequence monotonic:
// percentages never go backwards and only the pipeline's own complete
// event reaches 100. Terminal stages from strategies are dropped, as are
// late events from an attempt that already timed out.
type progressTracker struct {
	out ProgressFunc

	mu      sync.Mutex
	last    int
	attempt int
	closed  bool
}

func (t *progressTracker) emit(ev ProgressEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emitLocked(ev)
}

func (t *progressTracker) emitLocked(ev ProgressEvent) {
	if t.closed {
		return
	}
	if ev.Progress < t.last {
		ev.Progress = t.last
	}
	if ev.Stage != StageComplete && ev.Progress > 99 {
		ev.Progress = 99
	}
	t.last = ev.Progress
	t.out.emit(ev)
}

// forwarder returns the callback handed to the attempt-th strategy and
// makes it the current attempt.
func (t *progressTracker) forwarder(attempt int) ProgressFunc {
	t.mu.Lock()
	t.attempt = attempt
	t.mu.Unlock()
	return func(ev ProgressEvent) {
		if ev.Stage == StageComplete || ev.Stage == StageError {
			return
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.attempt != attempt {
			return
		}
		t.emitLocked(ev)
	}
}

func (t *progressTracker) endAttempt() {
	t.mu.Lock()
	t.attempt = -1
	t.mu.Unlock()
}

func (t *progressTracker) fail(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.out.emit(ProgressEvent{Stage: StageError, Progress: 0, Message: msg})
	}
}

func (t *progressTracker) close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}
