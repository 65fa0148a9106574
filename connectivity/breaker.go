package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the position of a CircuitBreaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

var breakerStateNames = [...]string{"closed", "open", "half_open"}

func (s BreakerState) String() string {
	if int(s) < len(breakerStateNames) {
		return breakerStateNames[s]
	}
	return "unknown"
}

// BreakerConfig tunes a CircuitBreaker. Zero fields take the defaults:
// 5 failures, 30s cooldown, 2 half-open successes.
type BreakerConfig struct {
	// Threshold is the number of consecutive transport failures that opens
	// the breaker.
	Threshold int `json:"threshold" yaml:"threshold"`

	// Cooldown is how long an open breaker rejects calls before letting
	// trial calls through.
	Cooldown time.Duration `json:"cooldown" yaml:"cooldown"`

	// HalfOpenSuccesses closes a half-open breaker after that many
	// consecutive successes.
	HalfOpenSuccesses int `json:"half_open_successes" yaml:"half_open_successes"`
}

func (c *BreakerConfig) defaults() {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = 2
	}
}

// CircuitBreaker counts consecutive transport failures of one dependency
// and rejects calls while it is considered down. Safe for concurrent use.
type CircuitBreaker struct {
	name   string
	cfg    BreakerConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	streak   int // successes while half-open
	openedAt time.Time
}

// NewCircuitBreaker creates a closed breaker for the named dependency.
// State changes are logged at warn (open) and info (half-open, closed).
func NewCircuitBreaker(name string, cfg BreakerConfig, logger *slog.Logger) *CircuitBreaker {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &CircuitBreaker{name: name, cfg: cfg, logger: logger, now: time.Now}
}

// State returns the current state, moving open to half-open once the
// cooldown has elapsed.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.cool()
	return cb.state
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() bool {
	return cb.State() != BreakerOpen
}

// Record feeds one call outcome into the breaker. Permanent errors describe
// the request, not the dependency, and leave the counters alone.
func (cb *CircuitBreaker) Record(err error) {
	if err != nil && IsPermanent(err) {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.cool()

	if err == nil {
		switch cb.state {
		case BreakerHalfOpen:
			cb.streak++
			if cb.streak >= cb.cfg.HalfOpenSuccesses {
				cb.moveTo(BreakerClosed)
			}
		case BreakerClosed:
			cb.failures = 0
		}
		return
	}

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.cfg.Threshold {
			cb.moveTo(BreakerOpen)
		}
	case BreakerHalfOpen:
		cb.moveTo(BreakerOpen)
	}
}

// Reset closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.moveTo(BreakerClosed)
}

// cool must be called with mu held.
func (cb *CircuitBreaker) cool() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.Cooldown {
		cb.moveTo(BreakerHalfOpen)
	}
}

// moveTo must be called with mu held.
func (cb *CircuitBreaker) moveTo(s BreakerState) {
	prev := cb.state
	cb.state = s
	cb.failures = 0
	cb.streak = 0
	if s == BreakerOpen {
		cb.openedAt = cb.now()
	}
	if prev == s {
		return
	}
	if s == BreakerOpen {
		cb.logger.Warn("circuit breaker opened", "service", cb.name, "cooldown", cb.cfg.Cooldown)
		return
	}
	cb.logger.Info("circuit breaker state change", "service", cb.name, "from", prev.String(), "to", s.String())
}

// WithCircuitBreaker rejects calls with *ErrCircuitOpen while cb is open
// and records every outcome.
func WithCircuitBreaker(cb *CircuitBreaker) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			if !cb.Allow() {
				return nil, &ErrCircuitOpen{Service: cb.name}
			}
			resp, err := next(ctx, payload)
			cb.Record(err)
			return resp, err
		}
	}
}
