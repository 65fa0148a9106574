package connectivity

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy controls WithRetry. Attempts = MaxRetries + 1.
type RetryPolicy struct {
	MaxRetries  int           `json:"max_retries" yaml:"max_retries"`
	BaseBackoff time.Duration `json:"base_backoff" yaml:"base_backoff"`
	MaxBackoff  time.Duration `json:"max_backoff" yaml:"max_backoff"`
}

// DefaultRetryPolicy is 2 retries, 1s base backoff doubled per attempt,
// capped at 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  2,
		BaseBackoff: time.Second,
		MaxBackoff:  5 * time.Second,
	}
}

// Backoff returns the wait before retry number attempt (0-based):
// BaseBackoff * 2^attempt, capped at MaxBackoff when MaxBackoff > 0.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseBackoff <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	wait := p.BaseBackoff * (1 << uint(attempt))
	if p.MaxBackoff > 0 && wait > p.MaxBackoff {
		wait = p.MaxBackoff
	}
	return wait
}

// WithRetry returns a HandlerMiddleware that retries failed calls with
// capped exponential backoff. It respects context cancellation between
// retries and never retries errors for which IsPermanent is true. When all
// attempts fail the last error is returned.
func WithRetry(policy RetryPolicy, logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			var lastErr error
			for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
				resp, err := next(ctx, payload)
				if err == nil {
					return resp, nil
				}
				lastErr = err

				if ctx.Err() != nil {
					return nil, lastErr
				}
				if IsPermanent(err) {
					return nil, err
				}

				if attempt < policy.MaxRetries {
					wait := policy.Backoff(attempt)
					if logger != nil {
						logger.WarnContext(ctx, "retrying call",
							"attempt", attempt+1,
							"max_retries", policy.MaxRetries,
							"backoff_ms", wait.Milliseconds(),
							"error", err)
					}
					t := time.NewTimer(wait)
					select {
					case <-ctx.Done():
						t.Stop()
						return nil, lastErr
					case <-t.C:
					}
				}
			}
			return nil, lastErr
		}
	}
}
