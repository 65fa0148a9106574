package connectivity

import (
	"context"
	"time"
)

// RunWithDeadline runs fn in its own goroutine and races it against d.
//
// If fn finishes first its result is returned. If the timer fires first,
// RunWithDeadline returns *ErrCallTimeout immediately; fn keeps running with
// a cancelled context and its result is dropped into a buffered channel, so
// the goroutine always exits and any deferred cleanup inside fn still runs.
// A non-positive d disables the deadline but fn still runs on its own
// goroutine.
func RunWithDeadline[T any](ctx context.Context, d time.Duration, service string, fn func(context.Context) (T, error)) (T, error) {
	type outcome struct {
		val T
		err error
	}

	workCtx, cancel := context.WithCancel(ctx)
	done := make(chan outcome, 1)
	go func() {
		var o outcome
		defer func() {
			if r := recover(); r != nil {
				o.err = &ErrPanic{Value: r}
			}
			done <- o
		}()
		o.val, o.err = fn(workCtx)
	}()

	var timer <-chan time.Time
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timer = t.C
	}

	var zero T
	select {
	case o := <-done:
		cancel()
		return o.val, o.err
	case <-timer:
		cancel()
		return zero, &ErrCallTimeout{Service: service, After: d.String()}
	case <-ctx.Done():
		cancel()
		return zero, ctx.Err()
	}
}

// WithDeadline returns a HandlerMiddleware that races each call against d
// using RunWithDeadline. A zero d disables the deadline.
func WithDeadline(d time.Duration, service string) HandlerMiddleware {
	return func(next Handler) Handler {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			return RunWithDeadline(ctx, d, service, func(ctx context.Context) ([]byte, error) {
				return next(ctx, payload)
			})
		}
	}
}
