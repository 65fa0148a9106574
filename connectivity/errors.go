package connectivity

import (
	"errors"
	"fmt"
)

// ErrCallTimeout is returned when a call does not complete before its
// deadline. The abandoned work keeps running in the background until it
// returns on its own.
type ErrCallTimeout struct {
	Service string
	After   string
}

func (e *ErrCallTimeout) Error() string {
	if e.After != "" {
		return fmt.Sprintf("connectivity: call timeout after %s: %s", e.After, e.Service)
	}
	return fmt.Sprintf("connectivity: call timeout: %s", e.Service)
}

// ErrCircuitOpen is returned when the circuit breaker for a service is open,
// rejecting the call without attempting the remote handler.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("connectivity: circuit open: %s", e.Service)
}

// ErrStatus is returned by HTTP handlers when the remote answers with a
// non-2xx status. Body holds a bounded excerpt of the response.
type ErrStatus struct {
	Code int
	Body string
}

func (e *ErrStatus) Error() string {
	return fmt.Sprintf("connectivity/http: status %d: %s", e.Code, e.Body)
}

// Temporary reports whether retrying the call could succeed: 5xx, 408 and
// 429 are transient, other 4xx are the caller's fault.
func (e *ErrStatus) Temporary() bool {
	return e.Code >= 500 || e.Code == 408 || e.Code == 429
}

// ErrPanic wraps a recovered panic value as an error.
type ErrPanic struct {
	Value any
}

func (e *ErrPanic) Error() string {
	return fmt.Sprintf("connectivity: handler panicked: %v", e.Value)
}

// permanentError marks an error that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. WithRetry returns it immediately.
// Permanent(nil) is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, must not be retried:
// explicit Permanent errors, open circuits and non-transient HTTP statuses.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var pe *permanentError
	if errors.As(err, &pe) {
		return true
	}
	var co *ErrCircuitOpen
	if errors.As(err, &co) {
		return true
	}
	var se *ErrStatus
	if errors.As(err, &se) {
		return !se.Temporary()
	}
	return false
}
