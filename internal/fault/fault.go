// Package fault defines the error taxonomy shared by the indexing and search
// pipelines. Callers classify dependency failures into one of the sentinel
// kinds below; orchestrators branch on the kind with errors.Is and never on
// provider-specific error types.
package fault

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks bad query or message text. Never retried.
	ErrInvalidInput = errors.New("invalid input")
	// ErrTransient marks timeout/rate-limit/5xx-class failures that may be retried.
	ErrTransient = errors.New("transient failure")
	// ErrUnavailable marks a dependency whose circuit is open; no call was attempted.
	ErrUnavailable = errors.New("dependency unavailable")
	// ErrDeadline marks an operation that ran out of time mid-flight.
	ErrDeadline = errors.New("deadline exceeded")
	// ErrOverloaded marks a full indexing queue; the caller must redeliver.
	ErrOverloaded = errors.New("overloaded")
)

// Invalid wraps err as invalid input.
func Invalid(err error) error { return kindError{kind: ErrInvalidInput, err: err} }

// Transient wraps err as a retryable failure.
func Transient(err error) error { return kindError{kind: ErrTransient, err: err} }

// Unavailable reports dep's circuit as open.
func Unavailable(dep string) error {
	return kindError{kind: ErrUnavailable, err: fmt.Errorf("%s circuit open", dep)}
}

// Deadline wraps err as a deadline overrun.
func Deadline(err error) error { return kindError{kind: ErrDeadline, err: err} }

// Overloaded wraps err as a full-queue rejection; the caller must redeliver.
func Overloaded(err error) error { return kindError{kind: ErrOverloaded, err: err} }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// IsDeadline reports whether err represents an exhausted time budget.
func IsDeadline(err error) bool { return errors.Is(err, ErrDeadline) }

// kindError attaches a taxonomy sentinel to an underlying cause. Both are
// reachable through errors.Is/As.
type kindError struct {
	kind error
	err  error
}

func (e kindError) Error() string {
	return e.kind.Error() + ": " + e.err.Error()
}

func (e kindError) Unwrap() []error { return []error{e.kind, e.err} }

// FromContext classifies a context error. Deadline expiry and cancellation
// both mean the time budget is gone; callers must not start further attempts.
func FromContext(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Deadline(err)
	}
	return err
}

// FromHTTPStatus classifies an HTTP response code from an external service.
// Timeouts, throttling, and server-side errors are transient; client-side
// rejections are invalid input and must not be retried.
func FromHTTPStatus(code int, err error) error {
	switch {
	case code == 408 || code == 429 || code >= 500:
		return Transient(err)
	case code >= 400:
		return Invalid(err)
	default:
		return err
	}
}

// FromNetwork classifies a transport-level error. Context expiry becomes a
// deadline overrun; everything else on the wire (timeouts before the caller's
// deadline, refused connections, resets, DNS) is transient.
func FromNetwork(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Deadline(err)
	}
	return Transient(err)
}

// FromAttempt fixes up classification after a bounded attempt: when the
// caller's own budget is gone nothing may be retried, but when only the
// per-attempt budget expired the dependency was merely slow, which is
// retryable.
func FromAttempt(parent, attempt context.Context, err error) error {
	if parent.Err() != nil {
		return Deadline(err)
	}
	if attempt.Err() != nil && !IsTransient(err) {
		return Transient(err)
	}
	return err
}
