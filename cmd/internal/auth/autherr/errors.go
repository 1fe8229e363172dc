package autherr

import (
	"context"
	"errors"
	"fmt"
)

// Error is a typed operation error with a stable Op + Kind contract for callers and tests.
//
// Kind is always one of the sentinel kinds. Msg is human-readable context and must
// not contain secrets. Cause keeps the underlying infrastructure error for logging;
// it is deliberately not reachable through Unwrap.
type Error struct {
	Op    string
	Kind  error
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

// New builds an *Error of the given kind.
func New(op string, kind error, msg string) error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// Unavailable wraps an infrastructure failure.
//
// Context cancellation and deadline errors are returned wrapped but unchanged in
// kind, so callers observe their own cancellation instead of a retryable failure.
func Unavailable(op string, cause error) error {
	if cause == nil {
		return nil
	}
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, cause)
	}
	return &Error{Op: op, Kind: ErrUnavailable, Msg: "store unavailable", Cause: cause}
}

// KindOf returns the sentinel kind carried by err, or nil if err is not an engine error.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}

// CauseOf returns the infrastructure cause attached to err, if any.
func CauseOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Cause
	}
	return nil
}

// IsConflict reports whether err represents ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalid reports whether err represents ErrInvalid.
func IsInvalid(err error) bool { return errors.Is(err, ErrInvalid) }

// IsReuseDetected reports whether err represents ErrReuseDetected.
func IsReuseDetected(err error) bool { return errors.Is(err, ErrReuseDetected) }

// Retryable reports whether the caller may retry the operation.
// Only infrastructure failures qualify.
func Retryable(err error) bool { return errors.Is(err, ErrUnavailable) }

// RequiresReauth reports whether the client must log in again to obtain new credentials.
func RequiresReauth(err error) bool {
	switch {
	case errors.Is(err, ErrReuseDetected),
		errors.Is(err, ErrInvalid),
		errors.Is(err, ErrExpired),
		errors.Is(err, ErrInactive):
		return true
	default:
		return false
	}
}
