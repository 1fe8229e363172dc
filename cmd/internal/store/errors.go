package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports a missing (or soft-deleted) row, or a missing parent on insert.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is the kind behind every *ConflictError.
	ErrConflict = errors.New("store: conflict")
	// ErrReadOnly reports a write attempted inside View.
	ErrReadOnly = errors.New("store: read-only transaction")
	// ErrClosed reports use of a closed store.
	ErrClosed = errors.New("store: closed")
)

// ConflictError reports a uniqueness violation on a logical field
// ("email", "oauth_account", "id").
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%v: %s", ErrConflict, e.Field)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// ConflictField returns the conflicting field when err is a *ConflictError.
func ConflictField(err error) (string, bool) {
	var ce *ConflictError
	if !errors.As(err, &ce) {
		return "", false
	}
	return ce.Field, true
}

// IsDomain reports whether err is one of the outcomes a backend signals on
// purpose, as opposed to an infrastructure failure.
func IsDomain(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrReadOnly)
}
