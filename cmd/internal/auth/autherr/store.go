package autherr

import (
	"errors"

	"warden/cmd/internal/store"
)

// FromStore translates a store error at the engine boundary.
//
// ErrNotFound maps to notFound (callers pick NotFound, Invalid, ...),
// uniqueness violations map to Conflict with the field as message, and
// anything else becomes Unavailable.
func FromStore(op string, err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return New(op, notFound, "")
	}
	if field, ok := store.ConflictField(err); ok {
		return New(op, ErrConflict, field)
	}
	return Unavailable(op, err)
}

// Passthrough returns err unchanged when it is already an engine error,
// and translates it with FromStore otherwise. It lets InTx callbacks return
// domain errors without double wrapping.
func Passthrough(op string, err error, notFound error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return FromStore(op, err, notFound)
}
