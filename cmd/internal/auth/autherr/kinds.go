// Package autherr defines the failure taxonomy of the credential & session engine.
//
// Every operation of the engine returns either nil or an error that matches
// exactly one of the sentinel kinds below via errors.Is. Raw storage errors
// never cross the engine boundary.
package autherr

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to transport status codes).
var (
	// ErrInvalidCredentials is the single generic login failure. It is returned for a
	// wrong password, an unknown email, and an inactive account alike.
	ErrInvalidCredentials = errors.New("invalid_credentials")

	// ErrConflict reports a uniqueness violation (duplicate email, OAuth account linked elsewhere).
	ErrConflict = errors.New("conflict")

	// ErrInvalid reports a malformed, unknown, mismatched or revoked token.
	ErrInvalid = errors.New("invalid")

	// ErrExpired reports a token presented at or after its expiry instant.
	ErrExpired = errors.New("expired")

	// ErrAlreadyUsed reports a second redemption of a one-time token.
	ErrAlreadyUsed = errors.New("already_used")

	// ErrReuseDetected reports that a rotated-away refresh token was presented again.
	// The owning session and all of its refresh tokens are revoked before it is returned.
	ErrReuseDetected = errors.New("reuse_detected")

	// ErrNotFound reports a user or session lookup miss.
	ErrNotFound = errors.New("not_found")

	// ErrInactive reports a deactivated or deleted account or session.
	ErrInactive = errors.New("inactive")

	// ErrInvalidInput reports caller input rejected by policy (weak password, malformed email).
	ErrInvalidInput = errors.New("invalid_input")

	// ErrUnavailable reports an infrastructure failure. It is the only retryable kind.
	ErrUnavailable = errors.New("unavailable")
)
