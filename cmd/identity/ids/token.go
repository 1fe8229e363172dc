package ids

import "github.com/google/uuid"

// NewTokenID returns a random (v4) UUID string for refresh and one-time tokens.
// Unlike a ULID it leaks no issuance time through the public half of the bearer.
func NewTokenID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// IsTokenID reports whether s is a canonical token id.
// Lookups short-circuit on malformed ids without touching the store.
func IsTokenID(s string) bool {
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.String() == s
}
