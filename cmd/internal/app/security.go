package app

import (
	"errors"
	"fmt"

	"warden/cmd/security/token"
)

// newTokenHasher builds the token digest hasher from WARDEN_TOKEN_HMAC_KEY.
// A missing or short key is fatal at startup; there is no unkeyed fallback.
func newTokenHasher(cfg Config) (*token.Hasher, error) {
	h, err := token.NewHasher([]byte(cfg.TokenHMACKey))
	switch {
	case err == nil:
		return h, nil
	case errors.Is(err, token.ErrHMACKeyMissing):
		return nil, fmt.Errorf("%w: WARDEN_TOKEN_HMAC_KEY is required", ErrConfig)
	case errors.Is(err, token.ErrHMACKeyTooShort):
		return nil, fmt.Errorf("%w: WARDEN_TOKEN_HMAC_KEY is too short (min %d bytes)", ErrConfig, token.MinKeyBytes)
	default:
		return nil, err
	}
}
