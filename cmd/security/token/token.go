package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

const (
	// MinKeyBytes is the minimum HMAC key size accepted by NewHasher.
	MinKeyBytes = 32

	digestHexLen = 64

	// maxBearerLen bounds parsing work on attacker-supplied input.
	maxBearerLen = 512
)

// Hasher hashes token secrets with HMAC-SHA256 under a server-side key.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher for key. The key is measured in bytes, not runes,
// because it is used as raw HMAC key material.
func NewHasher(key []byte) (*Hasher, error) {
	if len(key) == 0 {
		return nil, ErrHMACKeyMissing
	}
	if len(key) < MinKeyBytes {
		return nil, ErrHMACKeyTooShort
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Hasher{key: k}, nil
}

// Hash returns the hex HMAC-SHA256 digest of secret.
func (h *Hasher) Hash(secret string) string {
	m := hmac.New(sha256.New, h.key)
	_, _ = m.Write([]byte(secret))
	return hex.EncodeToString(m.Sum(nil))
}

// Verify reports whether secret hashes to digest.
// Both sides are fixed-length hex so the comparison leaks no length information.
func (h *Hasher) Verify(secret, digest string) bool {
	got := h.Hash(secret)
	if len(digest) != digestHexLen {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(digest)) == 1
}

// NewSecret returns a URL-safe random secret of nBytes entropy.
func NewSecret(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = 32
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Format joins a token id and its secret into the opaque bearer string.
func Format(id, secret string) string {
	return id + "." + secret
}

// Parse splits a bearer string into its id and secret.
// The id never contains a dot; the secret is base64url and never does either.
func Parse(bearer string) (id string, secret string, err error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" || len(bearer) > maxBearerLen {
		return "", "", ErrMalformed
	}
	id, secret, ok := strings.Cut(bearer, ".")
	if !ok || id == "" || secret == "" || strings.Contains(secret, ".") {
		return "", "", ErrMalformed
	}
	return id, secret, nil
}
