// Package token provides the token half of the secret hasher and the opaque
// bearer format shared by refresh tokens and one-time tokens.
//
// Token secrets are high-entropy random values, never user-chosen, so they are
// hashed with a fast keyed hash (HMAC-SHA256) instead of a slow password KDF.
// Digests are stable 64-char hex strings compared in constant time.
//
// Bearer strings have the shape "{tokenId}.{secret}". Only the digest of the
// secret is persisted, keyed by tokenId for O(1) lookup.
package token
