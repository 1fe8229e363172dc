// Package refresh mints, rotates and revokes refresh tokens.
//
// A refresh token is presented as the opaque bearer "{tokenId}.{secret}".
// Only an HMAC of the secret is stored, keyed by tokenId for O(1) lookup.
//
// Tokens of one session form a chain. Rotation retires the presented token
// (recording its successor in replaced_by_id) and mints the next one in the
// same transaction, under a row lock. Presenting a token that was already
// rotated away is treated as theft: the whole session is revoked and
// ReuseDetected is returned once that revocation has committed.
package refresh
