// Package onetime issues and redeems single-use tokens for password reset
// and email verification.
//
// Tokens share the refresh bearer format "{tokenId}.{secret}" and are stored
// as an HMAC of the secret. Redemption only marks the token used; what the
// redemption means for the account is up to the caller.
package onetime
