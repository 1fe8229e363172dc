// Package password is the password half of the secret hasher.
//
// It implements Argon2id hashing using a PHC-like encoded string format and includes:
// - Configurable Argon2id parameters (via environment variables)
// - Password policy validation
// - Strict hash decoding and verification with anti-DoS bounds
// - Rehash detection when configured parameters are raised
//
// Security notes:
// - The salt is random per call and embedded in the encoded hash; no separate salt storage exists.
// - Hash strings are treated as untrusted input during Verify and are validated accordingly.
package password
