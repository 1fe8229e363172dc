// Package lifecycle composes identity, sessions, refresh tokens and one-time
// tokens into the externally visible account operations: register, login,
// refresh, logout, password reset, email verification and account closure.
//
// Every operation returns nil or an error carrying one autherr kind.
// Multi-step operations run in one store transaction so that a failure
// leaves no partial state behind. Slow password hashing always happens
// outside the transaction.
package lifecycle
