// Package identity owns user accounts and their linked OAuth identities.
//
// Every operation comes in two forms: a standalone one that opens its own
// transaction and a ...Tx form that runs inside a caller's transaction, so
// the lifecycle orchestrator can compose identity changes with session and
// token changes atomically.
//
// Reads never return soft-deleted rows. Errors carry autherr kinds.
package identity
