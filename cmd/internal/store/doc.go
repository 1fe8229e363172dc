// Package store is the persistence layer of the credential engine.
//
// Store hands out transactions (Tx) over the six entities: users, OAuth
// accounts, sessions, refresh tokens and the two one-time token kinds.
// Two backends implement it: PostgresStore (pgx) for production and
// MemoryStore for local development and tests.
//
// Backends signal only ErrNotFound, ErrReadOnly and *ConflictError as domain
// outcomes. Every other error is an infrastructure failure; context
// cancellation is returned unchanged.
package store
