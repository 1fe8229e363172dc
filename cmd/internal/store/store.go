package store

import (
	"context"
	"time"
)

// Store hands out transactions. Implementations must be safe for concurrent use.
type Store interface {
	// InTx runs fn in a read-write transaction. A nil return commits;
	// any error (or a cancelled ctx) rolls back and is returned unchanged.
	InTx(ctx context.Context, fn func(Tx) error) error

	// View runs fn in a read-only transaction. Writes fail with ErrReadOnly.
	View(ctx context.Context, fn func(Tx) error) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close()
}

// Tx exposes entity operations inside one transaction.
//
// Reads exclude soft-deleted rows. Lock* variants additionally hold a row lock
// until the transaction ends. Bulk operations return the number of rows changed
// and are idempotent.
type Tx interface {
	CreateUser(ctx context.Context, u *User) error
	UserByID(ctx context.Context, id string) (User, error)
	UserByEmail(ctx context.Context, emailNorm string) (User, error)
	UpdateUser(ctx context.Context, u *User) error

	CreateOAuthAccount(ctx context.Context, a *OAuthAccount) error
	OAuthAccountByProvider(ctx context.Context, provider, providerAccountID string) (OAuthAccount, error)
	UpdateOAuthAccount(ctx context.Context, a *OAuthAccount) error
	DeleteOAuthAccountsByUser(ctx context.Context, now time.Time, userID string) (int64, error)

	CreateSession(ctx context.Context, s *Session) error
	SessionByID(ctx context.Context, id string) (Session, error)
	// LockSession reads the session and holds its row lock until the tx
	// ends. Callers touching a session and its tokens lock the session first.
	LockSession(ctx context.Context, id string) (Session, error)
	// SessionsByUser returns sessions ordered by last activity, most recent first.
	SessionsByUser(ctx context.Context, userID string, activeOnly bool) ([]Session, error)
	TouchSession(ctx context.Context, now time.Time, id string) error
	// DeactivateSession flips is_active to false; it reports false when the
	// session was already inactive.
	DeactivateSession(ctx context.Context, now time.Time, id, reason string) (bool, error)
	DeleteSessionsByUser(ctx context.Context, now time.Time, userID string) (int64, error)

	CreateRefreshToken(ctx context.Context, t *RefreshToken) error
	RefreshTokenByID(ctx context.Context, id string) (RefreshToken, error)
	LockRefreshToken(ctx context.Context, id string) (RefreshToken, error)
	RefreshTokensBySession(ctx context.Context, sessionID string) ([]RefreshToken, error)
	// RetireRefreshToken revokes the token only if it is not revoked yet
	// (compare-and-swap). It reports whether this call won.
	RetireRefreshToken(ctx context.Context, now time.Time, id, reason string, replacedBy *string) (bool, error)
	RevokeRefreshTokensBySession(ctx context.Context, now time.Time, sessionID, reason string) (int64, error)
	DeleteRefreshTokensByUser(ctx context.Context, now time.Time, userID string) (int64, error)

	CreateOneTimeToken(ctx context.Context, t *OneTimeToken) error
	OneTimeTokenByID(ctx context.Context, kind OneTimeKind, id string) (OneTimeToken, error)
	LockOneTimeToken(ctx context.Context, kind OneTimeKind, id string) (OneTimeToken, error)
	// ConsumeOneTimeToken marks the token used only if it is unused
	// (compare-and-swap). It reports whether this call won.
	ConsumeOneTimeToken(ctx context.Context, now time.Time, kind OneTimeKind, id string) (bool, error)
	// SupersedeOneTimeTokens soft-deletes the user's unused tokens of kind.
	SupersedeOneTimeTokens(ctx context.Context, now time.Time, kind OneTimeKind, userID string) (int64, error)
	DeleteOneTimeTokensByUser(ctx context.Context, now time.Time, userID string) (int64, error)

	// SweepExpired soft-deletes tokens that expired before cutoff and inactive
	// sessions whose last activity is before cutoff.
	SweepExpired(ctx context.Context, now, cutoff time.Time) (SweepStats, error)
}
