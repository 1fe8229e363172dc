package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"warden/cmd/identity/ids"
	"warden/cmd/internal/auth/autherr"
	"warden/cmd/internal/store"
	"warden/cmd/security/token"
)

// Revocation reasons recorded on refresh token rows.
const (
	ReasonRotated       = "rotated"
	ReasonRevoked       = "revoked"
	ReasonReplaced      = "replaced"
	ReasonReuseDetected = "reuse_detected"
)

// Pair is a freshly minted token. Secret is returned exactly once and is
// never persisted; Pair redacts it when logged.
type Pair struct {
	TokenID   string
	Secret    string
	SessionID string
	UserID    string
	ExpiresAt time.Time
}

// Bearer returns the opaque "{tokenId}.{secret}" string handed to clients.
func (p Pair) Bearer() string { return token.Format(p.TokenID, p.Secret) }

// LogValue implements slog.LogValuer.
func (p Pair) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("token_id", p.TokenID),
		slog.String("session_id", p.SessionID),
		slog.String("user_id", p.UserID),
		slog.Time("expires_at", p.ExpiresAt),
	)
}

// Issuer implements the refresh token state machine.
type Issuer struct {
	cfg    Config
	store  store.Store
	hasher *token.Hasher
}

// NewIssuer constructs an Issuer.
func NewIssuer(cfg Config, st store.Store, hasher *token.Hasher) (*Issuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if st == nil || hasher == nil {
		return nil, fmt.Errorf("refresh: nil dependency")
	}
	return &Issuer{cfg: cfg, store: st, hasher: hasher}, nil
}

// Issue starts a new chain for an active session. Any token still live under
// the session is revoked first, so a session never has two valid chain tips.
func (i *Issuer) Issue(ctx context.Context, now time.Time, sessionID string) (p Pair, err error) {
	err = i.store.InTx(ctx, func(tx store.Tx) error {
		p, err = i.IssueTx(ctx, tx, now, sessionID)
		return err
	})
	return p, autherr.Passthrough("refresh.Issue", err, autherr.ErrNotFound)
}

// IssueTx is Issue inside tx.
func (i *Issuer) IssueTx(ctx context.Context, tx store.Tx, now time.Time, sessionID string) (Pair, error) {
	const op = "refresh.Issue"

	sess, err := tx.LockSession(ctx, sessionID)
	if err != nil {
		return Pair{}, autherr.FromStore(op, err, autherr.ErrNotFound)
	}
	if !sess.IsActive {
		return Pair{}, autherr.New(op, autherr.ErrInactive, "session revoked")
	}

	rt, p, err := i.mint(now, sess)
	if err != nil {
		return Pair{}, autherr.Unavailable(op, err)
	}
	if _, err := tx.RevokeRefreshTokensBySession(ctx, now, sess.ID, ReasonReplaced); err != nil {
		return Pair{}, autherr.FromStore(op, err, autherr.ErrNotFound)
	}
	if err := tx.CreateRefreshToken(ctx, &rt); err != nil {
		return Pair{}, autherr.FromStore(op, err, autherr.ErrNotFound)
	}
	return p, nil
}

// Rotate exchanges a valid token for its successor.
//
// Check order: unknown id (Invalid), now >= expires_at (Expired), secret
// mismatch (Invalid), already revoked. A token revoked by rotation is reuse:
// the session and every token under it are revoked, the transaction commits,
// and ReuseDetected is returned together with a Pair carrying only the
// SessionID and UserID of the revoked session. A token revoked any other way
// is Invalid. An inactive session is Invalid, an inactive or deleted owner is
// Inactive.
func (i *Issuer) Rotate(ctx context.Context, now time.Time, tokenID, secret string) (Pair, error) {
	const op = "refresh.Rotate"

	if !ids.IsTokenID(tokenID) || secret == "" {
		return Pair{}, autherr.New(op, autherr.ErrInvalid, "malformed token")
	}

	var (
		next   Pair
		reused *store.RefreshToken
	)
	err := i.store.InTx(ctx, func(tx store.Tx) error {
		// Session before token, the same order RevokeSessionTx locks in.
		peek, err := tx.RefreshTokenByID(ctx, tokenID)
		if err != nil {
			return autherr.FromStore(op, err, autherr.ErrInvalid)
		}
		if _, err := tx.LockSession(ctx, peek.SessionID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return autherr.FromStore(op, err, autherr.ErrInvalid)
		}
		rt, err := tx.LockRefreshToken(ctx, tokenID)
		if err != nil {
			return autherr.FromStore(op, err, autherr.ErrInvalid)
		}
		if err := i.check(op, now, rt, secret); err != nil {
			return err
		}

		if rt.IsRevoked {
			if !rt.Rotated() {
				return autherr.New(op, autherr.ErrInvalid, "token revoked")
			}
			// The cascade must commit before the caller sees the error.
			if _, err := RevokeSessionTx(ctx, tx, now, rt.SessionID, ReasonReuseDetected); err != nil {
				return err
			}
			reused = &rt
			return nil
		}

		sess, err := i.ownerTx(ctx, tx, op, rt.SessionID)
		if err != nil {
			return err
		}

		nextRow, p, err := i.mint(now, sess)
		if err != nil {
			return autherr.Unavailable(op, err)
		}

		won, err := tx.RetireRefreshToken(ctx, now, rt.ID, ReasonRotated, &nextRow.ID)
		if err != nil {
			return autherr.FromStore(op, err, autherr.ErrInvalid)
		}
		if !won {
			// Lost a compare-and-swap race to a concurrent rotation.
			if _, err := RevokeSessionTx(ctx, tx, now, rt.SessionID, ReasonReuseDetected); err != nil {
				return err
			}
			reused = &rt
			return nil
		}

		if err := tx.CreateRefreshToken(ctx, &nextRow); err != nil {
			return autherr.FromStore(op, err, autherr.ErrInvalid)
		}
		if err := tx.TouchSession(ctx, now, sess.ID); err != nil {
			return autherr.FromStore(op, err, autherr.ErrInvalid)
		}
		next = p
		return nil
	})
	if err != nil {
		return Pair{}, autherr.Passthrough(op, err, autherr.ErrInvalid)
	}
	if reused != nil {
		return Pair{SessionID: reused.SessionID, UserID: reused.UserID},
			autherr.New(op, autherr.ErrReuseDetected, "session "+reused.SessionID+" revoked")
	}
	return next, nil
}

// Validate checks a token without rotating it and returns its session id.
func (i *Issuer) Validate(ctx context.Context, now time.Time, tokenID, secret string) (string, error) {
	const op = "refresh.Validate"

	if !ids.IsTokenID(tokenID) || secret == "" {
		return "", autherr.New(op, autherr.ErrInvalid, "malformed token")
	}

	var sessionID string
	err := i.store.View(ctx, func(tx store.Tx) error {
		rt, err := tx.RefreshTokenByID(ctx, tokenID)
		if err != nil {
			return autherr.FromStore(op, err, autherr.ErrInvalid)
		}
		if err := i.check(op, now, rt, secret); err != nil {
			return err
		}
		if rt.IsRevoked {
			return autherr.New(op, autherr.ErrInvalid, "token revoked")
		}
		sess, err := i.ownerTx(ctx, tx, op, rt.SessionID)
		if err != nil {
			return err
		}
		sessionID = sess.ID
		return nil
	})
	if err != nil {
		return "", autherr.Passthrough(op, err, autherr.ErrInvalid)
	}
	return sessionID, nil
}

// Revoke revokes a single token. Revoking a revoked token is a no-op.
func (i *Issuer) Revoke(ctx context.Context, now time.Time, tokenID string) error {
	const op = "refresh.Revoke"

	if !ids.IsTokenID(tokenID) {
		return autherr.New(op, autherr.ErrInvalid, "malformed token")
	}
	err := i.store.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.RetireRefreshToken(ctx, now, tokenID, ReasonRevoked, nil)
		return autherr.FromStore(op, err, autherr.ErrInvalid)
	})
	return autherr.Passthrough(op, err, autherr.ErrInvalid)
}

// RevokeAllForSession revokes every live token of a session, leaving the
// session row untouched. It returns the number of tokens revoked.
func (i *Issuer) RevokeAllForSession(ctx context.Context, now time.Time, sessionID string) (n int64, err error) {
	const op = "refresh.RevokeAllForSession"

	err = i.store.InTx(ctx, func(tx store.Tx) error {
		n, err = tx.RevokeRefreshTokensBySession(ctx, now, sessionID, ReasonRevoked)
		return autherr.FromStore(op, err, autherr.ErrNotFound)
	})
	return n, autherr.Passthrough(op, err, autherr.ErrNotFound)
}

// RevokeSessionTx deactivates a session and revokes every token under it in
// tx. It is idempotent and reports whether the session was active.
// A session that no longer exists still has its tokens revoked.
func RevokeSessionTx(ctx context.Context, tx store.Tx, now time.Time, sessionID, reason string) (bool, error) {
	const op = "refresh.RevokeSession"

	changed, err := tx.DeactivateSession(ctx, now, sessionID, reason)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, autherr.FromStore(op, err, autherr.ErrNotFound)
	}
	if _, err := tx.RevokeRefreshTokensBySession(ctx, now, sessionID, reason); err != nil {
		return false, autherr.FromStore(op, err, autherr.ErrNotFound)
	}
	return changed, nil
}

// check applies the expiry and secret checks shared by Rotate and Validate.
func (i *Issuer) check(op string, now time.Time, rt store.RefreshToken, secret string) error {
	if !now.Before(rt.ExpiresAt) {
		return autherr.New(op, autherr.ErrExpired, "")
	}
	if !i.hasher.Verify(secret, rt.TokenHash) {
		return autherr.New(op, autherr.ErrInvalid, "token mismatch")
	}
	return nil
}

// ownerTx loads the session and user behind a token and checks both are live.
func (i *Issuer) ownerTx(ctx context.Context, tx store.Tx, op, sessionID string) (store.Session, error) {
	sess, err := tx.SessionByID(ctx, sessionID)
	if err != nil {
		return store.Session{}, autherr.FromStore(op, err, autherr.ErrInvalid)
	}
	if !sess.IsActive {
		return store.Session{}, autherr.New(op, autherr.ErrInvalid, "session revoked")
	}

	u, err := tx.UserByID(ctx, sess.UserID)
	if err != nil {
		return store.Session{}, autherr.FromStore(op, err, autherr.ErrInactive)
	}
	if !u.IsActive {
		return store.Session{}, autherr.New(op, autherr.ErrInactive, "account disabled")
	}
	return sess, nil
}

func (i *Issuer) mint(now time.Time, sess store.Session) (store.RefreshToken, Pair, error) {
	id, err := ids.NewTokenID()
	if err != nil {
		return store.RefreshToken{}, Pair{}, err
	}
	secret, err := token.NewSecret(i.cfg.SecretBytes)
	if err != nil {
		return store.RefreshToken{}, Pair{}, err
	}

	rt := store.RefreshToken{
		ID:        id,
		SessionID: sess.ID,
		UserID:    sess.UserID,
		TokenHash: i.hasher.Hash(secret),
		ExpiresAt: now.Add(i.cfg.TTL),
	}
	rt.Stamp(now)

	return rt, Pair{
		TokenID:   id,
		Secret:    secret,
		SessionID: sess.ID,
		UserID:    sess.UserID,
		ExpiresAt: rt.ExpiresAt,
	}, nil
}
