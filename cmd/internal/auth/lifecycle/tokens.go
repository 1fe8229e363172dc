package lifecycle

import (
	"context"
	"errors"

	"warden/cmd/identity/ids"
	"warden/cmd/internal/auth/access"
	"warden/cmd/internal/auth/autherr"
	"warden/cmd/internal/auth/refresh"
	"warden/cmd/internal/auth/session"
	"warden/cmd/internal/store"
	"warden/cmd/security/token"
)

// Refresh rotates the opaque bearer "{tokenId}.{secret}".
func (s *Service) Refresh(ctx context.Context, bearer string) (Result, error) {
	id, secret, err := token.Parse(bearer)
	if err != nil {
		s.metrics.RecordRefresh(autherr.ErrInvalid.Error())
		return Result{}, autherr.New("lifecycle.Refresh", autherr.ErrInvalid, "malformed token")
	}
	return s.RefreshPair(ctx, id, secret)
}

// RefreshPair rotates a refresh token and returns its successor.
//
// ReuseDetected means the session was already revoked by the time the error
// is returned; the client must log in again (see autherr.RequiresReauth).
func (s *Service) RefreshPair(ctx context.Context, tokenID, secret string) (Result, error) {
	const op = "lifecycle.Refresh"

	now := s.now()
	p, err := s.refresh.Rotate(ctx, now, tokenID, secret)
	s.metrics.RecordRefresh(outcome(err))
	if err != nil {
		if errors.Is(err, autherr.ErrReuseDetected) {
			s.metrics.RecordReuseDetected()
			s.metrics.RecordSessionsRevoked(refresh.ReasonReuseDetected, 1)
			s.auditRefreshReuse(ctx, tokenID, p.UserID, p.SessionID)
		}
		return Result{}, err
	}

	r, err := s.result(op, now, p)
	if err != nil {
		return Result{}, err
	}
	s.auditRefreshSuccess(ctx, r)
	return r, nil
}

// Logout ends the session that tokenID belongs to, whatever the token's own
// state. Logging out twice is not an error.
func (s *Service) Logout(ctx context.Context, tokenID string) error {
	const op = "lifecycle.Logout"

	if !ids.IsTokenID(tokenID) {
		return autherr.New(op, autherr.ErrInvalid, "malformed token")
	}

	var (
		rt      store.RefreshToken
		changed bool
	)
	err := s.inTx(ctx, op, autherr.ErrInvalid, func(tx store.Tx) error {
		var err error
		rt, err = tx.RefreshTokenByID(ctx, tokenID)
		if err != nil {
			return autherr.FromStore(op, err, autherr.ErrInvalid)
		}
		changed, err = s.sessions.RevokeTx(ctx, tx, s.now(), rt.SessionID, session.ReasonLogout)
		if errors.Is(err, autherr.ErrNotFound) {
			// The session is gone already; nothing left to end.
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	if changed {
		s.metrics.RecordSessionsRevoked(session.ReasonLogout, 1)
		s.auditLogout(ctx, rt.UserID, rt.SessionID)
	}
	return nil
}

// LogoutAll ends every session of userID and returns how many were active.
func (s *Service) LogoutAll(ctx context.Context, userID string) (int, error) {
	const op = "lifecycle.LogoutAll"

	var n int
	err := s.inTx(ctx, op, autherr.ErrNotFound, func(tx store.Tx) error {
		if _, err := s.identity.FindByIDTx(ctx, tx, userID); err != nil {
			return err
		}
		var err error
		n, err = s.sessions.RevokeAllExceptTx(ctx, tx, s.now(), userID, "", session.ReasonLogoutAll)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.metrics.RecordSessionsRevoked(session.ReasonLogoutAll, n)
	s.auditSessionsRevoked(ctx, "auth.logout_all", userID, session.ReasonLogoutAll, n)
	return n, nil
}

// ValidateAccess verifies an access token and checks that its session is
// still active, so revocation takes effect before the token expires.
func (s *Service) ValidateAccess(ctx context.Context, tok string) (access.Claims, error) {
	const op = "lifecycle.ValidateAccess"

	if s.access == nil {
		return access.Claims{}, autherr.New(op, autherr.ErrInvalid, "access tokens disabled")
	}
	claims, err := s.access.Verify(tok, s.now())
	if err != nil {
		return access.Claims{}, err
	}

	sess, err := s.sessions.Get(ctx, claims.SessionID)
	switch {
	case errors.Is(err, autherr.ErrNotFound):
		return access.Claims{}, autherr.New(op, autherr.ErrInvalid, "session not found")
	case err != nil:
		return access.Claims{}, err
	case !sess.IsActive || sess.UserID != claims.UserID:
		return access.Claims{}, autherr.New(op, autherr.ErrInvalid, "session revoked")
	}
	return claims, nil
}
