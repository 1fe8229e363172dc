package lifecycle

import (
	"context"
	"time"

	"warden/cmd/identity/ids"
	"warden/cmd/internal/auth/autherr"
	"warden/cmd/internal/auth/session"
	"warden/cmd/internal/store"
)

// ListSessions returns the user's active sessions, most recent first.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]store.Session, error) {
	return s.sessions.ListActive(ctx, userID)
}

// RevokeSession ends one of the user's own sessions. A session owned by
// someone else is reported as NotFound.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID string) error {
	const op = "lifecycle.RevokeSession"

	if !ids.IsULID(sessionID) {
		return autherr.New(op, autherr.ErrNotFound, "malformed session id")
	}

	var changed bool
	err := s.inTx(ctx, op, autherr.ErrNotFound, func(tx store.Tx) error {
		sess, err := tx.SessionByID(ctx, sessionID)
		if err != nil {
			return autherr.FromStore(op, err, autherr.ErrNotFound)
		}
		if sess.UserID != userID {
			return autherr.New(op, autherr.ErrNotFound, "")
		}
		changed, err = s.sessions.RevokeTx(ctx, tx, s.now(), sessionID, session.ReasonRevoked)
		return err
	})
	if err != nil {
		return err
	}
	if changed {
		s.metrics.RecordSessionsRevoked(session.ReasonRevoked, 1)
		s.auditLogout(ctx, userID, sessionID)
	}
	return nil
}

// Deactivate disables the account and ends all of its sessions.
func (s *Service) Deactivate(ctx context.Context, userID string) error {
	const op = "lifecycle.Deactivate"

	var n int
	err := s.inTx(ctx, op, autherr.ErrNotFound, func(tx store.Tx) error {
		now := s.now()
		if err := s.identity.DeactivateTx(ctx, tx, now, userID); err != nil {
			return err
		}
		var err error
		n, err = s.sessions.RevokeAllExceptTx(ctx, tx, now, userID, "", session.ReasonDeactivated)
		return err
	})
	if err != nil {
		return err
	}
	s.metrics.RecordSessionsRevoked(session.ReasonDeactivated, n)
	s.auditSessionsRevoked(ctx, "auth.account.deactivated", userID, session.ReasonDeactivated, n)
	return nil
}

// Reactivate re-enables a deactivated account. Old sessions stay revoked.
func (s *Service) Reactivate(ctx context.Context, userID string) error {
	if err := s.identity.Reactivate(ctx, s.now(), userID); err != nil {
		return err
	}
	s.auditAccount(ctx, "auth.account.reactivated", userID)
	return nil
}

// CloseAccount soft-deletes the user together with its OAuth accounts,
// sessions, refresh tokens and one-time tokens in one transaction.
func (s *Service) CloseAccount(ctx context.Context, userID string) error {
	const op = "lifecycle.CloseAccount"

	err := s.inTx(ctx, op, autherr.ErrNotFound, func(tx store.Tx) error {
		now := s.now()
		if err := s.identity.DeleteTx(ctx, tx, now, userID); err != nil {
			return err
		}
		if err := s.sessions.PurgeUserTx(ctx, tx, now, userID); err != nil {
			return err
		}
		return s.onetime.PurgeUserTx(ctx, tx, now, userID)
	})
	if err != nil {
		return err
	}
	s.auditAccount(ctx, "auth.account.closed", userID)
	return nil
}

// Sweep soft-deletes rows that expired or went inactive more than the
// configured retention ago. It is safe to run concurrently with traffic.
func (s *Service) Sweep(ctx context.Context) (store.SweepStats, error) {
	const op = "lifecycle.Sweep"

	start := time.Now()
	now := s.now()
	cutoff := now.Add(-s.cfg.SweepRetention)

	var st store.SweepStats
	err := s.inTx(ctx, op, autherr.ErrNotFound, func(tx store.Tx) error {
		var err error
		st, err = tx.SweepExpired(ctx, now, cutoff)
		return autherr.FromStore(op, err, autherr.ErrNotFound)
	})
	if err != nil {
		s.log.ErrorContext(ctx, "auth.sweep.fail", "err", err, "cause", autherr.CauseOf(err))
		return store.SweepStats{}, err
	}

	took := time.Since(start)
	s.metrics.RecordSweep(st.RefreshTokens, st.OneTimeTokens, st.Sessions, took)
	s.log.InfoContext(ctx, "auth.sweep.done",
		"refresh_tokens", st.RefreshTokens,
		"onetime_tokens", st.OneTimeTokens,
		"sessions", st.Sessions,
		"cutoff", cutoff,
		"duration_ms", took.Milliseconds(),
	)
	return st, nil
}
