package lifecycle

import (
	"context"
	"errors"

	"warden/cmd/internal/auth/autherr"
	"warden/cmd/internal/auth/onetime"
	"warden/cmd/internal/auth/session"
	"warden/cmd/internal/store"
)

const (
	actionIssue  = "issue"
	actionRedeem = "redeem"
)

// RequestPasswordReset issues a password reset token for the account with
// email and hands it to the Notifier. An unknown email is NotFound and an
// inactive account is Inactive; transports should answer both the same way
// as success to avoid account enumeration.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (onetime.Token, error) {
	const op = "lifecycle.RequestPasswordReset"

	var (
		t onetime.Token
		u store.User
	)
	err := s.inTx(ctx, op, autherr.ErrNotFound, func(tx store.Tx) error {
		var err error
		u, err = s.identity.FindByEmailTx(ctx, tx, email)
		if err != nil {
			return err
		}
		if !u.IsActive {
			return autherr.New(op, autherr.ErrInactive, "account disabled")
		}
		t, err = s.onetime.IssueTx(ctx, tx, s.now(), u.ID, store.KindPasswordReset)
		return err
	})
	s.metrics.RecordOneTime(string(store.KindPasswordReset), actionIssue, outcome(err))
	if err != nil {
		return onetime.Token{}, err
	}

	msg := PasswordResetMessage{UserID: u.ID, Email: u.Email, Bearer: t.Bearer(), ExpiresAt: t.ExpiresAt}
	if err := s.notifier.SendPasswordReset(ctx, msg); err != nil {
		s.log.ErrorContext(ctx, "auth.password_reset.send.fail", "err", err, "msg", msg)
	}
	s.auditAccount(ctx, "auth.password_reset.requested", u.ID)
	return t, nil
}

// ConfirmPasswordReset redeems a reset token, sets the new password and
// revokes every session of the account, all in one transaction. A password
// failing policy is InvalidInput and leaves the token unused.
func (s *Service) ConfirmPasswordReset(ctx context.Context, tokenID, secret, newPassword string) error {
	const op = "lifecycle.ConfirmPasswordReset"

	hash, err := s.pw.Hash(newPassword)
	if err != nil {
		return policyError(op, err)
	}

	var (
		userID string
		n      int
	)
	err = s.inTx(ctx, op, autherr.ErrInvalid, func(tx store.Tx) error {
		now := s.now()
		var err error
		userID, err = s.onetime.RedeemTx(ctx, tx, now, store.KindPasswordReset, tokenID, secret)
		if err != nil {
			return err
		}
		u, err := s.identity.FindByIDTx(ctx, tx, userID)
		if err != nil {
			return closedAccount(op, err)
		}
		if !u.IsActive {
			return autherr.New(op, autherr.ErrInactive, "account disabled")
		}
		if err := s.pw.ValidateForAccount(newPassword, u.Email); err != nil {
			return policyError(op, err)
		}
		if err := s.identity.SetPasswordHashTx(ctx, tx, now, userID, hash); err != nil {
			return err
		}
		n, err = s.sessions.RevokeAllExceptTx(ctx, tx, now, userID, "", session.ReasonPasswordReset)
		return err
	})
	s.metrics.RecordOneTime(string(store.KindPasswordReset), actionRedeem, outcome(err))
	if err != nil {
		return err
	}

	s.metrics.RecordSessionsRevoked(session.ReasonPasswordReset, n)
	s.auditSessionsRevoked(ctx, "auth.password_reset.completed", userID, session.ReasonPasswordReset, n)
	return nil
}

// RequestEmailVerification issues an email verification token for userID.
// An already verified email is Conflict.
func (s *Service) RequestEmailVerification(ctx context.Context, userID string) (onetime.Token, error) {
	const op = "lifecycle.RequestEmailVerification"

	var (
		t onetime.Token
		u store.User
	)
	err := s.inTx(ctx, op, autherr.ErrNotFound, func(tx store.Tx) error {
		var err error
		u, err = s.identity.FindByIDTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !u.IsActive {
			return autherr.New(op, autherr.ErrInactive, "account disabled")
		}
		if u.IsEmailVerified {
			return autherr.New(op, autherr.ErrConflict, "email already verified")
		}
		t, err = s.onetime.IssueTx(ctx, tx, s.now(), u.ID, store.KindEmailVerification)
		return err
	})
	s.metrics.RecordOneTime(string(store.KindEmailVerification), actionIssue, outcome(err))
	if err != nil {
		return onetime.Token{}, err
	}

	msg := EmailVerificationMessage{UserID: u.ID, Email: u.Email, Bearer: t.Bearer(), ExpiresAt: t.ExpiresAt}
	if err := s.notifier.SendEmailVerification(ctx, msg); err != nil {
		s.log.ErrorContext(ctx, "auth.email_verification.send.fail", "err", err, "msg", msg)
	}
	return t, nil
}

// ConfirmEmailVerification redeems a verification token and marks the
// owner's email verified. It returns the owner's id.
func (s *Service) ConfirmEmailVerification(ctx context.Context, tokenID, secret string) (string, error) {
	const op = "lifecycle.ConfirmEmailVerification"

	var userID string
	err := s.inTx(ctx, op, autherr.ErrInvalid, func(tx store.Tx) error {
		now := s.now()
		var err error
		userID, err = s.onetime.RedeemTx(ctx, tx, now, store.KindEmailVerification, tokenID, secret)
		if err != nil {
			return err
		}
		return closedAccount(op, s.identity.MarkEmailVerifiedTx(ctx, tx, now, userID))
	})
	s.metrics.RecordOneTime(string(store.KindEmailVerification), actionRedeem, outcome(err))
	if err != nil {
		return "", err
	}
	s.auditAccount(ctx, "auth.email.verified", userID)
	return userID, nil
}

// ChangePassword replaces the password of a signed-in user after checking
// the current one. Every other session is revoked; keepSessionID survives.
func (s *Service) ChangePassword(ctx context.Context, userID, keepSessionID, current, next string) error {
	const op = "lifecycle.ChangePassword"

	u, err := s.identity.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if !u.IsActive || u.PasswordHash == nil {
		return autherr.New(op, autherr.ErrInvalidCredentials, "")
	}
	stored := *u.PasswordHash
	if ok, err := s.pw.Verify(stored, current); err != nil || !ok {
		return autherr.New(op, autherr.ErrInvalidCredentials, "")
	}
	if err := s.pw.ValidateForAccount(next, u.Email); err != nil {
		return policyError(op, err)
	}
	hash, err := s.pw.Hash(next)
	if err != nil {
		return policyError(op, err)
	}

	var n int
	err = s.inTx(ctx, op, autherr.ErrNotFound, func(tx store.Tx) error {
		now := s.now()
		cur, err := s.identity.FindByIDTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		if cur.PasswordHash == nil || *cur.PasswordHash != stored {
			return autherr.New(op, autherr.ErrInvalidCredentials, "password changed concurrently")
		}
		if err := s.identity.SetPasswordHashTx(ctx, tx, now, userID, hash); err != nil {
			return err
		}
		n, err = s.sessions.RevokeAllExceptTx(ctx, tx, now, userID, keepSessionID, session.ReasonPasswordChanged)
		return err
	})
	if err != nil {
		return err
	}

	s.metrics.RecordSessionsRevoked(session.ReasonPasswordChanged, n)
	s.auditSessionsRevoked(ctx, "auth.password.changed", userID, session.ReasonPasswordChanged, n)
	return nil
}

// closedAccount reports a token whose owner was deleted after issuance as Inactive.
func closedAccount(op string, err error) error {
	if errors.Is(err, autherr.ErrNotFound) {
		return autherr.New(op, autherr.ErrInactive, "account closed")
	}
	return err
}
