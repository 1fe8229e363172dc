package lifecycle

import (
	"context"
	"errors"

	"warden/cmd/identity"
	"warden/cmd/internal/auth/autherr"
	"warden/cmd/internal/auth/refresh"
	"warden/cmd/internal/auth/session"
	"warden/cmd/internal/store"
)

const (
	methodPassword = "password"
	methodOAuth    = "oauth"
)

// Register creates an active, unverified password account.
// A malformed email or a password failing policy is InvalidInput; a taken
// email is Conflict.
func (s *Service) Register(ctx context.Context, email, plain string) (store.User, error) {
	const op = "lifecycle.Register"

	if !identity.ValidEmail(identity.NormalizeEmail(email)) {
		return store.User{}, autherr.New(op, autherr.ErrInvalidInput, "malformed email")
	}
	if err := s.pw.ValidateForAccount(plain, email); err != nil {
		return store.User{}, policyError(op, err)
	}
	hash, err := s.pw.Hash(plain)
	if err != nil {
		return store.User{}, policyError(op, err)
	}

	u, err := s.identity.CreateUser(ctx, s.now(), email, &hash)
	if err != nil {
		return store.User{}, err
	}
	s.auditAccount(ctx, "auth.register", u.ID)
	return u, nil
}

// Login verifies an email and password and opens a session.
//
// A wrong password, an unknown email, an account without a password and an
// inactive or deleted account all fail with the same InvalidCredentials.
// When the stored hash uses outdated parameters it is replaced in the same
// transaction that opens the session.
func (s *Service) Login(ctx context.Context, email, plain string, dev session.Device) (Result, error) {
	const op = "lifecycle.Login"

	r, err := s.login(ctx, op, email, plain, dev)
	s.metrics.RecordLogin(methodPassword, outcome(err))
	return r, err
}

func (s *Service) login(ctx context.Context, op, email, plain string, dev session.Device) (Result, error) {
	identifier := identity.NormalizeEmail(email)
	fail := func(userID, reason string) (Result, error) {
		s.auditLoginFailed(ctx, methodPassword, identifier, userID, reason, dev)
		return Result{}, autherr.New(op, autherr.ErrInvalidCredentials, "")
	}

	u, err := s.identity.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, autherr.ErrNotFound) {
			return Result{}, err
		}
		_, _ = s.pw.Verify(s.dummyHash, plain)
		return fail("", "not_found")
	}
	if u.PasswordHash == nil {
		_, _ = s.pw.Verify(s.dummyHash, plain)
		return fail(u.ID, "no_password")
	}
	stored := *u.PasswordHash
	if ok, err := s.pw.Verify(stored, plain); err != nil || !ok {
		return fail(u.ID, "bad_password")
	}
	if !u.IsActive {
		return fail(u.ID, "inactive")
	}
	if s.cfg.RequireEmailVerified && !u.IsEmailVerified {
		s.auditLoginFailed(ctx, methodPassword, identifier, u.ID, "email_not_verified", dev)
		return Result{}, autherr.New(op, autherr.ErrInactive, "email not verified")
	}

	var rehash string
	if s.pw.NeedsRehash(stored) {
		// A password that no longer meets policy keeps its old hash.
		if h, err := s.pw.Hash(plain); err == nil {
			rehash = h
		}
	}

	now := s.now()
	var p refresh.Pair
	err = s.inTx(ctx, op, autherr.ErrInvalidCredentials, func(tx store.Tx) error {
		cur, err := s.identity.FindByIDTx(ctx, tx, u.ID)
		if err != nil {
			return err
		}
		// The account may have changed while the password was being verified.
		if !cur.IsActive || cur.PasswordHash == nil || *cur.PasswordHash != stored {
			return autherr.New(op, autherr.ErrInvalidCredentials, "")
		}
		if rehash != "" {
			if err := s.identity.SetPasswordHashTx(ctx, tx, now, u.ID, rehash); err != nil {
				return err
			}
		}
		sess, err := s.sessions.OpenTx(ctx, tx, now, u.ID, dev)
		if err != nil {
			return err
		}
		p, err = s.refresh.IssueTx(ctx, tx, now, sess.ID)
		return err
	})
	if errors.Is(err, autherr.ErrInvalidCredentials) || errors.Is(err, autherr.ErrNotFound) {
		return fail(u.ID, "changed")
	}
	if err != nil {
		return Result{}, err
	}

	r, err := s.result(op, now, p)
	if err != nil {
		return Result{}, err
	}
	if rehash != "" {
		s.log.InfoContext(ctx, "auth.password.rehashed", "user_id", u.ID)
	}
	s.auditLoginSuccess(ctx, methodPassword, r, dev)
	return r, nil
}

// LoginWithOAuth signs in with a provider identity the caller has already
// verified. An unknown identity is linked to the account with the same
// email, or to a new account whose email counts as verified. Linking,
// session and first refresh token commit together.
func (s *Service) LoginWithOAuth(ctx context.Context, in identity.OAuthIdentity, dev session.Device) (Result, error) {
	const op = "lifecycle.LoginWithOAuth"

	r, err := s.loginWithOAuth(ctx, op, in, dev)
	s.metrics.RecordLogin(methodOAuth, outcome(err))
	return r, err
}

func (s *Service) loginWithOAuth(ctx context.Context, op string, in identity.OAuthIdentity, dev session.Device) (Result, error) {
	identifier := identity.NormalizeProvider(in.Provider) + ":" + in.ProviderAccountID
	now := s.now()

	var (
		p       refresh.Pair
		created bool
	)
	err := s.inTx(ctx, op, autherr.ErrNotFound, func(tx store.Tx) error {
		u, isNew, err := s.oauthUserTx(ctx, tx, in)
		if err != nil {
			return err
		}
		if !u.IsActive {
			return autherr.New(op, autherr.ErrInvalidCredentials, "")
		}
		if _, err := s.identity.LinkOAuthAccountTx(ctx, tx, now, u.ID, in); err != nil {
			return err
		}
		sess, err := s.sessions.OpenTx(ctx, tx, now, u.ID, dev)
		if err != nil {
			return err
		}
		p, err = s.refresh.IssueTx(ctx, tx, now, sess.ID)
		created = isNew
		return err
	})
	if err != nil {
		if errors.Is(err, autherr.ErrInvalidCredentials) {
			s.auditLoginFailed(ctx, methodOAuth, identifier, "", "inactive", dev)
		}
		return Result{}, err
	}

	r, err := s.result(op, now, p)
	if err != nil {
		return Result{}, err
	}
	if created {
		s.auditAccount(ctx, "auth.register", r.UserID)
	}
	s.auditLoginSuccess(ctx, methodOAuth, r, dev)
	return r, nil
}

// oauthUserTx resolves the account behind a provider identity, creating it
// when neither the link nor the email is known.
func (s *Service) oauthUserTx(ctx context.Context, tx store.Tx, in identity.OAuthIdentity) (store.User, bool, error) {
	acct, err := s.identity.FindOAuthAccountTx(ctx, tx, in.Provider, in.ProviderAccountID)
	switch {
	case err == nil:
		u, err := s.identity.FindByIDTx(ctx, tx, acct.UserID)
		return u, false, err
	case !errors.Is(err, autherr.ErrNotFound):
		return store.User{}, false, err
	}

	u, err := s.identity.FindByEmailTx(ctx, tx, in.Email)
	switch {
	case err == nil:
		return u, false, nil
	case !errors.Is(err, autherr.ErrNotFound):
		return store.User{}, false, err
	}

	now := s.now()
	u, err = s.identity.CreateUserTx(ctx, tx, now, in.Email, nil)
	if err != nil {
		return store.User{}, false, err
	}
	if err := s.identity.MarkEmailVerifiedTx(ctx, tx, now, u.ID); err != nil {
		return store.User{}, false, err
	}
	u.IsEmailVerified = true
	return u, true, nil
}
