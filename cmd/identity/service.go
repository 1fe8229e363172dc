package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"warden/cmd/identity/ids"
	"warden/cmd/internal/auth/autherr"
	"warden/cmd/internal/store"
)

// OAuthIdentity is a provider identity already verified by the caller.
// Cached provider tokens are optional.
type OAuthIdentity struct {
	Provider          string
	ProviderAccountID string
	Email             string
	AccessToken       *string
	RefreshToken      *string
	TokenExpiresAt    *time.Time
}

// Service implements account persistence rules over a store.Store.
type Service struct {
	store store.Store
}

// NewService constructs an identity service.
func NewService(st store.Store) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("identity: nil store")
	}
	return &Service{store: st}, nil
}

// ---- reads ----

// FindByEmail returns the live user with the given email (case-insensitive).
func (s *Service) FindByEmail(ctx context.Context, email string) (u store.User, err error) {
	err = s.store.View(ctx, func(tx store.Tx) error {
		u, err = s.FindByEmailTx(ctx, tx, email)
		return err
	})
	return u, autherr.Passthrough("identity.FindByEmail", err, autherr.ErrNotFound)
}

// FindByEmailTx is FindByEmail inside tx.
func (s *Service) FindByEmailTx(ctx context.Context, tx store.Tx, email string) (store.User, error) {
	const op = "identity.FindByEmail"

	norm := NormalizeEmail(email)
	if norm == "" {
		return store.User{}, autherr.New(op, autherr.ErrNotFound, "")
	}
	u, err := tx.UserByEmail(ctx, norm)
	if err != nil {
		return store.User{}, autherr.FromStore(op, err, autherr.ErrNotFound)
	}
	return u, nil
}

// FindByID returns the live user with the given id.
func (s *Service) FindByID(ctx context.Context, userID string) (u store.User, err error) {
	err = s.store.View(ctx, func(tx store.Tx) error {
		u, err = s.FindByIDTx(ctx, tx, userID)
		return err
	})
	return u, autherr.Passthrough("identity.FindByID", err, autherr.ErrNotFound)
}

// FindByIDTx is FindByID inside tx.
func (s *Service) FindByIDTx(ctx context.Context, tx store.Tx, userID string) (store.User, error) {
	u, err := tx.UserByID(ctx, userID)
	if err != nil {
		return store.User{}, autherr.FromStore("identity.FindByID", err, autherr.ErrNotFound)
	}
	return u, nil
}

// FindOAuthAccount returns the live link for (provider, providerAccountID).
func (s *Service) FindOAuthAccount(ctx context.Context, provider, providerAccountID string) (a store.OAuthAccount, err error) {
	err = s.store.View(ctx, func(tx store.Tx) error {
		a, err = s.FindOAuthAccountTx(ctx, tx, provider, providerAccountID)
		return err
	})
	return a, autherr.Passthrough("identity.FindOAuthAccount", err, autherr.ErrNotFound)
}

// FindOAuthAccountTx is FindOAuthAccount inside tx.
func (s *Service) FindOAuthAccountTx(ctx context.Context, tx store.Tx, provider, providerAccountID string) (store.OAuthAccount, error) {
	a, err := tx.OAuthAccountByProvider(ctx, NormalizeProvider(provider), providerAccountID)
	if err != nil {
		return store.OAuthAccount{}, autherr.FromStore("identity.FindOAuthAccount", err, autherr.ErrNotFound)
	}
	return a, nil
}

// ---- writes ----

// CreateUser creates an active, unverified user. passwordHash is nil for
// OAuth-only accounts. A live account with the same email yields Conflict.
func (s *Service) CreateUser(ctx context.Context, now time.Time, email string, passwordHash *string) (u store.User, err error) {
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		u, err = s.CreateUserTx(ctx, tx, now, email, passwordHash)
		return err
	})
	return u, autherr.Passthrough("identity.CreateUser", err, autherr.ErrNotFound)
}

// CreateUserTx is CreateUser inside tx.
func (s *Service) CreateUserTx(ctx context.Context, tx store.Tx, now time.Time, email string, passwordHash *string) (store.User, error) {
	const op = "identity.CreateUser"

	norm := NormalizeEmail(email)
	if !ValidEmail(norm) {
		return store.User{}, autherr.New(op, autherr.ErrInvalidInput, "malformed email")
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return store.User{}, autherr.Unavailable(op, err)
	}

	u := store.User{
		ID:           id,
		Email:        strings.TrimSpace(email),
		EmailNorm:    norm,
		PasswordHash: passwordHash,
		IsActive:     true,
	}
	u.Stamp(now)

	if err := tx.CreateUser(ctx, &u); err != nil {
		return store.User{}, autherr.FromStore(op, err, autherr.ErrNotFound)
	}
	return u, nil
}

// LinkOAuthAccount links a provider identity to userID.
//
// A link owned by another user yields Conflict. Re-linking to the same user
// refreshes the cached provider email and tokens.
func (s *Service) LinkOAuthAccount(ctx context.Context, now time.Time, userID string, in OAuthIdentity) (a store.OAuthAccount, err error) {
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		a, err = s.LinkOAuthAccountTx(ctx, tx, now, userID, in)
		return err
	})
	return a, autherr.Passthrough("identity.LinkOAuthAccount", err, autherr.ErrNotFound)
}

// LinkOAuthAccountTx is LinkOAuthAccount inside tx.
func (s *Service) LinkOAuthAccountTx(ctx context.Context, tx store.Tx, now time.Time, userID string, in OAuthIdentity) (store.OAuthAccount, error) {
	const op = "identity.LinkOAuthAccount"

	provider := NormalizeProvider(in.Provider)
	if !validProvider(provider, in.ProviderAccountID) {
		return store.OAuthAccount{}, autherr.New(op, autherr.ErrInvalidInput, "malformed provider identity")
	}

	cur, err := tx.OAuthAccountByProvider(ctx, provider, in.ProviderAccountID)
	switch {
	case err == nil:
		if cur.UserID != userID {
			return store.OAuthAccount{}, autherr.New(op, autherr.ErrConflict, "oauth_account")
		}
		cur.Email = NormalizeEmail(in.Email)
		cur.AccessToken = in.AccessToken
		cur.RefreshToken = in.RefreshToken
		cur.TokenExpiresAt = in.TokenExpiresAt
		cur.Touch(now)
		if err := tx.UpdateOAuthAccount(ctx, &cur); err != nil {
			return store.OAuthAccount{}, autherr.FromStore(op, err, autherr.ErrNotFound)
		}
		return cur, nil
	case !errors.Is(err, store.ErrNotFound):
		return store.OAuthAccount{}, autherr.FromStore(op, err, autherr.ErrNotFound)
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return store.OAuthAccount{}, autherr.Unavailable(op, err)
	}
	a := store.OAuthAccount{
		ID:                id,
		UserID:            userID,
		Provider:          provider,
		ProviderAccountID: in.ProviderAccountID,
		Email:             NormalizeEmail(in.Email),
		AccessToken:       in.AccessToken,
		RefreshToken:      in.RefreshToken,
		TokenExpiresAt:    in.TokenExpiresAt,
	}
	a.Stamp(now)
	if err := tx.CreateOAuthAccount(ctx, &a); err != nil {
		return store.OAuthAccount{}, autherr.FromStore(op, err, autherr.ErrNotFound)
	}
	return a, nil
}

// MarkEmailVerified sets is_email_verified. Idempotent.
func (s *Service) MarkEmailVerified(ctx context.Context, now time.Time, userID string) error {
	return s.inTx(ctx, "identity.MarkEmailVerified", func(tx store.Tx) error {
		return s.MarkEmailVerifiedTx(ctx, tx, now, userID)
	})
}

// MarkEmailVerifiedTx is MarkEmailVerified inside tx.
func (s *Service) MarkEmailVerifiedTx(ctx context.Context, tx store.Tx, now time.Time, userID string) error {
	return s.mutateTx(ctx, tx, "identity.MarkEmailVerified", now, userID, func(u *store.User) bool {
		if u.IsEmailVerified {
			return false
		}
		u.IsEmailVerified = true
		return true
	})
}

// SetPasswordHash replaces the stored password hash.
func (s *Service) SetPasswordHash(ctx context.Context, now time.Time, userID, hash string) error {
	return s.inTx(ctx, "identity.SetPasswordHash", func(tx store.Tx) error {
		return s.SetPasswordHashTx(ctx, tx, now, userID, hash)
	})
}

// SetPasswordHashTx is SetPasswordHash inside tx.
func (s *Service) SetPasswordHashTx(ctx context.Context, tx store.Tx, now time.Time, userID, hash string) error {
	if hash == "" {
		return autherr.New("identity.SetPasswordHash", autherr.ErrInvalidInput, "empty hash")
	}
	return s.mutateTx(ctx, tx, "identity.SetPasswordHash", now, userID, func(u *store.User) bool {
		u.PasswordHash = &hash
		return true
	})
}

// Deactivate disables the account. Idempotent. Session revocation is the
// orchestrator's job.
func (s *Service) Deactivate(ctx context.Context, now time.Time, userID string) error {
	return s.inTx(ctx, "identity.Deactivate", func(tx store.Tx) error {
		return s.DeactivateTx(ctx, tx, now, userID)
	})
}

// DeactivateTx is Deactivate inside tx.
func (s *Service) DeactivateTx(ctx context.Context, tx store.Tx, now time.Time, userID string) error {
	return s.mutateTx(ctx, tx, "identity.Deactivate", now, userID, func(u *store.User) bool {
		if !u.IsActive {
			return false
		}
		u.IsActive = false
		return true
	})
}

// Reactivate re-enables a deactivated account. Idempotent.
func (s *Service) Reactivate(ctx context.Context, now time.Time, userID string) error {
	return s.inTx(ctx, "identity.Reactivate", func(tx store.Tx) error {
		return s.mutateTx(ctx, tx, "identity.Reactivate", now, userID, func(u *store.User) bool {
			if u.IsActive {
				return false
			}
			u.IsActive = true
			return true
		})
	})
}

// DeleteTx soft-deletes the user and its OAuth accounts. Sessions, refresh
// tokens and one-time tokens are purged by their owners in the same tx.
func (s *Service) DeleteTx(ctx context.Context, tx store.Tx, now time.Time, userID string) error {
	const op = "identity.Delete"

	if err := s.mutateTx(ctx, tx, op, now, userID, func(u *store.User) bool {
		u.IsActive = false
		u.MarkDeleted(now)
		return true
	}); err != nil {
		return err
	}
	if _, err := tx.DeleteOAuthAccountsByUser(ctx, now, userID); err != nil {
		return autherr.FromStore(op, err, autherr.ErrNotFound)
	}
	return nil
}

// mutateTx loads the user, applies fn and writes back when fn reports a change.
func (s *Service) mutateTx(ctx context.Context, tx store.Tx, op string, now time.Time, userID string, fn func(*store.User) bool) error {
	u, err := tx.UserByID(ctx, userID)
	if err != nil {
		return autherr.FromStore(op, err, autherr.ErrNotFound)
	}
	if !fn(&u) {
		return nil
	}
	u.Touch(now)
	if err := tx.UpdateUser(ctx, &u); err != nil {
		return autherr.FromStore(op, err, autherr.ErrNotFound)
	}
	return nil
}

func (s *Service) inTx(ctx context.Context, op string, fn func(store.Tx) error) error {
	return autherr.Passthrough(op, s.store.InTx(ctx, fn), autherr.ErrNotFound)
}
