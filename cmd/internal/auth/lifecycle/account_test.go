package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"warden/cmd/identity"
	"warden/cmd/internal/auth/autherr"
	"warden/cmd/internal/store"
)

func TestEmailVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "ada@example.com")

	first, err := f.svc.RequestEmailVerification(ctx, u.ID)
	require.NoError(t, err)
	tok, err := f.svc.RequestEmailVerification(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, f.outbox.verify, 2)
	require.Equal(t, t0.Add(48*time.Hour), tok.ExpiresAt)

	_, err = f.svc.ConfirmEmailVerification(ctx, first.ID, first.Secret)
	require.ErrorIs(t, err, autherr.ErrInvalid, "a newer request supersedes older tokens")

	got, err := f.svc.ConfirmEmailVerification(ctx, tok.ID, tok.Secret)
	require.NoError(t, err)
	require.Equal(t, u.ID, got)
	require.True(t, f.user(t, u.ID).IsEmailVerified)

	_, err = f.svc.ConfirmEmailVerification(ctx, tok.ID, tok.Secret)
	require.ErrorIs(t, err, autherr.ErrAlreadyUsed)

	_, err = f.svc.RequestEmailVerification(ctx, u.ID)
	require.ErrorIs(t, err, autherr.ErrConflict)
}

func TestEmailVerification_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "ada@example.com")

	tok, err := f.svc.RequestEmailVerification(ctx, u.ID)
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)
	_, err = f.svc.ConfirmEmailVerification(ctx, tok.ID, tok.Secret)
	require.ErrorIs(t, err, autherr.ErrExpired)
	require.False(t, f.user(t, u.ID).IsEmailVerified)
}

func TestPasswordReset_Failures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "ada@example.com")

	_, err := f.svc.RequestPasswordReset(ctx, "nobody@example.com")
	require.ErrorIs(t, err, autherr.ErrNotFound)

	tok, err := f.svc.RequestPasswordReset(ctx, "ada@example.com")
	require.NoError(t, err)

	err = f.svc.ConfirmPasswordReset(ctx, tok.ID, tok.Secret, "short")
	require.ErrorIs(t, err, autherr.ErrInvalidInput)

	err = f.svc.ConfirmPasswordReset(ctx, tok.ID, "wrong-secret", "a completely new passphrase")
	require.ErrorIs(t, err, autherr.ErrInvalid)

	// Neither failure consumed the token.
	f.clock.Advance(time.Hour - time.Second)
	require.NoError(t, f.svc.ConfirmPasswordReset(ctx, tok.ID, tok.Secret, "a completely new passphrase"))

	require.NoError(t, f.svc.Deactivate(ctx, u.ID))
	_, err = f.svc.RequestPasswordReset(ctx, "ada@example.com")
	require.ErrorIs(t, err, autherr.ErrInactive)
}

func TestPasswordReset_ExpiryBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "ada@example.com")

	tok, err := f.svc.RequestPasswordReset(ctx, "ada@example.com")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	err = f.svc.ConfirmPasswordReset(ctx, tok.ID, tok.Secret, "a completely new passphrase")
	require.ErrorIs(t, err, autherr.ErrExpired)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "ada@example.com")
	current := f.login(t, "ada@example.com")
	other := f.login(t, "ada@example.com")

	const next = "another long passphrase"
	err := f.svc.ChangePassword(ctx, u.ID, current.SessionID, "wrong password!!", next)
	require.ErrorIs(t, err, autherr.ErrInvalidCredentials)

	err = f.svc.ChangePassword(ctx, u.ID, current.SessionID, goodPassword, "short")
	require.ErrorIs(t, err, autherr.ErrInvalidInput)

	require.NoError(t, f.svc.ChangePassword(ctx, u.ID, current.SessionID, goodPassword, next))

	_, err = f.svc.Refresh(ctx, current.RefreshToken)
	require.NoError(t, err, "the caller's session survives")
	_, err = f.svc.Refresh(ctx, other.RefreshToken)
	require.ErrorIs(t, err, autherr.ErrInvalid)

	_, err = f.svc.Login(ctx, "ada@example.com", next, laptop)
	require.NoError(t, err)
}

func TestSessionsManagement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.register(t, "ada@example.com")
	f.register(t, "bob@example.com")

	a1 := f.login(t, "ada@example.com")
	f.clock.Advance(time.Minute)
	a2 := f.login(t, "ada@example.com")
	b1 := f.login(t, "bob@example.com")

	list, err := f.svc.ListSessions(ctx, ada.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, a2.SessionID, list[0].ID)

	err = f.svc.RevokeSession(ctx, ada.ID, b1.SessionID)
	require.ErrorIs(t, err, autherr.ErrNotFound, "cannot revoke someone else's session")
	_, err = f.svc.Refresh(ctx, b1.RefreshToken)
	require.NoError(t, err)

	err = f.svc.RevokeSession(ctx, ada.ID, "not-a-session")
	require.ErrorIs(t, err, autherr.ErrNotFound)

	require.NoError(t, f.svc.RevokeSession(ctx, ada.ID, a1.SessionID))
	list, err = f.svc.ListSessions(ctx, ada.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, a2.SessionID, list[0].ID)
}

func TestDeactivateAndReactivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "ada@example.com")
	r := f.login(t, "ada@example.com")

	require.NoError(t, f.svc.Deactivate(ctx, u.ID))
	_, err := f.svc.Refresh(ctx, r.RefreshToken)
	require.ErrorIs(t, err, autherr.ErrInvalid)

	require.NoError(t, f.svc.Reactivate(ctx, u.ID))
	_, err = f.svc.Refresh(ctx, r.RefreshToken)
	require.ErrorIs(t, err, autherr.ErrInvalid, "old sessions stay revoked")
	f.login(t, "ada@example.com")
}

func TestCloseAccount_Cascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "ada@example.com")
	r := f.login(t, "ada@example.com")
	_, err := f.svc.LoginWithOAuth(ctx, identity.OAuthIdentity{Provider: "github", ProviderAccountID: "9", Email: "ada@example.com"}, laptop)
	require.NoError(t, err)
	reset, err := f.svc.RequestPasswordReset(ctx, "ada@example.com")
	require.NoError(t, err)

	require.NoError(t, f.svc.CloseAccount(ctx, u.ID))

	sessions, tokens := f.rows(t, u.ID)
	require.Empty(t, sessions)
	require.Empty(t, tokens)
	require.NoError(t, f.st.View(ctx, func(tx store.Tx) error {
		_, err := tx.UserByID(ctx, u.ID)
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = tx.OAuthAccountByProvider(ctx, "github", "9")
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = tx.OneTimeTokenByID(ctx, store.KindPasswordReset, reset.ID)
		require.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))

	_, err = f.svc.Refresh(ctx, r.RefreshToken)
	require.ErrorIs(t, err, autherr.ErrInvalid)
	_, err = f.svc.Login(ctx, "ada@example.com", goodPassword, laptop)
	require.ErrorIs(t, err, autherr.ErrInvalidCredentials)

	// The email is free again.
	f.register(t, "ada@example.com")

	require.ErrorIs(t, f.svc.CloseAccount(ctx, u.ID), autherr.ErrNotFound)
}

func TestSweep(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Refresh.TTL = time.Hour
		d.Config.SweepRetention = 24 * time.Hour
	})
	ctx := context.Background()
	f.register(t, "ada@example.com")
	r := f.login(t, "ada@example.com")
	require.NoError(t, f.svc.Logout(ctx, r.RefreshTokenID))

	st, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, store.SweepStats{}, st, "nothing is old enough yet")

	f.clock.Advance(48 * time.Hour)
	st, err = f.svc.Sweep(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, st.Sessions)
	require.EqualValues(t, 1, st.RefreshTokens)

	st, err = f.svc.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, store.SweepStats{}, st, "sweeping is idempotent")
}
