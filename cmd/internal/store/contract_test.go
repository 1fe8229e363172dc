package store

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
)

// runContract exercises behaviour every backend must share.
func runContract(t *testing.T, open func(t *testing.T) Store) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s Store)
	}{
		{"UserEmailUniqueAmongLiveRows", testUserEmailUnique},
		{"ReadsExcludeSoftDeleted", testReadsExcludeSoftDeleted},
		{"OAuthAccountUnique", testOAuthAccountUnique},
		{"InsertWithMissingParent", testInsertMissingParent},
		{"RetireRefreshTokenIsCAS", testRetireRefreshCAS},
		{"RevokeBySessionIsIdempotent", testRevokeBySession},
		{"ConsumeOneTimeTokenIsCAS", testConsumeOneTimeCAS},
		{"SupersedeOneTimeTokens", testSupersedeOneTime},
		{"SessionsByUserOrdering", testSessionsByUser},
		{"RollbackOnError", testRollbackOnError},
		{"ViewIsReadOnly", testViewReadOnly},
		{"LockSessionHoldsRow", testLockSession},
		{"CancelledContext", testCancelledContext},
		{"SweepExpired", testSweepExpired},
		{"DeleteByUserCascade", testDeleteByUser},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, open(t))
		})
	}
}

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

var seq atomic.Int64

func newID() string { return ulid.Make().String() }

func uniqueEmail() string {
	return "user" + strings.ToLower(newID()) + "@example.com"
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func seedUser(t *testing.T, s Store) User {
	t.Helper()
	email := uniqueEmail()
	u := User{ID: newID(), Email: email, EmailNorm: email, IsActive: true}
	u.Stamp(t0)
	require.NoError(t, s.InTx(testCtx(t), func(tx Tx) error {
		return tx.CreateUser(testCtx(t), &u)
	}))
	return u
}

func seedSession(t *testing.T, s Store, userID string, at time.Time) Session {
	t.Helper()
	sess := Session{ID: newID(), UserID: userID, IP: "203.0.113.7", UserAgent: "test-agent", IsActive: true, LastActivityAt: at}
	sess.Stamp(at)
	require.NoError(t, s.InTx(testCtx(t), func(tx Tx) error {
		return tx.CreateSession(testCtx(t), &sess)
	}))
	return sess
}

func seedRefresh(t *testing.T, s Store, sess Session, expires time.Time) RefreshToken {
	t.Helper()
	seq.Add(1)
	rt := RefreshToken{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		UserID:    sess.UserID,
		TokenHash: strings.Repeat("a", 64),
		ExpiresAt: expires,
	}
	rt.Stamp(t0.Add(time.Duration(seq.Load()) * time.Millisecond))
	require.NoError(t, s.InTx(testCtx(t), func(tx Tx) error {
		return tx.CreateRefreshToken(testCtx(t), &rt)
	}))
	return rt
}

func seedOneTime(t *testing.T, s Store, kind OneTimeKind, userID string, expires time.Time) OneTimeToken {
	t.Helper()
	ot := OneTimeToken{ID: uuid.NewString(), UserID: userID, Kind: kind, TokenHash: strings.Repeat("b", 64), ExpiresAt: expires}
	ot.Stamp(t0)
	require.NoError(t, s.InTx(testCtx(t), func(tx Tx) error {
		return tx.CreateOneTimeToken(testCtx(t), &ot)
	}))
	return ot
}

func testUserEmailUnique(t *testing.T, s Store) {
	ctx := testCtx(t)
	u := seedUser(t, s)

	dup := User{ID: newID(), Email: strings.ToUpper(u.Email), EmailNorm: u.EmailNorm, IsActive: true}
	dup.Stamp(t0)
	err := s.InTx(ctx, func(tx Tx) error { return tx.CreateUser(ctx, &dup) })
	field, ok := ConflictField(err)
	require.True(t, ok, "expected conflict, got %v", err)
	require.Equal(t, "email", field)
	require.ErrorIs(t, err, ErrConflict)

	// Once the first account is soft-deleted the address is free again.
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		cur, err := tx.UserByID(ctx, u.ID)
		if err != nil {
			return err
		}
		cur.MarkDeleted(t0.Add(time.Minute))
		return tx.UpdateUser(ctx, &cur)
	}))
	require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.CreateUser(ctx, &dup) }))
}

func testReadsExcludeSoftDeleted(t *testing.T, s Store) {
	ctx := testCtx(t)
	u := seedUser(t, s)

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		cur, err := tx.UserByEmail(ctx, u.EmailNorm)
		if err != nil {
			return err
		}
		cur.MarkDeleted(t0)
		return tx.UpdateUser(ctx, &cur)
	}))

	err := s.View(ctx, func(tx Tx) error {
		_, err := tx.UserByID(ctx, u.ID)
		return err
	})
	require.ErrorIs(t, err, ErrNotFound)

	err = s.View(ctx, func(tx Tx) error {
		_, err := tx.UserByEmail(ctx, u.EmailNorm)
		return err
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func testOAuthAccountUnique(t *testing.T, s Store) {
	ctx := testCtx(t)
	a := seedUser(t, s)
	b := seedUser(t, s)
	pid := newID()

	acc := OAuthAccount{ID: newID(), UserID: a.ID, Provider: "github", ProviderAccountID: pid, Email: a.Email}
	acc.Stamp(t0)
	require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.CreateOAuthAccount(ctx, &acc) }))

	other := OAuthAccount{ID: newID(), UserID: b.ID, Provider: "github", ProviderAccountID: pid, Email: b.Email}
	other.Stamp(t0)
	err := s.InTx(ctx, func(tx Tx) error { return tx.CreateOAuthAccount(ctx, &other) })
	field, ok := ConflictField(err)
	require.True(t, ok, "expected conflict, got %v", err)
	require.Equal(t, "oauth_account", field)

	tok := "provider-access"
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		got, err := tx.OAuthAccountByProvider(ctx, "github", pid)
		if err != nil {
			return err
		}
		got.AccessToken = &tok
		got.Touch(t0.Add(time.Minute))
		return tx.UpdateOAuthAccount(ctx, &got)
	}))

	require.NoError(t, s.View(ctx, func(tx Tx) error {
		got, err := tx.OAuthAccountByProvider(ctx, "github", pid)
		require.NoError(t, err)
		require.Equal(t, a.ID, got.UserID)
		require.NotNil(t, got.AccessToken)
		require.Equal(t, tok, *got.AccessToken)
		return nil
	}))
}

func testInsertMissingParent(t *testing.T, s Store) {
	ctx := testCtx(t)

	sess := Session{ID: newID(), UserID: newID(), IsActive: true, LastActivityAt: t0}
	sess.Stamp(t0)
	err := s.InTx(ctx, func(tx Tx) error { return tx.CreateSession(ctx, &sess) })
	require.ErrorIs(t, err, ErrNotFound)

	rt := RefreshToken{ID: uuid.NewString(), SessionID: newID(), TokenHash: strings.Repeat("c", 64), ExpiresAt: t0.Add(time.Hour)}
	rt.Stamp(t0)
	err = s.InTx(ctx, func(tx Tx) error { return tx.CreateRefreshToken(ctx, &rt) })
	require.ErrorIs(t, err, ErrNotFound)
}

func testRetireRefreshCAS(t *testing.T, s Store) {
	ctx := testCtx(t)
	u := seedUser(t, s)
	sess := seedSession(t, s, u.ID, t0)
	rt := seedRefresh(t, s, sess, t0.Add(time.Hour))
	next := uuid.NewString()

	var first, second bool
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		locked, err := tx.LockRefreshToken(ctx, rt.ID)
		if err != nil {
			return err
		}
		require.False(t, locked.IsRevoked)
		require.Equal(t, u.ID, locked.UserID)

		first, err = tx.RetireRefreshToken(ctx, t0, rt.ID, "rotation", &next)
		if err != nil {
			return err
		}
		second, err = tx.RetireRefreshToken(ctx, t0, rt.ID, "logout", nil)
		return err
	}))
	require.True(t, first)
	require.False(t, second)

	require.NoError(t, s.View(ctx, func(tx Tx) error {
		got, err := tx.RefreshTokenByID(ctx, rt.ID)
		require.NoError(t, err)
		require.True(t, got.Rotated())
		require.Equal(t, "rotation", got.RevokedReason)
		require.Equal(t, next, *got.ReplacedByID)
		return nil
	}))

	err := s.InTx(ctx, func(tx Tx) error {
		_, err := tx.RetireRefreshToken(ctx, t0, uuid.NewString(), "logout", nil)
		return err
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func testRevokeBySession(t *testing.T, s Store) {
	ctx := testCtx(t)
	u := seedUser(t, s)
	sess := seedSession(t, s, u.ID, t0)
	seedRefresh(t, s, sess, t0.Add(time.Hour))
	seedRefresh(t, s, sess, t0.Add(time.Hour))

	var n1, n2 int64
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		var err error
		if n1, err = tx.RevokeRefreshTokensBySession(ctx, t0, sess.ID, "logout"); err != nil {
			return err
		}
		n2, err = tx.RevokeRefreshTokensBySession(ctx, t0, sess.ID, "logout")
		return err
	}))
	require.EqualValues(t, 2, n1)
	require.EqualValues(t, 0, n2)

	require.NoError(t, s.View(ctx, func(tx Tx) error {
		list, err := tx.RefreshTokensBySession(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		for _, rt := range list {
			require.True(t, rt.IsRevoked)
			require.False(t, rt.Rotated())
		}
		return nil
	}))

	var changed, again bool
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		var err error
		if changed, err = tx.DeactivateSession(ctx, t0, sess.ID, "logout"); err != nil {
			return err
		}
		again, err = tx.DeactivateSession(ctx, t0, sess.ID, "logout")
		return err
	}))
	require.True(t, changed)
	require.False(t, again)
}

func testConsumeOneTimeCAS(t *testing.T, s Store) {
	ctx := testCtx(t)
	u := seedUser(t, s)
	ot := seedOneTime(t, s, KindPasswordReset, u.ID, t0.Add(time.Hour))

	// Kinds live in distinct tables.
	err := s.View(ctx, func(tx Tx) error {
		_, err := tx.OneTimeTokenByID(ctx, KindEmailVerification, ot.ID)
		return err
	})
	require.ErrorIs(t, err, ErrNotFound)

	var first, second bool
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		got, err := tx.LockOneTimeToken(ctx, KindPasswordReset, ot.ID)
		if err != nil {
			return err
		}
		require.Equal(t, KindPasswordReset, got.Kind)
		if first, err = tx.ConsumeOneTimeToken(ctx, t0, KindPasswordReset, ot.ID); err != nil {
			return err
		}
		second, err = tx.ConsumeOneTimeToken(ctx, t0, KindPasswordReset, ot.ID)
		return err
	}))
	require.True(t, first)
	require.False(t, second)
}

func testSupersedeOneTime(t *testing.T, s Store) {
	ctx := testCtx(t)
	u := seedUser(t, s)
	old := seedOneTime(t, s, KindEmailVerification, u.ID, t0.Add(time.Hour))
	reset := seedOneTime(t, s, KindPasswordReset, u.ID, t0.Add(time.Hour))

	var n int64
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		var err error
		n, err = tx.SupersedeOneTimeTokens(ctx, t0, KindEmailVerification, u.ID)
		return err
	}))
	require.EqualValues(t, 1, n)

	require.NoError(t, s.View(ctx, func(tx Tx) error {
		_, err := tx.OneTimeTokenByID(ctx, KindEmailVerification, old.ID)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = tx.OneTimeTokenByID(ctx, KindPasswordReset, reset.ID)
		require.NoError(t, err)
		return nil
	}))
}

func testSessionsByUser(t *testing.T, s Store) {
	ctx := testCtx(t)
	u := seedUser(t, s)
	older := seedSession(t, s, u.ID, t0)
	newer := seedSession(t, s, u.ID, t0.Add(time.Minute))
	gone := seedSession(t, s, u.ID, t0.Add(2*time.Minute))

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		if err := tx.TouchSession(ctx, t0.Add(5*time.Minute), older.ID); err != nil {
			return err
		}
		_, err := tx.DeactivateSession(ctx, t0.Add(5*time.Minute), gone.ID, "logout")
		return err
	}))

	require.NoError(t, s.View(ctx, func(tx Tx) error {
		active, err := tx.SessionsByUser(ctx, u.ID, true)
		require.NoError(t, err)
		require.Len(t, active, 2)
		require.Equal(t, older.ID, active[0].ID)
		require.Equal(t, newer.ID, active[1].ID)
		require.Equal(t, "203.0.113.7", active[0].IP)

		all, err := tx.SessionsByUser(ctx, u.ID, false)
		require.NoError(t, err)
		require.Len(t, all, 3)
		return nil
	}))
}

func testRollbackOnError(t *testing.T, s Store) {
	ctx := testCtx(t)
	boom := errors.New("boom")
	email := uniqueEmail()
	u := User{ID: newID(), Email: email, EmailNorm: email, IsActive: true}
	u.Stamp(t0)

	err := s.InTx(ctx, func(tx Tx) error {
		if err := tx.CreateUser(ctx, &u); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.View(ctx, func(tx Tx) error {
		_, err := tx.UserByID(ctx, u.ID)
		return err
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func testViewReadOnly(t *testing.T, s Store) {
	ctx := testCtx(t)
	email := uniqueEmail()
	u := User{ID: newID(), Email: email, EmailNorm: email, IsActive: true}
	u.Stamp(t0)

	err := s.View(ctx, func(tx Tx) error { return tx.CreateUser(ctx, &u) })
	require.ErrorIs(t, err, ErrReadOnly)
}

func testLockSession(t *testing.T, s Store) {
	ctx := testCtx(t)
	u := seedUser(t, s)
	sess := seedSession(t, s, u.ID, t0)

	err := s.InTx(ctx, func(tx Tx) error {
		_, err := tx.LockSession(ctx, newID())
		return err
	})
	require.ErrorIs(t, err, ErrNotFound)

	err = s.View(ctx, func(tx Tx) error {
		_, err := tx.LockSession(ctx, sess.ID)
		return err
	})
	require.ErrorIs(t, err, ErrReadOnly)

	// A deactivation started while the lock is held waits for it.
	locked := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		<-locked
		done <- s.InTx(ctx, func(tx Tx) error {
			_, err := tx.DeactivateSession(ctx, t0.Add(time.Minute), sess.ID, "logout")
			return err
		})
	}()

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		got, err := tx.LockSession(ctx, sess.ID)
		if err != nil {
			return err
		}
		if !got.IsActive {
			return errors.New("session inactive under lock")
		}
		close(locked)
		time.Sleep(100 * time.Millisecond)
		again, err := tx.SessionByID(ctx, sess.ID)
		if err != nil {
			return err
		}
		if !again.IsActive {
			return errors.New("session changed under lock")
		}
		return nil
	}))
	require.NoError(t, <-done)

	require.NoError(t, s.View(ctx, func(tx Tx) error {
		got, err := tx.SessionByID(ctx, sess.ID)
		if err != nil {
			return err
		}
		require.False(t, got.IsActive)
		return nil
	}))
}

func testCancelledContext(t *testing.T, s Store) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.InTx(ctx, func(tx Tx) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, IsDomain(err))
}

func testSweepExpired(t *testing.T, s Store) {
	ctx := testCtx(t)
	u := seedUser(t, s)
	live := seedSession(t, s, u.ID, t0)
	dead := seedSession(t, s, u.ID, t0.Add(-48*time.Hour))

	expired := seedRefresh(t, s, live, t0.Add(-48*time.Hour))
	valid := seedRefresh(t, s, live, t0.Add(time.Hour))
	orphan := seedRefresh(t, s, dead, t0.Add(time.Hour))
	otOld := seedOneTime(t, s, KindPasswordReset, u.ID, t0.Add(-48*time.Hour))

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		_, err := tx.DeactivateSession(ctx, t0, dead.ID, "logout")
		return err
	}))

	var st SweepStats
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		var err error
		st, err = tx.SweepExpired(ctx, t0, t0.Add(-24*time.Hour))
		return err
	}))
	require.GreaterOrEqual(t, st.Sessions, int64(1))
	require.GreaterOrEqual(t, st.RefreshTokens, int64(2))
	require.GreaterOrEqual(t, st.OneTimeTokens, int64(1))

	require.NoError(t, s.View(ctx, func(tx Tx) error {
		_, err := tx.RefreshTokenByID(ctx, expired.ID)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = tx.RefreshTokenByID(ctx, orphan.ID)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = tx.RefreshTokenByID(ctx, valid.ID)
		require.NoError(t, err)
		_, err = tx.SessionByID(ctx, dead.ID)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = tx.SessionByID(ctx, live.ID)
		require.NoError(t, err)
		_, err = tx.OneTimeTokenByID(ctx, KindPasswordReset, otOld.ID)
		require.ErrorIs(t, err, ErrNotFound)
		return nil
	}))
}

func testDeleteByUser(t *testing.T, s Store) {
	ctx := testCtx(t)
	u := seedUser(t, s)
	sess := seedSession(t, s, u.ID, t0)
	rt := seedRefresh(t, s, sess, t0.Add(time.Hour))
	seedOneTime(t, s, KindPasswordReset, u.ID, t0.Add(time.Hour))
	seedOneTime(t, s, KindEmailVerification, u.ID, t0.Add(time.Hour))

	acc := OAuthAccount{ID: newID(), UserID: u.ID, Provider: "google", ProviderAccountID: newID(), Email: u.Email}
	acc.Stamp(t0)
	require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.CreateOAuthAccount(ctx, &acc) }))

	var nOAuth, nSess, nRT, nOT int64
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		var err error
		if nOAuth, err = tx.DeleteOAuthAccountsByUser(ctx, t0, u.ID); err != nil {
			return err
		}
		if nRT, err = tx.DeleteRefreshTokensByUser(ctx, t0, u.ID); err != nil {
			return err
		}
		if nSess, err = tx.DeleteSessionsByUser(ctx, t0, u.ID); err != nil {
			return err
		}
		nOT, err = tx.DeleteOneTimeTokensByUser(ctx, t0, u.ID)
		return err
	}))
	require.EqualValues(t, 1, nOAuth)
	require.EqualValues(t, 1, nSess)
	require.EqualValues(t, 1, nRT)
	require.EqualValues(t, 2, nOT)

	require.NoError(t, s.View(ctx, func(tx Tx) error {
		list, err := tx.SessionsByUser(ctx, u.ID, false)
		require.NoError(t, err)
		require.Empty(t, list)
		_, err = tx.RefreshTokenByID(ctx, rt.ID)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = tx.OAuthAccountByProvider(ctx, acc.Provider, acc.ProviderAccountID)
		require.ErrorIs(t, err, ErrNotFound)
		return nil
	}))
}
