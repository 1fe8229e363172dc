package session

import (
	"context"
	"fmt"
	"time"

	"warden/cmd/identity/ids"
	"warden/cmd/internal/auth/autherr"
	"warden/cmd/internal/auth/refresh"
	"warden/cmd/internal/store"
)

// Revocation reasons recorded on sessions and their tokens.
const (
	ReasonLogout          = "logout"
	ReasonLogoutAll       = "logout_all"
	ReasonRevoked         = "revoked"
	ReasonPasswordReset   = "password_reset"
	ReasonPasswordChanged = "password_changed"
	ReasonDeactivated     = "account_deactivated"
)

// Manager implements session lifecycle rules over a store.Store.
type Manager struct {
	store store.Store
}

// NewManager constructs a Manager.
func NewManager(st store.Store) (*Manager, error) {
	if st == nil {
		return nil, fmt.Errorf("session: nil store")
	}
	return &Manager{store: st}, nil
}

// Open creates an active session for userID with last_activity_at = now.
func (m *Manager) Open(ctx context.Context, now time.Time, userID string, dev Device) (s store.Session, err error) {
	err = m.store.InTx(ctx, func(tx store.Tx) error {
		s, err = m.OpenTx(ctx, tx, now, userID, dev)
		return err
	})
	return s, autherr.Passthrough("session.Open", err, autherr.ErrNotFound)
}

// OpenTx is Open inside tx.
func (m *Manager) OpenTx(ctx context.Context, tx store.Tx, now time.Time, userID string, dev Device) (store.Session, error) {
	const op = "session.Open"

	id, err := ids.NewULID(now)
	if err != nil {
		return store.Session{}, autherr.Unavailable(op, err)
	}
	dev = dev.normalized()

	s := store.Session{
		ID:             id,
		UserID:         userID,
		IP:             dev.IP,
		UserAgent:      dev.UserAgent,
		DeviceName:     dev.Name,
		IsActive:       true,
		LastActivityAt: now,
	}
	s.Stamp(now)

	if err := tx.CreateSession(ctx, &s); err != nil {
		return store.Session{}, autherr.FromStore(op, err, autherr.ErrNotFound)
	}
	return s, nil
}

// Get returns a live session, active or not.
func (m *Manager) Get(ctx context.Context, sessionID string) (s store.Session, err error) {
	err = m.store.View(ctx, func(tx store.Tx) error {
		s, err = tx.SessionByID(ctx, sessionID)
		return autherr.FromStore("session.Get", err, autherr.ErrNotFound)
	})
	return s, autherr.Passthrough("session.Get", err, autherr.ErrNotFound)
}

// Touch updates last_activity_at. Only token rotation calls it, which bounds write volume.
func (m *Manager) Touch(ctx context.Context, now time.Time, sessionID string) error {
	err := m.store.InTx(ctx, func(tx store.Tx) error {
		return autherr.FromStore("session.Touch", tx.TouchSession(ctx, now, sessionID), autherr.ErrNotFound)
	})
	return autherr.Passthrough("session.Touch", err, autherr.ErrNotFound)
}

// Revoke ends a session and revokes all of its refresh tokens atomically.
// It is idempotent and reports whether the session was still active.
func (m *Manager) Revoke(ctx context.Context, now time.Time, sessionID, reason string) (changed bool, err error) {
	err = m.store.InTx(ctx, func(tx store.Tx) error {
		changed, err = m.RevokeTx(ctx, tx, now, sessionID, reason)
		return err
	})
	return changed, autherr.Passthrough("session.Revoke", err, autherr.ErrNotFound)
}

// RevokeTx is Revoke inside tx. An unknown session is NotFound.
func (m *Manager) RevokeTx(ctx context.Context, tx store.Tx, now time.Time, sessionID, reason string) (bool, error) {
	if _, err := tx.SessionByID(ctx, sessionID); err != nil {
		return false, autherr.FromStore("session.Revoke", err, autherr.ErrNotFound)
	}
	return refresh.RevokeSessionTx(ctx, tx, now, sessionID, reason)
}

// ListActive returns the user's active sessions, most recently used first.
func (m *Manager) ListActive(ctx context.Context, userID string) (out []store.Session, err error) {
	err = m.store.View(ctx, func(tx store.Tx) error {
		out, err = tx.SessionsByUser(ctx, userID, true)
		return autherr.FromStore("session.ListActive", err, autherr.ErrNotFound)
	})
	return out, autherr.Passthrough("session.ListActive", err, autherr.ErrNotFound)
}

// RevokeAllExcept revokes every active session of userID except keepSessionID.
// An empty keepSessionID revokes all of them. It returns how many were revoked.
func (m *Manager) RevokeAllExcept(ctx context.Context, now time.Time, userID, keepSessionID, reason string) (n int, err error) {
	err = m.store.InTx(ctx, func(tx store.Tx) error {
		n, err = m.RevokeAllExceptTx(ctx, tx, now, userID, keepSessionID, reason)
		return err
	})
	return n, autherr.Passthrough("session.RevokeAllExcept", err, autherr.ErrNotFound)
}

// RevokeAllExceptTx is RevokeAllExcept inside tx.
func (m *Manager) RevokeAllExceptTx(ctx context.Context, tx store.Tx, now time.Time, userID, keepSessionID, reason string) (int, error) {
	const op = "session.RevokeAllExcept"

	active, err := tx.SessionsByUser(ctx, userID, true)
	if err != nil {
		return 0, autherr.FromStore(op, err, autherr.ErrNotFound)
	}

	n := 0
	for _, s := range active {
		if s.ID == keepSessionID {
			continue
		}
		changed, err := refresh.RevokeSessionTx(ctx, tx, now, s.ID, reason)
		if err != nil {
			return n, err
		}
		if changed {
			n++
		}
	}
	return n, nil
}

// PurgeUserTx soft-deletes every session and refresh token of userID.
// It is the session half of the account-deletion cascade.
func (m *Manager) PurgeUserTx(ctx context.Context, tx store.Tx, now time.Time, userID string) error {
	const op = "session.PurgeUser"

	if _, err := tx.DeleteSessionsByUser(ctx, now, userID); err != nil {
		return autherr.FromStore(op, err, autherr.ErrNotFound)
	}
	if _, err := tx.DeleteRefreshTokensByUser(ctx, now, userID); err != nil {
		return autherr.FromStore(op, err, autherr.ErrNotFound)
	}
	return nil
}
