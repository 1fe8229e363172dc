package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"warden/cmd/internal/auth/autherr"
	"warden/cmd/internal/auth/refresh"
	"warden/cmd/internal/store"
	"warden/cmd/security/token"
)

var t0 = time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)

type env struct {
	st     *store.MemoryStore
	m      *Manager
	issuer *refresh.Issuer
	userID string
}

func newEnv(t *testing.T) *env {
	t.Helper()

	st := store.NewMemoryStore()
	t.Cleanup(st.Close)

	m, err := NewManager(st)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	h, err := token.NewHasher([]byte(strings.Repeat("s", token.MinKeyBytes)))
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	is, err := refresh.NewIssuer(refresh.DefaultConfig(), st, h)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	u := store.User{ID: "01JAAAAAAAAAAAAAAAAAAAAAAA", Email: "erin@example.com", EmailNorm: "erin@example.com", IsActive: true}
	u.Stamp(t0)
	ctx := context.Background()
	if err := st.InTx(ctx, func(tx store.Tx) error { return tx.CreateUser(ctx, &u) }); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return &env{st: st, m: m, issuer: is, userID: u.ID}
}

func (e *env) open(t *testing.T, at time.Time) store.Session {
	t.Helper()
	s, err := e.m.Open(context.Background(), at, e.userID, Device{IP: "198.51.100.4", UserAgent: "ua", Name: "laptop"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestOpen(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	s, err := e.m.Open(ctx, t0, e.userID, Device{
		IP:        " ::ffff:192.0.2.1 ",
		UserAgent: "  Mozilla/5.0  ",
		Name:      strings.Repeat("n", 150),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !s.IsActive || !s.LastActivityAt.Equal(t0) {
		t.Fatalf("unexpected session: %+v", s)
	}
	if s.IP != "192.0.2.1" || s.UserAgent != "Mozilla/5.0" || len(s.DeviceName) != maxDeviceNameLen {
		t.Fatalf("device not normalized: ip=%q ua=%q name=%d", s.IP, s.UserAgent, len(s.DeviceName))
	}

	got, err := e.m.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != s.ID {
		t.Fatalf("Get returned %s", got.ID)
	}

	bad, err := e.m.Open(ctx, t0, e.userID, Device{IP: "not-an-ip"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if bad.IP != "" {
		t.Fatalf("expected unparsable IP dropped, got %q", bad.IP)
	}

	if _, err := e.m.Open(ctx, t0, "01JZZZZZZZZZZZZZZZZZZZZZZZ", Device{}); !errors.Is(err, autherr.ErrNotFound) {
		t.Fatalf("expected not found for unknown user, got %v", err)
	}
}

func TestTouch(t *testing.T) {
	e := newEnv(t)
	s := e.open(t, t0)

	if err := e.m.Touch(context.Background(), t0.Add(time.Hour), s.ID); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	got, _ := e.m.Get(context.Background(), s.ID)
	if !got.LastActivityAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("last activity not updated: %v", got.LastActivityAt)
	}
	if err := e.m.Touch(context.Background(), t0, "01JZZZZZZZZZZZZZZZZZZZZZZZ"); !errors.Is(err, autherr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRevoke_CascadesToTokens(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.open(t, t0)

	p1, err := e.issuer.Issue(ctx, t0, s.ID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	p2, err := e.issuer.Rotate(ctx, t0.Add(time.Minute), p1.TokenID, p1.Secret)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	changed, err := e.m.Revoke(ctx, t0.Add(2*time.Minute), s.ID, ReasonLogout)
	if err != nil || !changed {
		t.Fatalf("Revoke: changed=%v err=%v", changed, err)
	}
	changed, err = e.m.Revoke(ctx, t0.Add(3*time.Minute), s.ID, ReasonLogout)
	if err != nil || changed {
		t.Fatalf("second Revoke: changed=%v err=%v", changed, err)
	}

	if _, err := e.issuer.Rotate(ctx, t0.Add(4*time.Minute), p2.TokenID, p2.Secret); !errors.Is(err, autherr.ErrInvalid) {
		t.Fatalf("expected revoked token invalid, got %v", err)
	}

	err = e.st.View(ctx, func(tx store.Tx) error {
		rows, err := tx.RefreshTokensBySession(ctx, s.ID)
		if err != nil {
			return err
		}
		for _, rt := range rows {
			if !rt.IsRevoked {
				t.Errorf("token %s still live after session revoke", rt.ID)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}

	got, _ := e.m.Get(ctx, s.ID)
	if got.IsActive || got.RevokedReason != ReasonLogout || got.RevokedAt == nil {
		t.Fatalf("session not revoked: %+v", got)
	}

	if _, err := e.m.Revoke(ctx, t0, "01JZZZZZZZZZZZZZZZZZZZZZZZ", ReasonLogout); !errors.Is(err, autherr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListActiveAndRevokeAllExcept(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a := e.open(t, t0)
	b := e.open(t, t0.Add(time.Minute))
	c := e.open(t, t0.Add(2*time.Minute))

	list, err := e.m.ListActive(ctx, e.userID)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(list) != 3 || list[0].ID != c.ID || list[2].ID != a.ID {
		t.Fatalf("unexpected order: %v", sessionIDs(list))
	}

	n, err := e.m.RevokeAllExcept(ctx, t0.Add(time.Hour), e.userID, b.ID, ReasonPasswordChanged)
	if err != nil {
		t.Fatalf("RevokeAllExcept: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revoked, got %d", n)
	}

	list, _ = e.m.ListActive(ctx, e.userID)
	if len(list) != 1 || list[0].ID != b.ID {
		t.Fatalf("expected only kept session, got %v", sessionIDs(list))
	}

	n, err = e.m.RevokeAllExcept(ctx, t0.Add(time.Hour), e.userID, "", ReasonLogoutAll)
	if err != nil || n != 1 {
		t.Fatalf("revoke all: n=%d err=%v", n, err)
	}
	list, _ = e.m.ListActive(ctx, e.userID)
	if len(list) != 0 {
		t.Fatalf("expected none, got %v", sessionIDs(list))
	}
}

func TestPurgeUserTx(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.open(t, t0)
	if _, err := e.issuer.Issue(ctx, t0, s.ID); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := e.st.InTx(ctx, func(tx store.Tx) error { return e.m.PurgeUserTx(ctx, tx, t0, e.userID) }); err != nil {
		t.Fatalf("PurgeUserTx: %v", err)
	}

	if _, err := e.m.Get(ctx, s.ID); !errors.Is(err, autherr.ErrNotFound) {
		t.Fatalf("expected purged session gone, got %v", err)
	}
	err := e.st.View(ctx, func(tx store.Tx) error {
		rows, err := tx.RefreshTokensBySession(ctx, s.ID)
		if len(rows) != 0 {
			t.Errorf("expected no live token rows, got %d", len(rows))
		}
		return err
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func sessionIDs(list []store.Session) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, s.ID)
	}
	return out
}
