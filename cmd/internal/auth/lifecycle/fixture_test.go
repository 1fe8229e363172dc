package lifecycle

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"warden/cmd/internal/auth/access"
	"warden/cmd/internal/auth/onetime"
	"warden/cmd/internal/auth/refresh"
	"warden/cmd/internal/auth/session"
	"warden/cmd/internal/metrics"
	"warden/cmd/internal/store"
	"warden/cmd/security/password"
	"warden/cmd/security/token"
)

const goodPassword = "correct horse battery staple"

var (
	t0     = time.Date(2025, 7, 14, 9, 30, 0, 0, time.UTC)
	laptop = session.Device{IP: "203.0.113.7", UserAgent: "Firefox/128.0", Name: "laptop"}
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type outbox struct {
	mu     sync.Mutex
	resets []PasswordResetMessage
	verify []EmailVerificationMessage
}

func (o *outbox) SendPasswordReset(_ context.Context, m PasswordResetMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resets = append(o.resets, m)
	return nil
}

func (o *outbox) SendEmailVerification(_ context.Context, m EmailVerificationMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.verify = append(o.verify, m)
	return nil
}

type fixture struct {
	svc    *Service
	st     *store.MemoryStore
	clock  *clock
	outbox *outbox
	logs   *bytes.Buffer
	reg    *prometheus.Registry
}

// cheapPassword keeps argon2 fast in tests.
func cheapPassword() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func newFixture(t *testing.T, opts ...func(*Deps)) *fixture {
	t.Helper()

	st := store.NewMemoryStore()
	t.Cleanup(st.Close)

	h, err := token.NewHasher([]byte(strings.Repeat("w", token.MinKeyBytes)))
	require.NoError(t, err)

	acfg := access.DefaultConfig()
	acfg.SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	am, err := access.NewManager(acfg)
	require.NoError(t, err)

	f := &fixture{
		st:     st,
		clock:  &clock{now: t0},
		outbox: &outbox{},
		logs:   &bytes.Buffer{},
		reg:    prometheus.NewRegistry(),
	}

	d := Deps{
		Store:    st,
		Hasher:   h,
		Config:   DefaultConfig(),
		Password: cheapPassword(),
		Refresh:  refresh.DefaultConfig(),
		OneTime:  onetime.DefaultConfig(),
		Access:   am,
		Clock:    f.clock.Now,
		Log:      slog.New(slog.NewJSONHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		Metrics:  metrics.NewCollector(f.reg),
		Notifier: f.outbox,
	}
	for _, o := range opts {
		o(&d)
	}

	f.svc, err = New(d)
	require.NoError(t, err)
	return f
}

func (f *fixture) register(t *testing.T, email string) store.User {
	t.Helper()
	u, err := f.svc.Register(context.Background(), email, goodPassword)
	require.NoError(t, err)
	return u
}

func (f *fixture) login(t *testing.T, email string) Result {
	t.Helper()
	r, err := f.svc.Login(context.Background(), email, goodPassword, laptop)
	require.NoError(t, err)
	return r
}

// rows returns every non-deleted row owned by userID.
func (f *fixture) rows(t *testing.T, userID string) (sessions []store.Session, tokens []store.RefreshToken) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.st.View(ctx, func(tx store.Tx) error {
		var err error
		sessions, err = tx.SessionsByUser(ctx, userID, false)
		if err != nil {
			return err
		}
		for _, s := range sessions {
			rows, err := tx.RefreshTokensBySession(ctx, s.ID)
			if err != nil {
				return err
			}
			tokens = append(tokens, rows...)
		}
		return nil
	}))
	return sessions, tokens
}

func (f *fixture) user(t *testing.T, userID string) store.User {
	t.Helper()
	var u store.User
	ctx := context.Background()
	require.NoError(t, f.st.View(ctx, func(tx store.Tx) error {
		var err error
		u, err = tx.UserByID(ctx, userID)
		return err
	}))
	return u
}

func liveTokens(rows []store.RefreshToken, now time.Time) int {
	n := 0
	for _, rt := range rows {
		if !rt.IsRevoked && rt.ExpiresAt.After(now) {
			n++
		}
	}
	return n
}
