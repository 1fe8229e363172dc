package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"warden/cmd/identity"
	"warden/cmd/internal/auth/access"
	"warden/cmd/internal/auth/autherr"
	"warden/cmd/internal/auth/onetime"
	"warden/cmd/internal/auth/refresh"
	"warden/cmd/internal/auth/session"
	"warden/cmd/internal/metrics"
	"warden/cmd/internal/store"
	"warden/cmd/security/password"
	"warden/cmd/security/token"
)

// Deps are the collaborators of a Service. Store and Hasher are required.
type Deps struct {
	Store  store.Store
	Hasher *token.Hasher

	Config   Config
	Password password.Config
	Refresh  refresh.Config
	OneTime  onetime.Config

	// Access is optional; without it no access tokens are issued.
	Access *access.Manager

	Clock    func() time.Time
	Log      *slog.Logger
	Metrics  metrics.Recorder
	Notifier Notifier
}

// Service is the lifecycle orchestrator.
type Service struct {
	cfg   Config
	pw    password.Config
	store store.Store

	identity *identity.Service
	sessions *session.Manager
	refresh  *refresh.Issuer
	onetime  *onetime.Service
	access   *access.Manager

	clock    func() time.Time
	log      *slog.Logger
	metrics  metrics.Recorder
	notifier Notifier

	// dummyHash keeps unknown-email logins as slow as real ones.
	dummyHash string
}

// New wires a Service from d.
func New(d Deps) (*Service, error) {
	if d.Store == nil || d.Hasher == nil {
		return nil, errors.New("lifecycle: nil store or hasher")
	}
	if err := d.Config.Validate(); err != nil {
		return nil, err
	}
	if err := d.Password.Check(); err != nil {
		return nil, err
	}

	ident, err := identity.NewService(d.Store)
	if err != nil {
		return nil, err
	}
	sessions, err := session.NewManager(d.Store)
	if err != nil {
		return nil, err
	}
	issuer, err := refresh.NewIssuer(d.Refresh, d.Store, d.Hasher)
	if err != nil {
		return nil, err
	}
	ot, err := onetime.NewService(d.OneTime, d.Store, d.Hasher)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:      d.Config,
		pw:       d.Password,
		store:    d.Store,
		identity: ident,
		sessions: sessions,
		refresh:  issuer,
		onetime:  ot,
		access:   d.Access,
		clock:    d.Clock,
		log:      d.Log,
		metrics:  d.Metrics,
		notifier: d.Notifier,
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop{}
	}
	if s.notifier == nil {
		s.notifier = NoopNotifier{}
	}

	// Derive the dummy with the live parameters so both branches cost the same.
	hash, err := s.pw.Hash(dummyPassword(s.pw))
	if err != nil {
		return nil, fmt.Errorf("lifecycle: dummy hash: %w", err)
	}
	s.dummyHash = hash
	return s, nil
}

// Result is what a successful login or refresh hands back to the caller.
// RefreshToken is the opaque bearer; it is returned once and never logged.
type Result struct {
	UserID           string
	SessionID        string
	RefreshTokenID   string
	RefreshToken     string
	RefreshExpiresAt time.Time

	// AccessToken is empty when access tokens are disabled.
	AccessToken     string
	AccessExpiresAt time.Time
}

// LogValue implements slog.LogValuer and omits both tokens.
func (r Result) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user_id", r.UserID),
		slog.String("session_id", r.SessionID),
		slog.String("refresh_token_id", r.RefreshTokenID),
		slog.Time("refresh_expires_at", r.RefreshExpiresAt),
	)
}

func (s *Service) now() time.Time { return s.clock().UTC() }

// result builds a Result from a freshly minted refresh pair, adding an
// access token when enabled.
func (s *Service) result(op string, now time.Time, p refresh.Pair) (Result, error) {
	r := Result{
		UserID:           p.UserID,
		SessionID:        p.SessionID,
		RefreshTokenID:   p.TokenID,
		RefreshToken:     p.Bearer(),
		RefreshExpiresAt: p.ExpiresAt,
	}
	if s.access == nil {
		return r, nil
	}
	tok, exp, err := s.access.Issue(p.UserID, p.SessionID, now)
	if err != nil {
		return Result{}, autherr.Unavailable(op, err)
	}
	r.AccessToken, r.AccessExpiresAt = tok, exp
	return r, nil
}

// inTx runs fn in a write transaction and keeps engine errors intact.
func (s *Service) inTx(ctx context.Context, op string, notFound error, fn func(store.Tx) error) error {
	return autherr.Passthrough(op, s.store.InTx(ctx, fn), notFound)
}

// policyError maps password policy failures to InvalidInput.
func policyError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, password.ErrPasswordTooShort),
		errors.Is(err, password.ErrPasswordTooLong),
		errors.Is(err, password.ErrWeakPassword):
		return autherr.New(op, autherr.ErrInvalidInput, err.Error())
	default:
		return autherr.Unavailable(op, err)
	}
}

// outcome is the metrics label for err.
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if k := autherr.KindOf(err); k != nil {
		return k.Error()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "error"
}

func dummyPassword(cfg password.Config) string {
	n := min(max(cfg.Policy.MinLength, 24), cfg.Policy.MaxLength)
	b := make([]byte, n)
	for i := range b {
		b[i] = "timing-only-"[i%12]
	}
	return string(b)
}
