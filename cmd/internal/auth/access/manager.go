// Package access issues short-lived, non-rotating access tokens
// (PASETO v4.public) layered on top of sessions.
//
// An access token names its user and session. Verification checks the
// signature, issuer and validity window only; callers that need revocation
// to take effect immediately must also check that the session is active.
package access

import (
	"fmt"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"warden/cmd/internal/auth/autherr"
)

// Claims is the identity envelope carried by an access token.
type Claims struct {
	UserID    string
	SessionID string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
}

// Manager signs and verifies access tokens with an Ed25519 keypair.
type Manager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewManager builds a Manager from cfg. The key must be configured.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.SecretKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: WARDEN_PASETO_V4_SECRET_KEY_HEX: %v", ErrConfig, err)
	}

	return &Manager{
		issuer:    cfg.Issuer,
		ttl:       cfg.TTL,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

// PublicKeyHex exports the verification key for resource servers.
func (m *Manager) PublicKeyHex() string {
	return m.public.ExportHex()
}

// Issue signs a token for (userID, sessionID) valid from now for the configured TTL.
func (m *Manager) Issue(userID, sessionID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)

	if err := tok.Set("uid", userID); err != nil {
		return "", time.Time{}, err
	}
	if err := tok.Set("sid", sessionID); err != nil {
		return "", time.Time{}, err
	}

	return tok.V4Sign(m.secret, nil), exp, nil
}

// Verify checks the signature and issuer, then the validity window.
// A token at or past its expiry is Expired; anything else wrong is Invalid.
func (m *Manager) Verify(token string, now time.Time) (Claims, error) {
	const op = "access.Verify"

	// Build a fresh parser per call to avoid accumulating rules across verifies.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(m.issuer))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return Claims{}, autherr.New(op, autherr.ErrInvalid, "bad token")
	}

	exp, err := parsed.GetExpiration()
	if err != nil {
		return Claims{}, autherr.New(op, autherr.ErrInvalid, "missing exp")
	}
	nbf, err := parsed.GetNotBefore()
	if err != nil {
		return Claims{}, autherr.New(op, autherr.ErrInvalid, "missing nbf")
	}
	if now.Add(m.clockSkew).Before(nbf) {
		return Claims{}, autherr.New(op, autherr.ErrInvalid, "not yet valid")
	}
	if !now.Before(exp) {
		return Claims{}, autherr.New(op, autherr.ErrExpired, "")
	}

	uid, err := parsed.GetString("uid")
	if err != nil || uid == "" {
		return Claims{}, autherr.New(op, autherr.ErrInvalid, "missing uid")
	}
	sid, err := parsed.GetString("sid")
	if err != nil || sid == "" {
		return Claims{}, autherr.New(op, autherr.ErrInvalid, "missing sid")
	}

	iss, _ := parsed.GetIssuer()
	iat, _ := parsed.GetIssuedAt()

	return Claims{
		UserID:    uid,
		SessionID: sid,
		ExpiresAt: exp,
		IssuedAt:  iat,
		Issuer:    iss,
	}, nil
}
