package onetime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"warden/cmd/identity/ids"
	"warden/cmd/internal/auth/autherr"
	"warden/cmd/internal/store"
	"warden/cmd/security/token"
)

// Token is a freshly issued one-time token. Secret is returned once.
type Token struct {
	ID        string
	Secret    string
	Kind      store.OneTimeKind
	UserID    string
	ExpiresAt time.Time
}

// Bearer returns the opaque "{tokenId}.{secret}" string delivered to the user.
func (t Token) Bearer() string { return token.Format(t.ID, t.Secret) }

// LogValue implements slog.LogValuer and omits the secret.
func (t Token) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("token_id", t.ID),
		slog.String("kind", string(t.Kind)),
		slog.String("user_id", t.UserID),
		slog.Time("expires_at", t.ExpiresAt),
	)
}

// Service manages one-time token issuance and redemption.
type Service struct {
	cfg    Config
	store  store.Store
	hasher *token.Hasher
}

// NewService constructs a Service.
func NewService(cfg Config, st store.Store, hasher *token.Hasher) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if st == nil || hasher == nil {
		return nil, fmt.Errorf("onetime: nil dependency")
	}
	return &Service{cfg: cfg, store: st, hasher: hasher}, nil
}

// Issue mints a token of kind for userID. Earlier unused tokens of the
// same kind for that user stop being redeemable.
func (s *Service) Issue(ctx context.Context, now time.Time, userID string, kind store.OneTimeKind) (t Token, err error) {
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		t, err = s.IssueTx(ctx, tx, now, userID, kind)
		return err
	})
	return t, autherr.Passthrough("onetime.Issue", err, autherr.ErrNotFound)
}

// IssueTx is Issue inside tx.
func (s *Service) IssueTx(ctx context.Context, tx store.Tx, now time.Time, userID string, kind store.OneTimeKind) (Token, error) {
	const op = "onetime.Issue"

	if !kind.Valid() {
		return Token{}, autherr.New(op, autherr.ErrInvalidInput, "unknown token kind")
	}

	id, err := ids.NewTokenID()
	if err != nil {
		return Token{}, autherr.Unavailable(op, err)
	}
	secret, err := token.NewSecret(s.cfg.SecretBytes)
	if err != nil {
		return Token{}, autherr.Unavailable(op, err)
	}

	if _, err := tx.SupersedeOneTimeTokens(ctx, now, kind, userID); err != nil {
		return Token{}, autherr.FromStore(op, err, autherr.ErrNotFound)
	}

	row := store.OneTimeToken{
		ID:        id,
		UserID:    userID,
		Kind:      kind,
		TokenHash: s.hasher.Hash(secret),
		ExpiresAt: now.Add(s.cfg.TTL(kind)),
	}
	row.Stamp(now)
	if err := tx.CreateOneTimeToken(ctx, &row); err != nil {
		return Token{}, autherr.FromStore(op, err, autherr.ErrNotFound)
	}

	return Token{
		ID:        id,
		Secret:    secret,
		Kind:      kind,
		UserID:    userID,
		ExpiresAt: row.ExpiresAt,
	}, nil
}

// Redeem consumes a token and returns its owner.
//
// Check order: malformed, unknown, wrong kind or secret mismatch (Invalid),
// already used (AlreadyUsed), now >= expires_at (Expired). A failed redemption
// changes nothing.
func (s *Service) Redeem(ctx context.Context, now time.Time, kind store.OneTimeKind, tokenID, secret string) (userID string, err error) {
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		userID, err = s.RedeemTx(ctx, tx, now, kind, tokenID, secret)
		return err
	})
	return userID, autherr.Passthrough("onetime.Redeem", err, autherr.ErrInvalid)
}

// RedeemTx is Redeem inside tx, so the caller can apply the redemption's
// side effects atomically with it.
func (s *Service) RedeemTx(ctx context.Context, tx store.Tx, now time.Time, kind store.OneTimeKind, tokenID, secret string) (string, error) {
	const op = "onetime.Redeem"

	if !kind.Valid() || !ids.IsTokenID(tokenID) || secret == "" {
		return "", autherr.New(op, autherr.ErrInvalid, "malformed token")
	}

	ot, err := tx.LockOneTimeToken(ctx, kind, tokenID)
	if err != nil {
		return "", autherr.FromStore(op, err, autherr.ErrInvalid)
	}
	if !s.hasher.Verify(secret, ot.TokenHash) {
		return "", autherr.New(op, autherr.ErrInvalid, "token mismatch")
	}
	if ot.IsUsed {
		return "", autherr.New(op, autherr.ErrAlreadyUsed, "")
	}
	if !now.Before(ot.ExpiresAt) {
		return "", autherr.New(op, autherr.ErrExpired, "")
	}

	won, err := tx.ConsumeOneTimeToken(ctx, now, kind, ot.ID)
	if err != nil {
		return "", autherr.FromStore(op, err, autherr.ErrInvalid)
	}
	if !won {
		return "", autherr.New(op, autherr.ErrAlreadyUsed, "")
	}
	return ot.UserID, nil
}

// PurgeUserTx soft-deletes every one-time token of userID.
func (s *Service) PurgeUserTx(ctx context.Context, tx store.Tx, now time.Time, userID string) error {
	_, err := tx.DeleteOneTimeTokensByUser(ctx, now, userID)
	return autherr.FromStore("onetime.PurgeUser", err, autherr.ErrNotFound)
}
