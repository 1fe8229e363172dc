package lifecycle

import (
	"context"
	"log/slog"
	"time"
)

// PasswordResetMessage is the payload for password reset delivery.
// Bearer is secret and must only reach the account's mailbox.
type PasswordResetMessage struct {
	UserID    string
	Email     string
	Bearer    string
	ExpiresAt time.Time
}

// LogValue implements slog.LogValuer and omits the bearer.
func (m PasswordResetMessage) LogValue() slog.Value {
	return slog.GroupValue(slog.String("user_id", m.UserID), slog.Time("expires_at", m.ExpiresAt))
}

// EmailVerificationMessage is the payload for email verification delivery.
type EmailVerificationMessage struct {
	UserID    string
	Email     string
	Bearer    string
	ExpiresAt time.Time
}

// LogValue implements slog.LogValuer and omits the bearer.
func (m EmailVerificationMessage) LogValue() slog.Value {
	return slog.GroupValue(slog.String("user_id", m.UserID), slog.Time("expires_at", m.ExpiresAt))
}

// Notifier delivers one-time tokens out of band.
//
// Delivery runs after the token is committed. A delivery failure is logged
// and does not fail the request; the user can ask again.
type Notifier interface {
	SendPasswordReset(ctx context.Context, msg PasswordResetMessage) error
	SendEmailVerification(ctx context.Context, msg EmailVerificationMessage) error
}

// NoopNotifier drops every message.
type NoopNotifier struct{}

func (NoopNotifier) SendPasswordReset(context.Context, PasswordResetMessage) error { return nil }

func (NoopNotifier) SendEmailVerification(context.Context, EmailVerificationMessage) error {
	return nil
}
