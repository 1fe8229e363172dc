package lifecycle

import (
	"context"
	"log/slog"

	"warden/cmd/internal/auth/session"
)

// Audit events are structured log records. Secrets, bearers and token
// hashes never appear in them.

func (s *Service) auditLoginFailed(ctx context.Context, method, identifier, userID, reason string, dev session.Device) {
	s.audit(ctx, slog.LevelWarn, "auth.login.failed",
		slog.String("method", method),
		slog.String("identifier", identifier),
		slog.String("user_id", userID),
		slog.String("reason", reason),
		slog.String("ip", dev.IP),
		slog.String("user_agent", dev.UserAgent),
	)
}

func (s *Service) auditLoginSuccess(ctx context.Context, method string, r Result, dev session.Device) {
	s.audit(ctx, slog.LevelInfo, "auth.login.success",
		slog.String("method", method),
		slog.String("user_id", r.UserID),
		slog.String("session_id", r.SessionID),
		slog.String("ip", dev.IP),
		slog.String("user_agent", dev.UserAgent),
	)
}

func (s *Service) auditRefreshSuccess(ctx context.Context, r Result) {
	s.audit(ctx, slog.LevelDebug, "auth.refresh.success",
		slog.String("user_id", r.UserID),
		slog.String("session_id", r.SessionID),
	)
}

func (s *Service) auditRefreshReuse(ctx context.Context, tokenID, userID, sessionID string) {
	s.audit(ctx, slog.LevelWarn, "auth.refresh.reuse_detected",
		slog.String("token_id", tokenID),
		slog.String("user_id", userID),
		slog.String("session_id", sessionID),
	)
}

func (s *Service) auditLogout(ctx context.Context, userID, sessionID string) {
	s.audit(ctx, slog.LevelInfo, "auth.logout",
		slog.String("user_id", userID),
		slog.String("session_id", sessionID),
	)
}

func (s *Service) auditSessionsRevoked(ctx context.Context, event, userID, reason string, n int) {
	s.audit(ctx, slog.LevelInfo, event,
		slog.String("user_id", userID),
		slog.String("reason", reason),
		slog.Int("sessions", n),
	)
}

func (s *Service) auditAccount(ctx context.Context, event, userID string) {
	s.audit(ctx, slog.LevelInfo, event, slog.String("user_id", userID))
}

func (s *Service) audit(ctx context.Context, level slog.Level, event string, attrs ...slog.Attr) {
	s.log.LogAttrs(ctx, level, event, attrs...)
}
