package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

var (
	tblUsers              = pgIdent("users")
	tblOAuthAccounts      = pgIdent("oauth_accounts")
	tblSessions           = pgIdent("sessions")
	tblRefreshTokens      = pgIdent("refresh_tokens")
	tblPasswordResets     = pgIdent("password_resets")
	tblEmailVerifications = pgIdent("email_verifications")
)

const (
	lifecycleCols = `created_at, updated_at, is_deleted, deleted_at`

	userCols = `id, email, email_norm, password_hash, is_email_verified, is_active, ` + lifecycleCols

	oauthCols = `id, user_id, provider, provider_account_id, email,
		access_token, refresh_token, token_expires_at, ` + lifecycleCols

	sessionCols = `id, user_id, COALESCE(ip, ''), COALESCE(user_agent, ''), COALESCE(device_name, ''),
		is_active, last_activity_at, revoked_at, COALESCE(revoked_reason, ''), ` + lifecycleCols

	refreshCols = `id, session_id, user_id, token_hash, expires_at,
		is_revoked, revoked_at, COALESCE(revoked_reason, ''), replaced_by_id, ` + lifecycleCols

	onetimeCols = `id, user_id, token_hash, expires_at, is_used, used_at, ` + lifecycleCols
)

type rowScanner interface {
	Scan(dest ...any) error
}

func lifecycleDest(l *Lifecycle) []any {
	return []any{&l.CreatedAt, &l.UpdatedAt, &l.IsDeleted, &l.DeletedAt}
}

func scanUser(r rowScanner) (User, error) {
	var u User
	dest := append([]any{&u.ID, &u.Email, &u.EmailNorm, &u.PasswordHash, &u.IsEmailVerified, &u.IsActive}, lifecycleDest(&u.Lifecycle)...)
	err := r.Scan(dest...)
	return u, err
}

func scanOAuth(r rowScanner) (OAuthAccount, error) {
	var a OAuthAccount
	dest := append([]any{
		&a.ID, &a.UserID, &a.Provider, &a.ProviderAccountID, &a.Email,
		&a.AccessToken, &a.RefreshToken, &a.TokenExpiresAt,
	}, lifecycleDest(&a.Lifecycle)...)
	err := r.Scan(dest...)
	return a, err
}

func scanSession(r rowScanner) (Session, error) {
	var s Session
	dest := append([]any{
		&s.ID, &s.UserID, &s.IP, &s.UserAgent, &s.DeviceName,
		&s.IsActive, &s.LastActivityAt, &s.RevokedAt, &s.RevokedReason,
	}, lifecycleDest(&s.Lifecycle)...)
	err := r.Scan(dest...)
	return s, err
}

func scanRefresh(r rowScanner) (RefreshToken, error) {
	var t RefreshToken
	dest := append([]any{
		&t.ID, &t.SessionID, &t.UserID, &t.TokenHash, &t.ExpiresAt,
		&t.IsRevoked, &t.RevokedAt, &t.RevokedReason, &t.ReplacedByID,
	}, lifecycleDest(&t.Lifecycle)...)
	err := r.Scan(dest...)
	return t, err
}

func scanOneTime(r rowScanner, kind OneTimeKind) (OneTimeToken, error) {
	t := OneTimeToken{Kind: kind}
	dest := append([]any{&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.IsUsed, &t.UsedAt}, lifecycleDest(&t.Lifecycle)...)
	err := r.Scan(dest...)
	return t, err
}

func onetimeTable(kind OneTimeKind) (string, error) {
	switch kind {
	case KindPasswordReset:
		return tblPasswordResets, nil
	case KindEmailVerification:
		return tblEmailVerifications, nil
	}
	return "", ErrNotFound
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, pgMapError(ctx, err)
	}
	return tag.RowsAffected(), nil
}

// execOne runs a single-row write and maps "no row" to ErrNotFound.
// Inserts use INSERT ... SELECT from the live parent, so a missing parent also lands here.
func (t *pgTx) execOne(ctx context.Context, sql string, args ...any) error {
	n, err := t.exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// casOne runs a conditional single-row update. A miss is reported as false
// when the row exists and as ErrNotFound when it does not.
func (t *pgTx) casOne(ctx context.Context, table, id string, sql string, args ...any) (bool, error) {
	n, err := t.exec(ctx, sql, args...)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	var exists bool
	err = t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1 AND NOT is_deleted)`, id).Scan(&exists)
	if err != nil {
		return false, pgMapError(ctx, err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

// ---- users ----

func (t *pgTx) CreateUser(ctx context.Context, u *User) error {
	_, err := t.exec(ctx, `
		INSERT INTO `+tblUsers+` (
			id, email, email_norm, password_hash, is_email_verified, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, u.Email, u.EmailNorm, u.PasswordHash, u.IsEmailVerified, u.IsActive, u.CreatedAt, u.UpdatedAt)
	return err
}

func (t *pgTx) UserByID(ctx context.Context, id string) (User, error) {
	u, err := scanUser(t.tx.QueryRow(ctx, `
		SELECT `+userCols+` FROM `+tblUsers+`
		WHERE id = $1 AND NOT is_deleted
	`, id))
	return u, pgMapError(ctx, err)
}

func (t *pgTx) UserByEmail(ctx context.Context, emailNorm string) (User, error) {
	u, err := scanUser(t.tx.QueryRow(ctx, `
		SELECT `+userCols+` FROM `+tblUsers+`
		WHERE email_norm = $1 AND NOT is_deleted
	`, emailNorm))
	return u, pgMapError(ctx, err)
}

func (t *pgTx) UpdateUser(ctx context.Context, u *User) error {
	return t.execOne(ctx, `
		UPDATE `+tblUsers+`
		SET email = $2, email_norm = $3, password_hash = $4,
		    is_email_verified = $5, is_active = $6,
		    updated_at = $7, is_deleted = $8, deleted_at = $9
		WHERE id = $1 AND NOT is_deleted
	`, u.ID, u.Email, u.EmailNorm, u.PasswordHash, u.IsEmailVerified, u.IsActive, u.UpdatedAt, u.IsDeleted, u.DeletedAt)
}

// ---- oauth accounts ----

func (t *pgTx) CreateOAuthAccount(ctx context.Context, a *OAuthAccount) error {
	return t.execOne(ctx, `
		INSERT INTO `+tblOAuthAccounts+` (
			id, user_id, provider, provider_account_id, email,
			access_token, refresh_token, token_expires_at, created_at, updated_at
		)
		SELECT $1::text, u.id, $3::text, $4::text, $5::text, $6::text, $7::text, $8::timestamptz, $9::timestamptz, $10::timestamptz
		FROM `+tblUsers+` u
		WHERE u.id = $2::text AND NOT u.is_deleted
	`, a.ID, a.UserID, a.Provider, a.ProviderAccountID, a.Email,
		a.AccessToken, a.RefreshToken, a.TokenExpiresAt, a.CreatedAt, a.UpdatedAt)
}

func (t *pgTx) OAuthAccountByProvider(ctx context.Context, provider, providerAccountID string) (OAuthAccount, error) {
	a, err := scanOAuth(t.tx.QueryRow(ctx, `
		SELECT `+oauthCols+` FROM `+tblOAuthAccounts+`
		WHERE provider = $1 AND provider_account_id = $2 AND NOT is_deleted
	`, provider, providerAccountID))
	return a, pgMapError(ctx, err)
}

func (t *pgTx) UpdateOAuthAccount(ctx context.Context, a *OAuthAccount) error {
	return t.execOne(ctx, `
		UPDATE `+tblOAuthAccounts+`
		SET email = $2, access_token = $3, refresh_token = $4, token_expires_at = $5, updated_at = $6
		WHERE id = $1 AND NOT is_deleted
	`, a.ID, a.Email, a.AccessToken, a.RefreshToken, a.TokenExpiresAt, a.UpdatedAt)
}

func (t *pgTx) DeleteOAuthAccountsByUser(ctx context.Context, now time.Time, userID string) (int64, error) {
	return t.exec(ctx, `
		UPDATE `+tblOAuthAccounts+`
		SET is_deleted = true, deleted_at = $2, updated_at = $2
		WHERE user_id = $1 AND NOT is_deleted
	`, userID, now)
}

// ---- sessions ----

func (t *pgTx) CreateSession(ctx context.Context, s *Session) error {
	return t.execOne(ctx, `
		INSERT INTO `+tblSessions+` (
			id, user_id, ip, user_agent, device_name,
			is_active, last_activity_at, created_at, updated_at
		)
		SELECT $1::text, u.id, $3::text, $4::text, $5::text, $6::boolean, $7::timestamptz, $8::timestamptz, $9::timestamptz
		FROM `+tblUsers+` u
		WHERE u.id = $2::text AND NOT u.is_deleted
	`, s.ID, s.UserID, nullIfEmpty(s.IP), nullIfEmpty(s.UserAgent), nullIfEmpty(s.DeviceName),
		s.IsActive, s.LastActivityAt, s.CreatedAt, s.UpdatedAt)
}

func (t *pgTx) SessionByID(ctx context.Context, id string) (Session, error) {
	s, err := scanSession(t.tx.QueryRow(ctx, `
		SELECT `+sessionCols+` FROM `+tblSessions+`
		WHERE id = $1 AND NOT is_deleted
	`, id))
	return s, pgMapError(ctx, err)
}

func (t *pgTx) LockSession(ctx context.Context, id string) (Session, error) {
	s, err := scanSession(t.tx.QueryRow(ctx, `
		SELECT `+sessionCols+` FROM `+tblSessions+`
		WHERE id = $1 AND NOT is_deleted
		FOR UPDATE
	`, id))
	return s, pgMapError(ctx, err)
}

func (t *pgTx) SessionsByUser(ctx context.Context, userID string, activeOnly bool) ([]Session, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+sessionCols+` FROM `+tblSessions+`
		WHERE user_id = $1 AND NOT is_deleted AND (is_active OR NOT $2::boolean)
		ORDER BY last_activity_at DESC, id DESC
	`, userID, activeOnly)
	if err != nil {
		return nil, pgMapError(ctx, err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Session, error) { return scanSession(r) })
	return out, pgMapError(ctx, err)
}

func (t *pgTx) TouchSession(ctx context.Context, now time.Time, id string) error {
	return t.execOne(ctx, `
		UPDATE `+tblSessions+`
		SET last_activity_at = $2, updated_at = $2
		WHERE id = $1 AND NOT is_deleted
	`, id, now)
}

func (t *pgTx) DeactivateSession(ctx context.Context, now time.Time, id, reason string) (bool, error) {
	return t.casOne(ctx, tblSessions, id, `
		UPDATE `+tblSessions+`
		SET is_active = false, revoked_at = $2, revoked_reason = $3, updated_at = $2
		WHERE id = $1 AND NOT is_deleted AND is_active
	`, id, now, reason)
}

func (t *pgTx) DeleteSessionsByUser(ctx context.Context, now time.Time, userID string) (int64, error) {
	return t.exec(ctx, `
		UPDATE `+tblSessions+`
		SET is_active = false,
		    revoked_at = COALESCE(revoked_at, $2),
		    revoked_reason = COALESCE(revoked_reason, 'account_deleted'),
		    is_deleted = true, deleted_at = $2, updated_at = $2
		WHERE user_id = $1 AND NOT is_deleted
	`, userID, now)
}

// ---- refresh tokens ----

func (t *pgTx) CreateRefreshToken(ctx context.Context, rt *RefreshToken) error {
	return t.execOne(ctx, `
		INSERT INTO `+tblRefreshTokens+` (
			id, session_id, user_id, token_hash, expires_at, created_at, updated_at
		)
		SELECT $1::text, s.id, s.user_id, $3::text, $4::timestamptz, $5::timestamptz, $6::timestamptz
		FROM `+tblSessions+` s
		WHERE s.id = $2::text AND NOT s.is_deleted
	`, rt.ID, rt.SessionID, rt.TokenHash, rt.ExpiresAt, rt.CreatedAt, rt.UpdatedAt)
}

func (t *pgTx) RefreshTokenByID(ctx context.Context, id string) (RefreshToken, error) {
	rt, err := scanRefresh(t.tx.QueryRow(ctx, `
		SELECT `+refreshCols+` FROM `+tblRefreshTokens+`
		WHERE id = $1 AND NOT is_deleted
	`, id))
	return rt, pgMapError(ctx, err)
}

func (t *pgTx) LockRefreshToken(ctx context.Context, id string) (RefreshToken, error) {
	rt, err := scanRefresh(t.tx.QueryRow(ctx, `
		SELECT `+refreshCols+` FROM `+tblRefreshTokens+`
		WHERE id = $1 AND NOT is_deleted
		FOR UPDATE
	`, id))
	return rt, pgMapError(ctx, err)
}

func (t *pgTx) RefreshTokensBySession(ctx context.Context, sessionID string) ([]RefreshToken, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+refreshCols+` FROM `+tblRefreshTokens+`
		WHERE session_id = $1 AND NOT is_deleted
		ORDER BY created_at, id
	`, sessionID)
	if err != nil {
		return nil, pgMapError(ctx, err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (RefreshToken, error) { return scanRefresh(r) })
	return out, pgMapError(ctx, err)
}

func (t *pgTx) RetireRefreshToken(ctx context.Context, now time.Time, id, reason string, replacedBy *string) (bool, error) {
	return t.casOne(ctx, tblRefreshTokens, id, `
		UPDATE `+tblRefreshTokens+`
		SET is_revoked = true, revoked_at = $2, revoked_reason = $3, replaced_by_id = $4, updated_at = $2
		WHERE id = $1 AND NOT is_deleted AND NOT is_revoked
	`, id, now, reason, replacedBy)
}

func (t *pgTx) RevokeRefreshTokensBySession(ctx context.Context, now time.Time, sessionID, reason string) (int64, error) {
	return t.exec(ctx, `
		UPDATE `+tblRefreshTokens+`
		SET is_revoked = true, revoked_at = $2, revoked_reason = $3, updated_at = $2
		WHERE session_id = $1 AND NOT is_deleted AND NOT is_revoked
	`, sessionID, now, reason)
}

func (t *pgTx) DeleteRefreshTokensByUser(ctx context.Context, now time.Time, userID string) (int64, error) {
	return t.exec(ctx, `
		UPDATE `+tblRefreshTokens+`
		SET is_revoked = true,
		    revoked_at = COALESCE(revoked_at, $2),
		    revoked_reason = COALESCE(revoked_reason, 'account_deleted'),
		    is_deleted = true, deleted_at = $2, updated_at = $2
		WHERE user_id = $1 AND NOT is_deleted
	`, userID, now)
}

// ---- one-time tokens ----

func (t *pgTx) CreateOneTimeToken(ctx context.Context, ot *OneTimeToken) error {
	table, err := onetimeTable(ot.Kind)
	if err != nil {
		return err
	}
	return t.execOne(ctx, `
		INSERT INTO `+table+` (
			id, user_id, token_hash, expires_at, created_at, updated_at
		)
		SELECT $1::text, u.id, $3::text, $4::timestamptz, $5::timestamptz, $6::timestamptz
		FROM `+tblUsers+` u
		WHERE u.id = $2::text AND NOT u.is_deleted
	`, ot.ID, ot.UserID, ot.TokenHash, ot.ExpiresAt, ot.CreatedAt, ot.UpdatedAt)
}

func (t *pgTx) OneTimeTokenByID(ctx context.Context, kind OneTimeKind, id string) (OneTimeToken, error) {
	return t.oneTime(ctx, kind, id, "")
}

func (t *pgTx) LockOneTimeToken(ctx context.Context, kind OneTimeKind, id string) (OneTimeToken, error) {
	return t.oneTime(ctx, kind, id, "FOR UPDATE")
}

func (t *pgTx) oneTime(ctx context.Context, kind OneTimeKind, id, lock string) (OneTimeToken, error) {
	table, err := onetimeTable(kind)
	if err != nil {
		return OneTimeToken{}, err
	}
	ot, err := scanOneTime(t.tx.QueryRow(ctx, `
		SELECT `+onetimeCols+` FROM `+table+`
		WHERE id = $1 AND NOT is_deleted
		`+lock, id), kind)
	return ot, pgMapError(ctx, err)
}

func (t *pgTx) ConsumeOneTimeToken(ctx context.Context, now time.Time, kind OneTimeKind, id string) (bool, error) {
	table, err := onetimeTable(kind)
	if err != nil {
		return false, err
	}
	return t.casOne(ctx, table, id, `
		UPDATE `+table+`
		SET is_used = true, used_at = $2, updated_at = $2
		WHERE id = $1 AND NOT is_deleted AND NOT is_used
	`, id, now)
}

func (t *pgTx) SupersedeOneTimeTokens(ctx context.Context, now time.Time, kind OneTimeKind, userID string) (int64, error) {
	table, err := onetimeTable(kind)
	if err != nil {
		return 0, err
	}
	return t.exec(ctx, `
		UPDATE `+table+`
		SET is_deleted = true, deleted_at = $2, updated_at = $2
		WHERE user_id = $1 AND NOT is_deleted AND NOT is_used
	`, userID, now)
}

func (t *pgTx) DeleteOneTimeTokensByUser(ctx context.Context, now time.Time, userID string) (int64, error) {
	var total int64
	for _, kind := range OneTimeKinds {
		table, _ := onetimeTable(kind)
		n, err := t.exec(ctx, `
			UPDATE `+table+`
			SET is_deleted = true, deleted_at = $2, updated_at = $2
			WHERE user_id = $1 AND NOT is_deleted
		`, userID, now)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// ---- hygiene ----

func (t *pgTx) SweepExpired(ctx context.Context, now, cutoff time.Time) (SweepStats, error) {
	var st SweepStats
	var err error

	st.Sessions, err = t.exec(ctx, `
		UPDATE `+tblSessions+`
		SET is_deleted = true, deleted_at = $1, updated_at = $1
		WHERE NOT is_deleted AND NOT is_active AND last_activity_at < $2
	`, now, cutoff)
	if err != nil {
		return st, err
	}

	st.RefreshTokens, err = t.exec(ctx, `
		UPDATE `+tblRefreshTokens+` rt
		SET is_deleted = true, deleted_at = $1, updated_at = $1
		WHERE NOT rt.is_deleted
		  AND (rt.expires_at < $2
		       OR EXISTS (SELECT 1 FROM `+tblSessions+` s WHERE s.id = rt.session_id AND s.is_deleted))
	`, now, cutoff)
	if err != nil {
		return st, err
	}

	for _, kind := range OneTimeKinds {
		table, _ := onetimeTable(kind)
		n, err := t.exec(ctx, `
			UPDATE `+table+`
			SET is_deleted = true, deleted_at = $1, updated_at = $1
			WHERE NOT is_deleted AND expires_at < $2
		`, now, cutoff)
		if err != nil {
			return st, err
		}
		st.OneTimeTokens += n
	}
	return st, nil
}
