package store

import "time"

// Lifecycle carries the timestamps and soft-delete state shared by all entities.
type Lifecycle struct {
	CreatedAt time.Time
	UpdatedAt time.Time
	IsDeleted bool
	DeletedAt *time.Time
}

// Stamp initializes timestamps of a new row.
func (l *Lifecycle) Stamp(now time.Time) {
	l.CreatedAt = now
	l.UpdatedAt = now
}

// Touch bumps UpdatedAt.
func (l *Lifecycle) Touch(now time.Time) { l.UpdatedAt = now }

// MarkDeleted soft-deletes the row. Repeated calls keep the first DeletedAt.
func (l *Lifecycle) MarkDeleted(now time.Time) {
	if l.IsDeleted {
		return
	}
	l.IsDeleted = true
	l.DeletedAt = &now
	l.UpdatedAt = now
}

// User is an account. PasswordHash is nil for OAuth-only accounts.
type User struct {
	ID              string
	Email           string
	EmailNorm       string
	PasswordHash    *string
	IsEmailVerified bool
	IsActive        bool
	Lifecycle
}

// OAuthAccount links a provider identity to a user.
type OAuthAccount struct {
	ID                string
	UserID            string
	Provider          string
	ProviderAccountID string
	Email             string
	AccessToken       *string
	RefreshToken      *string
	TokenExpiresAt    *time.Time
	Lifecycle
}

// Session is one logical login on one device.
type Session struct {
	ID             string
	UserID         string
	IP             string
	UserAgent      string
	DeviceName     string
	IsActive       bool
	LastActivityAt time.Time
	RevokedAt      *time.Time
	RevokedReason  string
	Lifecycle
}

// RefreshToken is one link of a session's rotation chain.
// TokenHash is a keyed digest; the secret itself is never stored.
type RefreshToken struct {
	ID            string
	SessionID     string
	UserID        string
	TokenHash     string
	ExpiresAt     time.Time
	IsRevoked     bool
	RevokedAt     *time.Time
	RevokedReason string
	// ReplacedByID is set only when the token was retired by rotation.
	ReplacedByID *string
	Lifecycle
}

// Rotated reports whether the token was retired by a successful rotation.
func (t RefreshToken) Rotated() bool { return t.IsRevoked && t.ReplacedByID != nil }

// OneTimeKind selects the one-time token table.
type OneTimeKind string

const (
	KindPasswordReset     OneTimeKind = "password_reset"
	KindEmailVerification OneTimeKind = "email_verification"
)

// OneTimeKinds lists every supported kind.
var OneTimeKinds = []OneTimeKind{KindPasswordReset, KindEmailVerification}

// Valid reports whether k is a known kind.
func (k OneTimeKind) Valid() bool {
	switch k {
	case KindPasswordReset, KindEmailVerification:
		return true
	}
	return false
}

// OneTimeToken is a single-use password reset or email verification token.
type OneTimeToken struct {
	ID        string
	UserID    string
	Kind      OneTimeKind
	TokenHash string
	ExpiresAt time.Time
	IsUsed    bool
	UsedAt    *time.Time
	Lifecycle
}

// SweepStats reports how many rows a sweep soft-deleted.
type SweepStats struct {
	RefreshTokens int64
	OneTimeTokens int64
	Sessions      int64
}
