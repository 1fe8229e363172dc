package onetime

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"warden/cmd/internal/store"
)

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("onetime: invalid config")

// Config holds per-kind token lifetimes.
type Config struct {
	PasswordResetTTL     time.Duration `env:"WARDEN_PASSWORD_RESET_TTL"`
	EmailVerificationTTL time.Duration `env:"WARDEN_EMAIL_VERIFICATION_TTL"`

	// SecretBytes is the number of random bytes in the bearer secret.
	SecretBytes int `env:"WARDEN_ONETIME_TOKEN_BYTES"`
}

// DefaultConfig returns production-grade defaults.
func DefaultConfig() Config {
	return Config{
		PasswordResetTTL:     time.Hour,
		EmailVerificationTTL: 48 * time.Hour,
		SecretBytes:          32,
	}
}

// LoadConfigFromEnv overlays environment variables on DefaultConfig.
//
// Optional:
//   - WARDEN_PASSWORD_RESET_TTL
//   - WARDEN_EMAIL_VERIFICATION_TTL
//   - WARDEN_ONETIME_TOKEN_BYTES (32..64)
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks bounds.
func (c Config) Validate() error {
	if c.PasswordResetTTL <= 0 {
		return fmt.Errorf("%w: WARDEN_PASSWORD_RESET_TTL must be positive", ErrConfig)
	}
	if c.EmailVerificationTTL <= 0 {
		return fmt.Errorf("%w: WARDEN_EMAIL_VERIFICATION_TTL must be positive", ErrConfig)
	}
	if c.SecretBytes < 32 || c.SecretBytes > 64 {
		return fmt.Errorf("%w: WARDEN_ONETIME_TOKEN_BYTES must be in [32..64]", ErrConfig)
	}
	return nil
}

// TTL returns the lifetime configured for kind.
func (c Config) TTL(kind store.OneTimeKind) time.Duration {
	switch kind {
	case store.KindPasswordReset:
		return c.PasswordResetTTL
	case store.KindEmailVerification:
		return c.EmailVerificationTTL
	default:
		return 0
	}
}
