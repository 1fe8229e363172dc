package access

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("access: invalid config")

// Config controls PASETO v4.public access tokens.
//
// Access tokens are optional: with an empty SecretKeyHex the engine issues
// refresh tokens only.
type Config struct {
	// Issuer is the value set in the "iss" claim.
	Issuer string `env:"WARDEN_ACCESS_ISSUER"`

	// TTL is the lifetime of an access token.
	TTL time.Duration `env:"WARDEN_ACCESS_TTL"`

	// ClockSkew is tolerated on "nbf" during verification.
	ClockSkew time.Duration `env:"WARDEN_ACCESS_CLOCK_SKEW"`

	// SecretKeyHex is the hex-encoded Ed25519 secret key used to sign tokens.
	SecretKeyHex string `env:"WARDEN_PASETO_V4_SECRET_KEY_HEX"`
}

// DefaultConfig returns defaults with access tokens disabled.
func DefaultConfig() Config {
	return Config{
		Issuer:    "warden",
		TTL:       15 * time.Minute,
		ClockSkew: 30 * time.Second,
	}
}

// Enabled reports whether a signing key is configured.
func (c Config) Enabled() bool { return c.SecretKeyHex != "" }

// LoadConfigFromEnv overlays WARDEN_ACCESS_* and WARDEN_PASETO_V4_SECRET_KEY_HEX on DefaultConfig.
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
	if c.Issuer == "" {
		return fmt.Errorf("%w: WARDEN_ACCESS_ISSUER must not be empty", ErrConfig)
	}
	if c.TTL <= 0 || c.TTL > 24*time.Hour {
		return fmt.Errorf("%w: WARDEN_ACCESS_TTL must be in (0..24h]", ErrConfig)
	}
	if c.ClockSkew < 0 || c.ClockSkew > 5*time.Minute {
		return fmt.Errorf("%w: WARDEN_ACCESS_CLOCK_SKEW must be in [0..5m]", ErrConfig)
	}
	return nil
}
