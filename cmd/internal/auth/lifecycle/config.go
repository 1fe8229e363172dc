package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("lifecycle: invalid config")

// Config holds orchestration policy.
type Config struct {
	// RequireEmailVerified blocks password logins until the email is verified.
	RequireEmailVerified bool `env:"WARDEN_REQUIRE_EMAIL_VERIFIED"`

	// SweepRetention is how long expired or revoked rows are kept before the
	// sweep soft-deletes them.
	SweepRetention time.Duration `env:"WARDEN_SWEEP_RETENTION"`
}

// DefaultConfig returns production-grade defaults.
func DefaultConfig() Config {
	return Config{
		RequireEmailVerified: false,
		SweepRetention:       7 * 24 * time.Hour,
	}
}

// LoadConfigFromEnv overlays WARDEN_* variables on DefaultConfig.
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
	if c.SweepRetention < 0 {
		return fmt.Errorf("%w: WARDEN_SWEEP_RETENTION must not be negative", ErrConfig)
	}
	return nil
}
