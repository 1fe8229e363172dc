package refresh

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("refresh: invalid config")

// Config controls refresh token lifetime and entropy.
type Config struct {
	// TTL is the lifetime of each token in the chain; rotation grants a fresh TTL.
	TTL time.Duration `env:"WARDEN_REFRESH_TTL"`

	// SecretBytes is the number of random bytes in the bearer secret.
	SecretBytes int `env:"WARDEN_REFRESH_TOKEN_BYTES"`
}

// DefaultConfig returns production-grade defaults.
func DefaultConfig() Config {
	return Config{
		TTL:         30 * 24 * time.Hour,
		SecretBytes: 32,
	}
}

// LoadConfigFromEnv overlays WARDEN_REFRESH_* variables on DefaultConfig.
//
// Optional (durations must be valid Go duration strings):
//   - WARDEN_REFRESH_TTL
//   - WARDEN_REFRESH_TOKEN_BYTES (32..64)
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
	if c.TTL <= 0 {
		return fmt.Errorf("%w: WARDEN_REFRESH_TTL must be positive", ErrConfig)
	}
	if c.SecretBytes < 32 || c.SecretBytes > 64 {
		return fmt.Errorf("%w: WARDEN_REFRESH_TOKEN_BYTES must be in [32..64]", ErrConfig)
	}
	return nil
}
