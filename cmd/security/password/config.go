package password

import (
	"fmt"
	"runtime"

	"github.com/caarlos0/env/v11"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32 `env:"WARDEN_ARGON2_MEMORY_KIB"`
	Iterations  uint32 `env:"WARDEN_ARGON2_ITERATIONS"`
	Parallelism uint8  `env:"WARDEN_ARGON2_PARALLELISM"`
	SaltLength  uint32 `env:"WARDEN_ARGON2_SALT_LEN"`
	KeyLength   uint32 `env:"WARDEN_ARGON2_KEY_LEN"`
}

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength int `env:"WARDEN_PASSWORD_MIN_LEN"`
	MaxLength int `env:"WARDEN_PASSWORD_MAX_LEN"`
	// If true, enable an extra, minimal weak-pattern rejection.
	RejectVeryWeak bool `env:"WARDEN_PASSWORD_REJECT_VERY_WEAK"`
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns a strong baseline for interactive logins.
func DefaultConfig() Config {
	// CPU-aware parallelism, clamped to [1..4] to keep resource usage predictable in containers.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,      // 64 MiB
			Iterations:  3,              // reasonable default for interactive logins
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above; safe conversion.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      12,
			MaxLength:      256,
			RejectVeryWeak: false,
		},
	}
}

// FromEnv loads config from environment variables on top of DefaultConfig.
//
// Env surface:
// - WARDEN_PASSWORD_MIN_LEN
// - WARDEN_PASSWORD_MAX_LEN
// - WARDEN_PASSWORD_REJECT_VERY_WEAK (true/false)
// - WARDEN_ARGON2_MEMORY_KIB
// - WARDEN_ARGON2_ITERATIONS
// - WARDEN_ARGON2_PARALLELISM
// - WARDEN_ARGON2_SALT_LEN
// - WARDEN_ARGON2_KEY_LEN
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("password config: %w", err)
	}
	if err := cfg.Check(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Check validates parameter ranges and policy consistency.
func (c Config) Check() error {
	if err := inRange("WARDEN_PASSWORD_MIN_LEN", uint64(max(c.Policy.MinLength, 0)), 1, 1024); err != nil {
		return err
	}
	if err := inRange("WARDEN_PASSWORD_MAX_LEN", uint64(max(c.Policy.MaxLength, 0)), 1, 4096); err != nil {
		return err
	}
	if err := inRange("WARDEN_ARGON2_MEMORY_KIB", uint64(c.Params.MemoryKiB), 8*1024, 1024*1024); err != nil { // 8 MiB .. 1 GiB
		return err
	}
	if err := inRange("WARDEN_ARGON2_ITERATIONS", uint64(c.Params.Iterations), 1, 20); err != nil {
		return err
	}
	if err := inRange("WARDEN_ARGON2_PARALLELISM", uint64(c.Params.Parallelism), 1, 64); err != nil {
		return err
	}
	if err := inRange("WARDEN_ARGON2_SALT_LEN", uint64(c.Params.SaltLength), 8, 64); err != nil {
		return err
	}
	if err := inRange("WARDEN_ARGON2_KEY_LEN", uint64(c.Params.KeyLength), 16, 64); err != nil {
		return err
	}

	if c.Policy.MinLength > c.Policy.MaxLength {
		return fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			c.Policy.MinLength,
			c.Policy.MaxLength,
		)
	}
	return nil
}

func inRange(name string, v, minVal, maxVal uint64) error {
	if v < minVal || v > maxVal {
		return fmt.Errorf("%s: out of range [%d..%d]", name, minVal, maxVal)
	}
	return nil
}
