package app

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrConfig is returned for invalid runtime configuration.
var ErrConfig = errors.New("app: invalid config")

// Config contains the process-level settings loaded from WARDEN_* variables.
// Component policy (password, refresh, one-time, access, lifecycle) is
// loaded by each component's own LoadConfigFromEnv.
type Config struct {
	HTTPAddr  string `env:"WARDEN_HTTP_ADDR" envDefault:"127.0.0.1:9090"`
	LogLevel  string `env:"WARDEN_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"WARDEN_LOG_FORMAT" envDefault:"json"`
	LogColor  bool   `env:"WARDEN_LOG_COLOR" envDefault:"true"`

	ReadHeaderTimeout time.Duration `env:"WARDEN_HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"WARDEN_HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"WARDEN_HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout       time.Duration `env:"WARDEN_HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout   time.Duration `env:"WARDEN_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// DatabaseURL selects the Postgres store; empty means in-memory.
	DatabaseURL string `env:"WARDEN_DATABASE_URL"`
	DBMaxConns  int32  `env:"WARDEN_DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"WARDEN_DB_MIN_CONNS" envDefault:"0"`
	AutoMigrate bool   `env:"WARDEN_DB_AUTO_MIGRATE" envDefault:"true"`

	// If true, /readyz returns 503 unless a database is configured.
	ReadinessRequireDB bool `env:"WARDEN_READINESS_REQUIRE_DB"`

	// TokenHMACKey keys refresh and one-time token digests (>= 32 bytes).
	TokenHMACKey string `env:"WARDEN_TOKEN_HMAC_KEY"`

	// SweepInterval is the period of the expiry sweep; 0 disables it.
	SweepInterval time.Duration `env:"WARDEN_SWEEP_INTERVAL" envDefault:"10m"`
}

// LoadConfig loads an optional .env file, then parses Config from the environment.
func LoadConfig() (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := parseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings that cannot be defaulted.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("%w: WARDEN_HTTP_ADDR must not be empty", ErrConfig)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "pretty":
	default:
		return fmt.Errorf("%w: WARDEN_LOG_FORMAT must be json or pretty", ErrConfig)
	}
	if c.DBMinConns < 0 || c.DBMaxConns < 1 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("%w: need 0 <= WARDEN_DB_MIN_CONNS <= WARDEN_DB_MAX_CONNS and max >= 1", ErrConfig)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("%w: WARDEN_SWEEP_INTERVAL must not be negative", ErrConfig)
	}
	return nil
}
