package api

import (
	"errors"
	"time"
)

// Config controls HTTP API limits. Fields are read from SPOTLINE_API_* variables.
type Config struct {
	// TrustProxy makes X-Forwarded-For / X-Real-IP authoritative for the client address.
	TrustProxy   bool  `env:"TRUST_PROXY" envDefault:"false"`
	MaxBodyBytes int64 `env:"MAX_BODY_BYTES" envDefault:"65536"`

	// Login attempts per client IP: LoginBurst immediately, then one per LoginEvery.
	LoginBurst int           `env:"LOGIN_BURST" envDefault:"10"`
	LoginEvery time.Duration `env:"LOGIN_EVERY" envDefault:"30s"`
}

// DefaultConfig mirrors the envDefault tags.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes: 64 << 10,
		LoginBurst:   10,
		LoginEvery:   30 * time.Second,
	}
}

// Check validates the configuration.
func (c Config) Check() error {
	switch {
	case c.MaxBodyBytes < 1<<10:
		return errors.New("api: max body bytes must be at least 1 KiB")
	case c.LoginBurst <= 0 || c.LoginEvery <= 0:
		return errors.New("api: login rate limit must be positive")
	}
	return nil
}
