package session

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Config defines the runtime configuration of the session subsystem.
type Config struct {
	// CookieName is the name of the session cookie.
	CookieName string `env:"COOKIE_NAME" envDefault:"spotline_session"`

	// TTL is the absolute lifetime of a session.
	TTL time.Duration `env:"TTL" envDefault:"168h"`

	// TouchInterval throttles last_seen_at writes.
	TouchInterval time.Duration `env:"TOUCH_INTERVAL" envDefault:"1m"`

	// TokenBytes is the number of random bytes in a session token.
	TokenBytes int `env:"TOKEN_BYTES" envDefault:"32"`

	// HashKey signs the cookie. Empty in development: a random key is generated at startup,
	// which logs everyone out on restart.
	HashKey string `env:"COOKIE_HASH_KEY"`

	// BlockKey optionally encrypts the cookie (16, 24 or 32 bytes).
	BlockKey string `env:"COOKIE_BLOCK_KEY"`

	// Secure sets the Secure attribute; disable only for plain-HTTP local runs.
	Secure bool `env:"COOKIE_SECURE" envDefault:"true"`

	// SameSite is one of lax, strict or none.
	SameSite string `env:"COOKIE_SAMESITE" envDefault:"lax"`
}

// DefaultConfig mirrors the envDefault tags.
func DefaultConfig() Config {
	return Config{
		CookieName:    "spotline_session",
		TTL:           7 * 24 * time.Hour,
		TouchInterval: time.Minute,
		TokenBytes:    32,
		Secure:        true,
		SameSite:      "lax",
	}
}

// Check validates the configuration.
func (c Config) Check() error {
	switch {
	case strings.TrimSpace(c.CookieName) == "":
		return fmt.Errorf("%w: empty cookie name", ErrConfig)
	case c.TTL <= 0:
		return fmt.Errorf("%w: ttl must be positive", ErrConfig)
	case c.TouchInterval < 0:
		return fmt.Errorf("%w: negative touch interval", ErrConfig)
	case c.TokenBytes < 32 || c.TokenBytes > 64:
		return fmt.Errorf("%w: token bytes out of range [32..64]", ErrConfig)
	case c.HashKey != "" && len(c.HashKey) < 32:
		return fmt.Errorf("%w: cookie hash key must be at least 32 bytes", ErrConfig)
	}
	switch len(c.BlockKey) {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("%w: cookie block key must be 16, 24 or 32 bytes", ErrConfig)
	}
	if _, ok := parseSameSite(c.SameSite); !ok {
		return fmt.Errorf("%w: samesite must be lax, strict or none", ErrConfig)
	}
	return nil
}

func parseSameSite(s string) (http.SameSite, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lax":
		return http.SameSiteLaxMode, true
	case "strict":
		return http.SameSiteStrictMode, true
	case "none":
		return http.SameSiteNoneMode, true
	}
	return http.SameSiteDefaultMode, false
}
