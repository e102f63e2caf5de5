package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"spotline/cmd/internal/api"
	"spotline/cmd/internal/auth/session"
	"spotline/cmd/internal/invite"
	"spotline/cmd/internal/mail"
	"spotline/cmd/internal/realtime"
	"spotline/cmd/security/password"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every variable read by LoadConfig.
const EnvPrefix = "SPOTLINE_"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	MaxHeaderBytes    int           `env:"HTTP_MAX_HEADER_BYTES" envDefault:"1048576"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Empty DatabaseURL runs every store in memory.
	DatabaseURL string `env:"DATABASE_URL"`
	DBSchema    string `env:"DB_SCHEMA" envDefault:"spotline"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"DB_MIN_CONNS" envDefault:"0"`
	// AutoMigrate applies pending migrations at startup.
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" envDefault:"false"`

	// /readyz returns 503 unless a database is configured and reachable.
	ReadinessRequireDB bool `env:"READINESS_REQUIRE_DB" envDefault:"false"`

	// Empty RedisURL keeps chat fanout local to this instance.
	RedisURL string `env:"REDIS_URL"`

	// RequireTokenHMAC refuses to start without TokenHMACKey (at least 32 bytes).
	RequireTokenHMAC bool   `env:"REQUIRE_TOKEN_HMAC" envDefault:"false"`
	TokenHMACKey     string `env:"TOKEN_HMAC_KEY"`

	CORSAllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173,http://127.0.0.1:5173"`
	CORSAllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS" envDefault:"true"`
	CORSMaxAgeSeconds    int      `env:"CORS_MAX_AGE_SECONDS" envDefault:"600"`

	// SweepSpec is the cron schedule of the expiry sweeper; "off" disables it.
	SweepSpec string `env:"SWEEP_SPEC" envDefault:"@every 10m"`

	Invite    invite.Config
	Passwords password.Config
	Session   session.Config         `envPrefix:"SESSION_"`
	Gateway   realtime.GatewayConfig `envPrefix:"WS_"`
	API       api.Config             `envPrefix:"API_"`
	SMTP      mail.SMTPConfig        `envPrefix:"SMTP_"`
	Mail      mail.DispatcherConfig  `envPrefix:"MAIL_"`
}

// LoadConfig reads SPOTLINE_* variables, applying defaults, and validates the result.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Check(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Check validates cross-field constraints and every nested section.
func (c Config) Check() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("config: empty http address")
	}
	if c.DBMinConns < 0 || (c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns) {
		return fmt.Errorf("config: db conns invalid: min=%d max=%d", c.DBMinConns, c.DBMaxConns)
	}
	checks := []struct {
		name  string
		check func() error
	}{
		{"invite", c.Invite.Check},
		{"passwords", c.Passwords.Check},
		{"session", c.Session.Check},
		{"ws", c.Gateway.Check},
		{"api", c.API.Check},
	}
	for _, ch := range checks {
		if err := ch.check(); err != nil {
			return fmt.Errorf("config %s: %w", ch.name, err)
		}
	}
	return nil
}

func (c Config) sweeperEnabled() bool {
	s := strings.ToLower(strings.TrimSpace(c.SweepSpec))
	return s != "" && s != "off"
}
