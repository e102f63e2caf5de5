// Package pgtest opens an isolated, migrated Postgres schema for integration tests.
//
// Tests using it run only when SPOTLINE_DATABASE_URL is set. Outside CI an
// unreachable server skips the test instead of failing it.
package pgtest

import (
	"context"
	"crypto/rand"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"spotline/cmd/internal/storage/migrations"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// EnvURL names the variable holding the integration database URL.
const EnvURL = "SPOTLINE_DATABASE_URL"

// DB is a migrated, throwaway schema.
type DB struct {
	Pool   *pgxpool.Pool
	Schema string
}

// Open connects, creates a fresh schema and applies all migrations.
// The schema is dropped and the pool closed when the test ends.
func Open(t *testing.T) DB {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv(EnvURL))
	if raw == "" {
		t.Skip("integration test skipped: " + EnvURL + " is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", EnvURL, err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()
	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if shouldSkip(err) {
			t.Skipf("integration test skipped: Postgres unreachable (%s set): %v", EnvURL, err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	schema := "spotline_it_" + strings.ToLower(NewID(t))
	t.Cleanup(func() {
		dropCtx, dropCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer dropCancel()
		_, _ = pool.Exec(dropCtx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
		pool.Close()
	})

	migCtx, migCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer migCancel()
	if err := migrations.Run(migCtx, raw, schema, migrations.Up); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return DB{Pool: pool, Schema: schema}
}

// SeedUser inserts a minimal user row and returns its id.
func (db DB) SeedUser(t *testing.T, pseudo string) string {
	t.Helper()

	id := NewID(t)
	email := strings.ToLower(id) + "@example.test"
	_, err := db.Pool.Exec(context.Background(),
		`INSERT INTO `+pgx.Identifier{db.Schema, "users"}.Sanitize()+`
		 (id, email, email_norm, pseudo, role, password_hash) VALUES ($1, $2, $2, $3, 'user', 'x')`,
		id, email, pseudo,
	)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return id
}

// NewID returns a fresh ULID string.
func NewID(t *testing.T) string {
	t.Helper()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), ulid.Monotonic(rand.Reader, 0)).String()
}

func shouldSkip(err error) bool {
	if err == nil || os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "context deadline exceeded", "timeout", "dial tcp", "no such host"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
