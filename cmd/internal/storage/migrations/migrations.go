// Package migrations applies the embedded Postgres schema using golang-migrate.
package migrations

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
)

//go:embed sql/*.sql
var files embed.FS

// Direction is the migration direction.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

var schemaRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Run applies migrations inside schema. The schema is created first when missing.
// Already being at the target version is not an error.
func Run(ctx context.Context, dsn, schema string, dir Direction) error {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return errors.New("migrations: database url is not set")
	}
	if !schemaRe.MatchString(schema) {
		return fmt.Errorf("migrations: invalid schema identifier %q", schema)
	}
	if dir != Up && dir != Down {
		return fmt.Errorf("migrations: direction must be up or down, got %q", dir)
	}

	if err := ensureSchema(ctx, dsn, schema); err != nil {
		return err
	}

	scoped, err := withSearchPath(dsn, schema)
	if err != nil {
		return err
	}

	src, err := iofs.New(files, "sql")
	if err != nil {
		return fmt.Errorf("migrations: source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, scoped)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	switch dir {
	case Up:
		err = m.Up()
	case Down:
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: %s: %w", dir, err)
	}
	return nil
}

func ensureSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("migrations: connect: %w", err)
	}
	defer func() { _ = conn.Close(context.Background()) }()

	if _, err := conn.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schema}.Sanitize()); err != nil {
		return fmt.Errorf("migrations: create schema: %w", err)
	}
	return nil
}

// withSearchPath pins the migration connection (and its version table) to schema.
func withSearchPath(dsn, schema string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return "", errors.New("migrations: database url must be in URL form (postgres://...)")
	}
	q := u.Query()
	q.Set("search_path", schema)
	q.Set("x-migrations-table", "schema_migrations")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
