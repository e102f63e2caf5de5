package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over the sessions table. The pool is owned by the caller.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the DB schema used by the store (default: "spotline").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("session: invalid schema identifier %q", schema)
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "spotline"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("session: nil pool")
	}
	return st, nil
}

const sessionColumns = `id, user_id, token_hash, created_at, last_seen_at, expires_at, revoked_at,
	COALESCE(user_agent, ''), COALESCE(ip, '')`

// Create inserts a new session row.
func (s *PostgresStore) Create(ctx context.Context, row Row) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.ident()+` (id, user_id, token_hash, created_at, last_seen_at, expires_at, user_agent, ip)
		 VALUES ($1, $2, $3, $4, $4, $5, $6, $7)`,
		row.ID, row.UserID, row.TokenHash, row.CreatedAt, row.ExpiresAt, nullIfEmpty(row.UserAgent), nullIfEmpty(row.IP),
	)
	return err
}

// GetByTokenHash loads a session row by token hash.
func (s *PostgresStore) GetByTokenHash(ctx context.Context, tokenHash string) (Row, error) {
	row, err := scanRow(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM `+s.ident()+` WHERE token_hash = $1`, tokenHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	return row, err
}

// Touch updates last_seen_at for a session.
func (s *PostgresStore) Touch(ctx context.Context, sessionID string, now time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE `+s.ident()+` SET last_seen_at = $2 WHERE id = $1`, sessionID, now)
	return err
}

// Revoke revokes a single session (idempotent).
func (s *PostgresStore) Revoke(ctx context.Context, userID, sessionID string, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.ident()+`
		    SET revoked_at = COALESCE(revoked_at, $3)
		  WHERE id = $1 AND user_id = $2`,
		sessionID, userID, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// RevokeOthers revokes every other active session of the user.
func (s *PostgresStore) RevokeOthers(ctx context.Context, userID, keepID string, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.ident()+`
		    SET revoked_at = $3
		  WHERE user_id = $1 AND id <> $2 AND revoked_at IS NULL AND expires_at > $3`,
		userID, keepID, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ListActive returns the user's active sessions.
func (s *PostgresStore) ListActive(ctx context.Context, userID string, now time.Time) ([]Row, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM `+s.ident()+`
		  WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		  ORDER BY last_seen_at DESC`,
		userID, now)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (Row, error) { return scanRow(r) })
}

// PurgeExpired deletes dead sessions older than cutoff.
func (s *PostgresStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.ident()+` WHERE expires_at < $1 OR revoked_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ident() string {
	return pgx.Identifier{s.schema, "sessions"}.Sanitize()
}

func scanRow(r pgx.Row) (Row, error) {
	var row Row
	err := r.Scan(&row.ID, &row.UserID, &row.TokenHash, &row.CreatedAt, &row.LastSeenAt,
		&row.ExpiresAt, &row.RevokedAt, &row.UserAgent, &row.IP)
	return row, err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
