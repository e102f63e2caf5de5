package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"spotline/cmd/internal/fault"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements account persistence over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Schema/table identifiers are safely quoted.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the identity store (default "spotline").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
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
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const userColumns = `id, email, email_norm, pseudo, role, password_hash, created_at`

// Create inserts a user row.
func (s *PostgresStore) Create(ctx context.Context, in CreateRecord) (User, error) {
	const op = "identity.Create"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if in.ID == "" || in.EmailNorm == "" || in.PasswordHash == "" {
		return User{}, fault.Invalid(op, "missing id, email or password hash")
	}

	users := pgIdent(s.schema, "users")
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+users+` (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		in.ID, in.Email, in.EmailNorm, in.Pseudo, string(in.Role), in.PasswordHash, in.CreatedAt,
	)
	if err != nil {
		if pgIsUniqueViolation(err) {
			return User{}, fault.Conflict(op, "email_taken", "email already registered")
		}
		return User{}, err
	}
	return User(in), nil
}

// GetByID loads a user by id.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (User, error) {
	return s.getOne(ctx, "identity.GetByID", "id", id)
}

// GetByEmail loads a user by normalized email.
func (s *PostgresStore) GetByEmail(ctx context.Context, emailNorm string) (User, error) {
	return s.getOne(ctx, "identity.GetByEmail", "email_norm", emailNorm)
}

func (s *PostgresStore) getOne(ctx context.Context, op, column, value string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(value) == "" {
		return User{}, fault.Invalid(op, "missing "+column)
	}

	users := pgIdent(s.schema, "users")
	var (
		u    User
		role string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+users+` WHERE `+pgx.Identifier{column}.Sanitize()+` = $1`,
		value,
	).Scan(&u.ID, &u.Email, &u.EmailNorm, &u.Pseudo, &role, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, fault.NotFound(op, "user")
		}
		return User{}, err
	}
	u.Role = Role(role)
	return u, nil
}

// UpdatePseudo sets the display name and returns the updated row.
func (s *PostgresStore) UpdatePseudo(ctx context.Context, id, pseudo string) (User, error) {
	const op = "identity.UpdatePseudo"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	users := pgIdent(s.schema, "users")
	var (
		u    User
		role string
	)
	err := s.pool.QueryRow(ctx,
		`UPDATE `+users+` SET pseudo = $2 WHERE id = $1 RETURNING `+userColumns,
		id, pseudo,
	).Scan(&u.ID, &u.Email, &u.EmailNorm, &u.Pseudo, &role, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, fault.NotFound(op, "user")
		}
		return User{}, err
	}
	u.Role = Role(role)
	return u, nil
}

// UpdatePasswordHash replaces the stored password hash.
func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	const op = "identity.UpdatePasswordHash"
	if err := ctx.Err(); err != nil {
		return err
	}
	if hash == "" {
		return fault.Invalid(op, "missing password hash")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+pgIdent(s.schema, "users")+` SET password_hash = $2 WHERE id = $1`,
		id, hash,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound(op, "user")
	}
	return nil
}

// Delete removes the user row. Sessions, invitations, messages and settings go with it
// through ON DELETE CASCADE.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	const op = "identity.Delete"
	if err := ctx.Err(); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM `+pgIdent(s.schema, "users")+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound(op, "user")
	}
	return nil
}

// GetSettings loads the saved settings, or the defaults when none were saved.
func (s *PostgresStore) GetSettings(ctx context.Context, id string) (Settings, error) {
	const op = "identity.GetSettings"
	if err := ctx.Err(); err != nil {
		return Settings{}, err
	}

	var (
		st    Settings
		saved bool
	)
	err := s.pool.QueryRow(ctx,
		`SELECT us.user_id IS NOT NULL,
		        COALESCE(us.dark_mode, false),
		        COALESCE(us.map_tile, $2),
		        COALESCE(us.notifications, true),
		        COALESCE(us.updated_at, u.created_at)
		   FROM `+pgIdent(s.schema, "users")+` u
		   LEFT JOIN `+pgIdent(s.schema, "user_settings")+` us ON us.user_id = u.id
		  WHERE u.id = $1`,
		id, DefaultMapTile,
	).Scan(&saved, &st.DarkMode, &st.MapTile, &st.Notifications, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Settings{}, fault.NotFound(op, "user")
		}
		return Settings{}, err
	}
	if !saved {
		st.UpdatedAt = time.Time{}
	}
	return st, nil
}

// PatchSettings upserts the settings row; nil patch fields keep the stored value.
func (s *PostgresStore) PatchSettings(ctx context.Context, id string, p SettingsPatch, now time.Time) (Settings, error) {
	const op = "identity.PatchSettings"
	if err := ctx.Err(); err != nil {
		return Settings{}, err
	}

	settings := pgIdent(s.schema, "user_settings")
	var st Settings
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+settings+` AS us (user_id, dark_mode, map_tile, notifications, updated_at)
		 VALUES ($1, COALESCE($2, false), COALESCE($3, $6), COALESCE($4, true), $5)
		 ON CONFLICT (user_id) DO UPDATE SET
		   dark_mode     = COALESCE($2, us.dark_mode),
		   map_tile      = COALESCE($3, us.map_tile),
		   notifications = COALESCE($4, us.notifications),
		   updated_at    = $5
		 RETURNING dark_mode, map_tile, notifications, updated_at`,
		id, p.DarkMode, p.MapTile, p.Notifications, now, DefaultMapTile,
	).Scan(&st.DarkMode, &st.MapTile, &st.Notifications, &st.UpdatedAt)
	if err != nil {
		if pgIsForeignKeyViolation(err) {
			return Settings{}, fault.NotFound(op, "user")
		}
		return Settings{}, err
	}
	return st, nil
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
