package group

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"spotline/cmd/internal/fault"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists groups and memberships in PostgreSQL.
// The pool is owned by the caller.
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
			return fmt.Errorf("group: invalid schema identifier %q", schema)
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
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
		return nil, errors.New("group: nil pool")
	}
	return st, nil
}

const groupColumns = `id, name, description, creator_id, created_at, updated_at`

func (s *PostgresStore) CreateWithAdmin(ctx context.Context, g Group) (Group, error) {
	const op = "group.Create"
	if err := ctx.Err(); err != nil {
		return Group{}, err
	}
	if g.ID == "" || g.CreatorID == "" {
		return Group{}, fault.Invalid(op, "missing id or creator")
	}

	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+s.ident("groups")+` (`+groupColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
			g.ID, g.Name, g.Description, g.CreatorID, g.CreatedAt, g.UpdatedAt,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO `+s.ident("group_members")+` (user_id, group_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
			g.CreatorID, g.ID, string(RoleAdmin), g.CreatedAt,
		)
		return err
	})
	if err != nil {
		if pgIsForeignKeyViolation(err) {
			return Group{}, fault.NotFound(op, "user")
		}
		return Group{}, err
	}
	return g, nil
}

func (s *PostgresStore) Get(ctx context.Context, groupID string) (Group, error) {
	if err := ctx.Err(); err != nil {
		return Group{}, err
	}
	g, err := scanGroup(s.pool.QueryRow(ctx,
		`SELECT `+groupColumns+` FROM `+s.ident("groups")+` WHERE id = $1`, groupID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Group{}, fault.NotFound("group.Get", "group")
	}
	return g, err
}

func (s *PostgresStore) Update(ctx context.Context, g Group) (Group, error) {
	if err := ctx.Err(); err != nil {
		return Group{}, err
	}
	out, err := scanGroup(s.pool.QueryRow(ctx,
		`UPDATE `+s.ident("groups")+`
		    SET name = $2, description = $3, updated_at = $4
		  WHERE id = $1
		RETURNING `+groupColumns,
		g.ID, g.Name, g.Description, g.UpdatedAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Group{}, fault.NotFound("group.Update", "group")
	}
	return out, err
}

// Delete removes the group; memberships, invitations and messages go with it via ON DELETE CASCADE.
func (s *PostgresStore) Delete(ctx context.Context, groupID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.ident("groups")+` WHERE id = $1`, groupID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("group.Delete", "group")
	}
	return nil
}

func (s *PostgresStore) ListForUser(ctx context.Context, userID string) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	members := s.ident("group_members")
	rows, err := s.pool.Query(ctx,
		`SELECT g.id, g.name, g.description, g.creator_id, g.created_at, g.updated_at,
		        m.role,
		        (SELECT count(*) FROM `+members+` c WHERE c.group_id = g.id)
		   FROM `+s.ident("groups")+` g
		   JOIN `+members+` m ON m.group_id = g.id AND m.user_id = $1
		  ORDER BY g.created_at DESC, g.id DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Summary, error) {
		var (
			out  Summary
			role string
		)
		err := row.Scan(&out.ID, &out.Name, &out.Description, &out.CreatorID, &out.CreatedAt, &out.UpdatedAt,
			&role, &out.MemberCount)
		out.Role = Role(role)
		return out, err
	})
}

func (s *PostgresStore) Members(ctx context.Context, groupID string) ([]Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, groupID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT m.group_id, m.user_id, m.role, m.joined_at, u.pseudo
		   FROM `+s.ident("group_members")+` m
		   JOIN `+s.ident("users")+` u ON u.id = m.user_id
		  WHERE m.group_id = $1
		  ORDER BY m.joined_at, m.user_id`,
		groupID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Member, error) {
		var (
			m    Member
			role string
		)
		err := row.Scan(&m.GroupID, &m.UserID, &role, &m.JoinedAt, &m.Pseudo)
		m.Role = Role(role)
		return m, err
	})
}

func (s *PostgresStore) Membership(ctx context.Context, groupID, userID string) (Member, error) {
	if err := ctx.Err(); err != nil {
		return Member{}, err
	}
	m, err := scanMember(s.pool.QueryRow(ctx,
		`SELECT group_id, user_id, role, joined_at FROM `+s.ident("group_members")+`
		  WHERE group_id = $1 AND user_id = $2`,
		groupID, userID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Member{}, fault.NotFound("group.Membership", "membership")
	}
	return m, err
}

func (s *PostgresStore) AddMember(ctx context.Context, m Member) (Member, error) {
	const op = "group.AddMember"
	inserted, err := s.AddMemberIfAbsent(ctx, m)
	if err != nil {
		return Member{}, err
	}
	if !inserted {
		return Member{}, alreadyMember(op)
	}
	return m, nil
}

func (s *PostgresStore) AddMemberIfAbsent(ctx context.Context, m Member) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.ident("group_members")+` (user_id, group_id, role, joined_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, group_id) DO NOTHING`,
		m.UserID, m.GroupID, string(m.Role), m.JoinedAt,
	)
	if err != nil {
		if pgIsForeignKeyViolation(err) {
			return false, fault.NotFound("group.AddMember", "group or user")
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ChangeRole(ctx context.Context, groupID, userID string, role Role) (Member, error) {
	var out Member
	err := s.withGroupLock(ctx, groupID, func(tx pgx.Tx) error {
		cur, admins, err := s.memberAndAdmins(ctx, tx, groupID, userID, "group.ChangeRole")
		if err != nil {
			return err
		}
		if err := checkLastAdmin(cur.Role, role, admins); err != nil {
			return err
		}
		out, err = scanMember(tx.QueryRow(ctx,
			`UPDATE `+s.ident("group_members")+` SET role = $3
			  WHERE group_id = $1 AND user_id = $2
			RETURNING group_id, user_id, role, joined_at`,
			groupID, userID, string(role),
		))
		return err
	})
	return out, err
}

func (s *PostgresStore) RemoveMember(ctx context.Context, groupID, userID string) error {
	return s.withGroupLock(ctx, groupID, func(tx pgx.Tx) error {
		cur, admins, err := s.memberAndAdmins(ctx, tx, groupID, userID, "group.RemoveMember")
		if err != nil {
			return err
		}
		if err := checkLastAdmin(cur.Role, "", admins); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`DELETE FROM `+s.ident("group_members")+` WHERE group_id = $1 AND user_id = $2`,
			groupID, userID,
		)
		return err
	})
}

func (s *PostgresStore) DetachUser(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	groups, members := s.ident("groups"), s.ident("group_members")

	var deleted []string
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT g.id FROM `+groups+` g
			  WHERE g.creator_id = $1
			     OR EXISTS (SELECT 1 FROM `+members+` m WHERE m.group_id = g.id AND m.user_id = $1)
			  ORDER BY g.id
			    FOR UPDATE`,
			userID,
		)
		if err != nil {
			return err
		}
		locked, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil || len(locked) == 0 {
			return err
		}

		rows, err = tx.Query(ctx,
			`SELECT group_id,
			        count(*),
			        count(*) FILTER (WHERE role = 'admin'),
			        bool_or(user_id = $1),
			        bool_or(user_id = $1 AND role = 'admin')
			   FROM `+members+`
			  WHERE group_id = ANY($2)
			  GROUP BY group_id
			  ORDER BY group_id`,
			userID, locked,
		)
		if err != nil {
			return err
		}
		plans, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (detachPlan, error) {
			var p detachPlan
			err := row.Scan(&p.groupID, &p.members, &p.admins, &p.isMember, &p.isAdmin)
			return p, err
		})
		if err != nil {
			return err
		}
		for _, p := range plans {
			drop, err := p.deletes()
			if err != nil {
				return err
			}
			if drop {
				deleted = append(deleted, p.groupID)
			}
		}

		if len(deleted) > 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM `+groups+` WHERE id = ANY($1)`, deleted); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM `+members+` WHERE user_id = $1`, userID); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE `+groups+` g
			    SET creator_id = (
			          SELECT m.user_id FROM `+members+` m
			           WHERE m.group_id = g.id
			           ORDER BY (m.role = 'admin') DESC, m.joined_at, m.user_id
			           LIMIT 1)
			  WHERE g.creator_id = $1`,
			userID,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// withGroupLock runs fn in a transaction holding the group row lock, which serializes
// membership mutations of one group.
func (s *PostgresStore) withGroupLock(ctx context.Context, groupID string, fn func(pgx.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx, `SELECT id FROM `+s.ident("groups")+` WHERE id = $1 FOR UPDATE`, groupID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return fault.NotFound("group.lock", "group")
		}
		if err != nil {
			return err
		}
		return fn(tx)
	})
}

func (s *PostgresStore) memberAndAdmins(ctx context.Context, tx pgx.Tx, groupID, userID, op string) (Member, int, error) {
	members := s.ident("group_members")
	cur, err := scanMember(tx.QueryRow(ctx,
		`SELECT group_id, user_id, role, joined_at FROM `+members+` WHERE group_id = $1 AND user_id = $2`,
		groupID, userID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Member{}, 0, fault.NotFound(op, "membership")
	}
	if err != nil {
		return Member{}, 0, err
	}
	var admins int
	if err := tx.QueryRow(ctx,
		`SELECT count(*) FROM `+members+` WHERE group_id = $1 AND role = 'admin'`, groupID,
	).Scan(&admins); err != nil {
		return Member{}, 0, err
	}
	return cur, admins, nil
}

func (s *PostgresStore) ident(table string) string {
	return pgx.Identifier{s.schema, table}.Sanitize()
}

func scanGroup(row pgx.Row) (Group, error) {
	var g Group
	err := row.Scan(&g.ID, &g.Name, &g.Description, &g.CreatorID, &g.CreatedAt, &g.UpdatedAt)
	return g, err
}

func scanMember(row pgx.Row) (Member, error) {
	var (
		m    Member
		role string
	)
	err := row.Scan(&m.GroupID, &m.UserID, &role, &m.JoinedAt)
	m.Role = Role(role)
	return m, err
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
