package invite

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

// PostgresStore persists invitations in PostgreSQL. Acceptances write group_members in
// the same transaction. The pool is owned by the caller.
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
			return fmt.Errorf("invite: invalid schema identifier %q", schema)
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
		return nil, errors.New("invite: nil pool")
	}
	return st, nil
}

const invitationColumns = `id, group_id, inviter_id, invitee_user_id, invitee_email, token_hash,
	expires_at, max_uses, used_count, status, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, inv Invitation) (Invitation, error) {
	const op = "invite.Create"
	if err := ctx.Err(); err != nil {
		return Invitation{}, err
	}
	if err := validateRecord(op, inv); err != nil {
		return Invitation{}, err
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.ident("invitations")+` (`+invitationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		inv.ID, inv.GroupID, inv.InviterID, inv.InviteeUserID, inv.InviteeEmail, inv.TokenHash,
		inv.ExpiresAt, inv.MaxUses, inv.UsedCount, string(inv.Status), inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		switch pgErrCode(err) {
		case "23505":
			return Invitation{}, fault.Conflict(op, "token_collision", "invitation already exists")
		case "23503":
			return Invitation{}, fault.NotFound(op, "group or user")
		}
		return Invitation{}, err
	}
	return inv, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Invitation, error) {
	return s.getOne(ctx, s.pool, "invite.Get", "id", id, false)
}

func (s *PostgresStore) GetByTokenHash(ctx context.Context, tokenHash string) (Invitation, error) {
	return s.getOne(ctx, s.pool, "invite.GetByTokenHash", "token_hash", tokenHash, false)
}

func (s *PostgresStore) AcceptLink(ctx context.Context, tokenHash, userID string, now time.Time) (Invitation, bool, error) {
	const op = "invite.AcceptLink"
	var (
		out     Invitation
		already bool
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		inv, err := s.getOne(ctx, tx, op, "token_hash", tokenHash, true)
		if err != nil {
			return err
		}
		if err := checkLinkAccept(op, inv, now); err != nil {
			return err
		}
		added, err := s.addMember(ctx, tx, inv.GroupID, userID, now)
		if err != nil {
			return err
		}
		if !added {
			out, already = inv, true
			return nil
		}

		// The row lock already serializes acceptances; the predicate keeps the quota
		// invariant even for writers that skip the lock.
		out, err = scanInvitation(tx.QueryRow(ctx,
			`UPDATE `+s.ident("invitations")+`
			    SET used_count = used_count + 1,
			        status = CASE WHEN used_count + 1 >= max_uses THEN 'ACCEPTED' ELSE status END,
			        updated_at = $2
			  WHERE id = $1
			    AND status = 'PENDING'
			    AND used_count < max_uses
			RETURNING `+invitationColumns,
			inv.ID, now,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			return fault.Conflict(op, CodeQuotaReached, "this invitation link has no uses left")
		}
		return err
	})
	if err != nil {
		return Invitation{}, false, err
	}
	return out, already, nil
}

func (s *PostgresStore) DeclineLink(ctx context.Context, tokenHash string, now time.Time) (Invitation, error) {
	const op = "invite.DeclineLink"
	var out Invitation
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		inv, err := s.getOne(ctx, tx, op, "token_hash", tokenHash, true)
		if err != nil {
			return err
		}
		if err := checkLinkActive(op, inv, now); err != nil {
			return err
		}
		out, err = s.setStatus(ctx, tx, inv.ID, StatusDeclined, now)
		return err
	})
	return out, err
}

func (s *PostgresStore) ActDirect(ctx context.Context, id, userID string, action Action, now time.Time) (Invitation, error) {
	const op = "invite.ActDirect"
	var out Invitation
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		inv, err := s.getOne(ctx, tx, op, "id", id, true)
		if err != nil {
			return err
		}
		noop, err := checkDirectAct(op, inv, userID, action)
		if err != nil {
			return err
		}
		if noop {
			out = inv
			return nil
		}
		next := StatusDeclined
		if action == ActionAccept {
			if _, err := s.addMember(ctx, tx, inv.GroupID, userID, now); err != nil {
				return err
			}
			next = StatusAccepted
		}
		out, err = s.setStatus(ctx, tx, inv.ID, next, now)
		return err
	})
	return out, err
}

func (s *PostgresStore) Revoke(ctx context.Context, groupID, id string, now time.Time) (Invitation, error) {
	const op = "invite.Revoke"
	var out Invitation
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		inv, err := s.getOne(ctx, tx, op, "id", id, true)
		if err != nil {
			return err
		}
		noop, err := checkRevoke(op, inv, groupID)
		if err != nil {
			return err
		}
		if noop {
			out = inv
			return nil
		}
		out, err = s.setStatus(ctx, tx, inv.ID, StatusRevoked, now)
		return err
	})
	return out, err
}

func (s *PostgresStore) ListForInvitee(ctx context.Context, userID string) ([]Invitation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+invitationColumns+` FROM `+s.ident("invitations")+`
		  WHERE invitee_user_id = $1
		  ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Invitation, error) { return scanInvitation(row) })
}

func (s *PostgresStore) ListActiveForGroup(ctx context.Context, groupID string, now time.Time) ([]Invitation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+invitationColumns+` FROM `+s.ident("invitations")+`
		  WHERE group_id = $1
		    AND status = 'PENDING'
		    AND (token_hash IS NULL OR (expires_at > $2 AND used_count < max_uses))
		  ORDER BY created_at DESC, id DESC`,
		groupID, now,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Invitation, error) { return scanInvitation(row) })
}

func (s *PostgresStore) LinkEmail(ctx context.Context, userID, emailNorm string, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.ident("invitations")+`
		    SET invitee_user_id = $1, updated_at = $3
		  WHERE invitee_email = $2
		    AND invitee_user_id IS NULL
		    AND status = 'PENDING'`,
		userID, emailNorm, now,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ExpireLinks(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.ident("invitations")+`
		    SET status = 'EXPIRED', updated_at = $1
		  WHERE status = 'PENDING'
		    AND token_hash IS NOT NULL
		    AND expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) getOne(ctx context.Context, q querier, op, column, value string, forUpdate bool) (Invitation, error) {
	if err := ctx.Err(); err != nil {
		return Invitation{}, err
	}
	if strings.TrimSpace(value) == "" {
		return Invitation{}, fault.Invalid(op, "missing "+column)
	}
	sql := `SELECT ` + invitationColumns + ` FROM ` + s.ident("invitations") +
		` WHERE ` + pgx.Identifier{column}.Sanitize() + ` = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	inv, err := scanInvitation(q.QueryRow(ctx, sql, value))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invitation{}, fault.NotFound(op, "invitation")
	}
	return inv, err
}

func (s *PostgresStore) setStatus(ctx context.Context, tx pgx.Tx, id string, status Status, now time.Time) (Invitation, error) {
	return scanInvitation(tx.QueryRow(ctx,
		`UPDATE `+s.ident("invitations")+` SET status = $2, updated_at = $3 WHERE id = $1
		RETURNING `+invitationColumns,
		id, string(status), now,
	))
}

func (s *PostgresStore) addMember(ctx context.Context, tx pgx.Tx, groupID, userID string, now time.Time) (bool, error) {
	tag, err := tx.Exec(ctx,
		`INSERT INTO `+s.ident("group_members")+` (user_id, group_id, role, joined_at)
		 VALUES ($1, $2, 'member', $3)
		 ON CONFLICT (user_id, group_id) DO NOTHING`,
		userID, groupID, now,
	)
	if err != nil {
		if pgErrCode(err) == "23503" {
			return false, fault.NotFound("invite.addMember", "user")
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, fn)
}

func (s *PostgresStore) ident(table string) string {
	return pgx.Identifier{s.schema, table}.Sanitize()
}

func scanInvitation(row pgx.Row) (Invitation, error) {
	var (
		inv    Invitation
		status string
	)
	err := row.Scan(
		&inv.ID,
		&inv.GroupID,
		&inv.InviterID,
		&inv.InviteeUserID,
		&inv.InviteeEmail,
		&inv.TokenHash,
		&inv.ExpiresAt,
		&inv.MaxUses,
		&inv.UsedCount,
		&status,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	inv.Status = Status(status)
	return inv, err
}

func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
