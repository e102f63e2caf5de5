package realtime

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

// PostgresStore is a MessageStore backed by PostgreSQL.
//
// The pool is owned by the caller. Appends take a per-group transactional advisory lock,
// which keeps seq gap-free and strictly increasing under concurrency.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "spotline").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !isValidPGIdent(schema) {
			return fmt.Errorf("realtime: invalid schema identifier %q", schema)
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed MessageStore.
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
		return nil, errors.New("realtime: nil pool")
	}
	return st, nil
}

const messageColumns = `id, group_id, user_id, seq, COALESCE(client_msg_id, ''), content,
	reference_type, reference_id, created_at`

// AppendMessage appends a message with idempotency and monotonic sequence allocation.
func (s *PostgresStore) AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
	if in.ID == "" || in.GroupID == "" || in.UserID == "" {
		return AppendMessageResult{}, errors.New("realtime: invalid append input")
	}
	if err := ctx.Err(); err != nil {
		return AppendMessageResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	messages := pgIdent(s.schema, "messages")

	var out AppendMessageResult
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "spotline.chat:"+in.GroupID); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}

		if in.ClientMsgID != "" {
			existing, err := scanMessage(tx.QueryRow(ctx,
				`SELECT `+messageColumns+` FROM `+messages+` WHERE group_id = $1 AND client_msg_id = $2`,
				in.GroupID, in.ClientMsgID,
			))
			if err == nil {
				out = AppendMessageResult{Stored: existing, Duplicated: true}
				return nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
		}

		stored, err := scanMessage(tx.QueryRow(ctx,
			`INSERT INTO `+messages+` (id, group_id, user_id, seq, client_msg_id, content, reference_type, reference_id, created_at)
			 SELECT $1::text, $2::text, $3::text, COALESCE(MAX(seq), 0) + 1, $4::text, $5::text, $6::text, $7::text, $8::timestamptz
			   FROM `+messages+` WHERE group_id = $2::text
			 RETURNING `+messageColumns,
			in.ID, in.GroupID, in.UserID, nullIfEmpty(in.ClientMsgID), in.Content, in.ReferenceType, in.ReferenceID, now,
		))
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		out = AppendMessageResult{Stored: stored}
		return nil
	})
	if err != nil {
		return AppendMessageResult{}, err
	}
	return out, nil
}

// FetchHistory returns a window of messages ordered by seq ASC, and the group total.
func (s *PostgresStore) FetchHistory(ctx context.Context, in FetchHistoryInput) (FetchHistoryResult, error) {
	if in.GroupID == "" {
		return FetchHistoryResult{}, errors.New("realtime: missing group id")
	}
	if err := ctx.Err(); err != nil {
		return FetchHistoryResult{}, err
	}
	messages := pgIdent(s.schema, "messages")

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+messages+` WHERE group_id = $1`, in.GroupID,
	).Scan(&total); err != nil {
		return FetchHistoryResult{}, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM `+messages+`
		  WHERE group_id = $1
		  ORDER BY seq ASC
		  LIMIT $2 OFFSET $3`,
		in.GroupID, in.Limit, in.Offset,
	)
	if err != nil {
		return FetchHistoryResult{}, err
	}
	msgs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (StoredMessage, error) { return scanMessage(r) })
	if err != nil {
		return FetchHistoryResult{}, err
	}
	return FetchHistoryResult{Messages: msgs, Total: total}, nil
}

// PurgeGroup deletes the group's messages. Deleting the group cascades too; this covers
// stores that outlive the group row.
func (s *PostgresStore) PurgeGroup(ctx context.Context, groupID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+pgIdent(s.schema, "messages")+` WHERE group_id = $1`, groupID)
	return err
}

func scanMessage(row pgx.Row) (StoredMessage, error) {
	var m StoredMessage
	err := row.Scan(&m.ID, &m.GroupID, &m.UserID, &m.Seq, &m.ClientMsgID, &m.Content,
		&m.ReferenceType, &m.ReferenceID, &m.CreatedAt)
	return m, err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
