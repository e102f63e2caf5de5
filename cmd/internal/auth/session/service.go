package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"spotline/cmd/identity"
	"spotline/cmd/identity/ids"
	"spotline/cmd/internal/fault"
	"spotline/cmd/security/token"

	"github.com/gorilla/securecookie"
	"go.uber.org/zap"
)

// Users loads the account behind a session.
type Users interface {
	GetByID(ctx context.Context, id string) (identity.User, error)
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID    string
	SessionID string
	Email     string
	Pseudo    string
	Role      identity.Role
}

// Issued is a freshly opened session. Token is the only copy of the plaintext token.
type Issued struct {
	SessionID string
	Token     string
	ExpiresAt time.Time
}

// Service issues, resolves and revokes sessions.
type Service struct {
	cfg    Config
	store  Store
	users  Users
	tokens token.Hasher
	codec  *securecookie.SecureCookie
	log    *zap.Logger
}

// Option configures the Service.
type Option func(*Service) error

// WithConfig overrides the session configuration.
func WithConfig(cfg Config) Option {
	return func(s *Service) error {
		if err := cfg.Check(); err != nil {
			return err
		}
		s.cfg = cfg
		return nil
	}
}

// WithTokenHasher sets how session tokens are hashed at rest (default: SHA-256).
func WithTokenHasher(h token.Hasher) Option {
	return func(s *Service) error {
		s.tokens = h
		return nil
	}
}

// WithLogger sets the logger (default: no-op).
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// NewService constructs a Service.
func NewService(store Store, users Users, opts ...Option) (*Service, error) {
	if store == nil || users == nil {
		return nil, fault.Invalid("session.NewService", "store and users are required")
	}
	s := &Service{store: store, users: users, cfg: DefaultConfig(), log: zap.NewNop()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	hashKey := []byte(s.cfg.HashKey)
	if len(hashKey) == 0 {
		hashKey = securecookie.GenerateRandomKey(32)
		s.log.Warn("session.cookie.ephemeral_key", zap.String("hint", "set SPOTLINE_SESSION_COOKIE_HASH_KEY"))
	}
	var blockKey []byte
	if s.cfg.BlockKey != "" {
		blockKey = []byte(s.cfg.BlockKey)
	}
	s.codec = securecookie.New(hashKey, blockKey).MaxAge(int(s.cfg.TTL / time.Second))
	return s, nil
}

// Issue opens a session for userID.
func (s *Service) Issue(ctx context.Context, userID string, dev Device, now time.Time) (Issued, error) {
	if err := ctx.Err(); err != nil {
		return Issued{}, err
	}
	if strings.TrimSpace(userID) == "" {
		return Issued{}, fault.Invalid("session.Issue", "missing user id")
	}
	now = nowOr(now)

	plain, err := token.NewOpaque(s.cfg.TokenBytes)
	if err != nil {
		return Issued{}, err
	}
	id, err := ids.New(now)
	if err != nil {
		return Issued{}, err
	}
	row := Row{
		ID:         id,
		UserID:     userID,
		TokenHash:  s.tokens.Hash(plain),
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(s.cfg.TTL),
		UserAgent:  truncate(dev.UserAgent, 512),
		IP:         truncate(dev.IP, 64),
	}
	if err := s.store.Create(ctx, row); err != nil {
		return Issued{}, err
	}
	return Issued{SessionID: id, Token: plain, ExpiresAt: row.ExpiresAt}, nil
}

// Resolve maps a plaintext token to its principal. The account is reloaded on every call so
// pseudo and role changes apply immediately.
func (s *Service) Resolve(ctx context.Context, tok string, now time.Time) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	tok = strings.TrimSpace(tok)
	if tok == "" || len(tok) > 512 {
		return Principal{}, ErrSessionNotFound
	}
	now = nowOr(now)

	row, err := s.store.GetByTokenHash(ctx, s.tokens.Hash(tok))
	if err != nil {
		return Principal{}, err
	}
	if row.RevokedAt != nil {
		return Principal{}, ErrSessionRevoked
	}
	if !now.Before(row.ExpiresAt) {
		return Principal{}, ErrSessionExpired
	}

	u, err := s.users.GetByID(ctx, row.UserID)
	if err != nil {
		if fault.Is(err, fault.ErrNotFound) {
			return Principal{}, ErrSessionNotFound
		}
		return Principal{}, err
	}

	if now.Sub(row.LastSeenAt) >= s.cfg.TouchInterval {
		if err := s.store.Touch(ctx, row.ID, now); err != nil {
			s.log.Warn("session.touch.fail", zap.String("session_id", row.ID), zap.Error(err))
		}
	}

	return Principal{
		UserID:    u.ID,
		SessionID: row.ID,
		Email:     u.Email,
		Pseudo:    u.Pseudo,
		Role:      u.Role,
	}, nil
}

// Revoke closes the caller's own session (logout).
func (s *Service) Revoke(ctx context.Context, p Principal, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.store.Revoke(ctx, p.UserID, p.SessionID, nowOr(now))
}

// List returns the caller's active sessions.
func (s *Service) List(ctx context.Context, userID string, now time.Time) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.ListActive(ctx, userID, nowOr(now))
}

// RevokeForUser closes another session of the caller. The current one must use logout.
func (s *Service) RevokeForUser(ctx context.Context, p Principal, sessionID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sessionID == p.SessionID {
		return ErrCurrentSession
	}
	err := s.store.Revoke(ctx, p.UserID, sessionID, nowOr(now))
	if errors.Is(err, ErrSessionNotFound) {
		return fault.NotFound("session.RevokeForUser", "session")
	}
	return err
}

// RevokeOthers closes every session of the caller except the current one.
func (s *Service) RevokeOthers(ctx context.Context, p Principal, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.store.RevokeOthers(ctx, p.UserID, p.SessionID, nowOr(now))
}

// PurgeExpired deletes sessions that ended before now.
func (s *Service) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	return s.store.PurgeExpired(ctx, nowOr(now))
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n]
	}
	return s
}
