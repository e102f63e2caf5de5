package session

import (
	"context"
	"time"
)

// Device describes the client that opened a session.
type Device struct {
	UserAgent string
	IP        string
}

// Row mirrors a sessions row.
type Row struct {
	ID         string
	UserID     string
	TokenHash  string
	CreatedAt  time.Time
	LastSeenAt time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	UserAgent  string
	IP         string
}

// Active reports whether the session can still authenticate requests at now.
func (r Row) Active(now time.Time) bool {
	return r.RevokedAt == nil && now.Before(r.ExpiresAt)
}

// Store abstracts persistence for session state.
type Store interface {
	// Create inserts a new session row.
	Create(ctx context.Context, row Row) error

	// GetByTokenHash loads a session by token hash.
	GetByTokenHash(ctx context.Context, tokenHash string) (Row, error)

	// Touch updates last_seen_at.
	Touch(ctx context.Context, sessionID string, now time.Time) error

	// Revoke revokes one session of userID (idempotent). Unknown ids yield ErrSessionNotFound.
	Revoke(ctx context.Context, userID, sessionID string, now time.Time) error

	// RevokeOthers revokes every active session of userID except keepID.
	RevokeOthers(ctx context.Context, userID, keepID string, now time.Time) (int, error)

	// ListActive returns the active sessions of userID, most recently seen first.
	ListActive(ctx context.Context, userID string, now time.Time) ([]Row, error)

	// PurgeExpired deletes sessions that expired or were revoked before cutoff.
	PurgeExpired(ctx context.Context, cutoff time.Time) (int, error)
}
