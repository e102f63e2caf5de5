package session

import (
	"errors"

	"spotline/cmd/internal/fault"
)

var (
	// ErrSessionNotFound is returned when a token does not match any session.
	ErrSessionNotFound = fault.E("session.Resolve", fault.ErrUnauthenticated, "session_not_found", "not authenticated")

	// ErrSessionExpired is returned when the session is past its expiry.
	ErrSessionExpired = fault.E("session.Resolve", fault.ErrUnauthenticated, "session_expired", "session expired")

	// ErrSessionRevoked is returned when the session was logged out.
	ErrSessionRevoked = fault.E("session.Resolve", fault.ErrUnauthenticated, "session_revoked", "session revoked")

	// ErrCurrentSession is returned when a user tries to close the session they are using.
	ErrCurrentSession = fault.E("session.RevokeForUser", fault.ErrInvalidInput, "current_session", "use logout to close the current session")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid session config")
)
