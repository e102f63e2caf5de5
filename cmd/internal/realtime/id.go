package realtime

import (
	"time"

	"spotline/cmd/identity/ids"
)

// NewConnID returns a ULID identifying one websocket connection.
func NewConnID(now time.Time) (string, error) {
	return ids.New(now)
}

// NewEnvelopeID returns a ULID used as envelope id.
func NewEnvelopeID(now time.Time) string {
	id, err := ids.New(now)
	if err != nil {
		return ""
	}
	return id
}

// NewMessageID returns a ULID used as message id.
func NewMessageID(now time.Time) (string, error) {
	return ids.New(now)
}
