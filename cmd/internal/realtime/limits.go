package realtime

import "time"

const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 16 << 10

	// Message content bounds, in runes, after sanitizing.
	maxMessageChars = 2000

	// Max length of a client-chosen message id.
	maxClientMsgIDLen = 64

	// History paging.
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limit: burst events, refilled over window.
	rateLimitEvents = 20
	rateLimitWindow = 10 * time.Second
)
