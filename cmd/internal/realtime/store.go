package realtime

import (
	"context"
	"time"
)

// StoredMessage is the canonical persisted message representation.
type StoredMessage struct {
	ID            string
	GroupID       string
	UserID        string
	Seq           int64
	ClientMsgID   string
	Content       string
	ReferenceType *string
	ReferenceID   *string
	CreatedAt     time.Time
}

// MessageStore persists and queries group messages.
//
// Requirements:
//   - Idempotency per (group_id, client_msg_id) when a client id is given
//   - Monotonic seq per group, no gaps for duplicates
//   - History ordered by seq ASC
type MessageStore interface {
	AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error)
	FetchHistory(ctx context.Context, in FetchHistoryInput) (FetchHistoryResult, error)
	PurgeGroup(ctx context.Context, groupID string) error
}

// AppendMessageInput describes a message append request.
type AppendMessageInput struct {
	ID            string
	GroupID       string
	UserID        string
	ClientMsgID   string
	Content       string
	ReferenceType *string
	ReferenceID   *string
	Now           time.Time
}

// AppendMessageResult is the append operation result.
type AppendMessageResult struct {
	Stored     StoredMessage
	Duplicated bool
}

// FetchHistoryInput describes an offset-paged history query.
type FetchHistoryInput struct {
	GroupID string
	Limit   int
	Offset  int
}

// FetchHistoryResult contains the retrieved window and the group's message count.
type FetchHistoryResult struct {
	Messages []StoredMessage
	Total    int
}
