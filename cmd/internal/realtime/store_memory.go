package realtime

import (
	"context"
	"errors"
	"sync"
	"time"
)

const memMaxMessagesPerGroup = 10_000

// InMemoryStore is the MessageStore used when no database is configured.
type InMemoryStore struct {
	mu     sync.Mutex
	groups map[string]*memGroup
}

type memGroup struct {
	seq    int64
	dedupe map[string]StoredMessage // client_msg_id -> stored message
	msgs   []StoredMessage          // ordered by seq
}

// NewInMemoryStore constructs an in-memory MessageStore implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{groups: make(map[string]*memGroup)}
}

// AppendMessage persists a message with idempotency and monotonic sequence allocation.
func (s *InMemoryStore) AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.groups[in.GroupID]
	if g == nil {
		g = &memGroup{dedupe: make(map[string]StoredMessage)}
		s.groups[in.GroupID] = g
	}

	if in.ClientMsgID != "" {
		if existing, ok := g.dedupe[in.ClientMsgID]; ok {
			return AppendMessageResult{Stored: existing, Duplicated: true}, nil
		}
	}

	g.seq++
	msg := StoredMessage{
		ID:            in.ID,
		GroupID:       in.GroupID,
		UserID:        in.UserID,
		Seq:           g.seq,
		ClientMsgID:   in.ClientMsgID,
		Content:       in.Content,
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
		CreatedAt:     now,
	}
	if in.ClientMsgID != "" {
		g.dedupe[in.ClientMsgID] = msg
	}
	g.msgs = append(g.msgs, msg)

	if len(g.msgs) > memMaxMessagesPerGroup {
		dropped := g.msgs[:len(g.msgs)-memMaxMessagesPerGroup]
		for _, m := range dropped {
			delete(g.dedupe, m.ClientMsgID)
		}
		g.msgs = append([]StoredMessage(nil), g.msgs[len(dropped):]...)
	}

	return AppendMessageResult{Stored: msg}, nil
}

// FetchHistory returns a window of messages ordered by seq ASC.
func (s *InMemoryStore) FetchHistory(ctx context.Context, in FetchHistoryInput) (FetchHistoryResult, error) {
	if in.GroupID == "" {
		return FetchHistoryResult{}, errors.New("realtime: missing group id")
	}
	if err := ctx.Err(); err != nil {
		return FetchHistoryResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.groups[in.GroupID]
	if g == nil {
		return FetchHistoryResult{}, nil
	}
	total := len(g.msgs)
	if in.Offset >= total {
		return FetchHistoryResult{Total: total}, nil
	}
	end := in.Offset + in.Limit
	if end > total {
		end = total
	}
	out := append([]StoredMessage(nil), g.msgs[in.Offset:end]...)
	return FetchHistoryResult{Messages: out, Total: total}, nil
}

// PurgeGroup drops every message of the group.
func (s *InMemoryStore) PurgeGroup(ctx context.Context, groupID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.groups, groupID)
	s.mu.Unlock()
	return nil
}

// PurgeUser drops every message written by userID.
func (s *InMemoryStore) PurgeUser(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range s.groups {
		kept := g.msgs[:0]
		for _, m := range g.msgs {
			if m.UserID == userID {
				if m.ClientMsgID != "" {
					delete(g.dedupe, m.ClientMsgID)
				}
				continue
			}
			kept = append(kept, m)
		}
		clear(g.msgs[len(kept):])
		g.msgs = kept
	}
	return nil
}
