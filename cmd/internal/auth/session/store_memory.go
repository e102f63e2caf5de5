package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[string]Row
	byToken map[string]string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]Row), byToken: make(map[string]string)}
}

func (s *MemoryStore) Create(ctx context.Context, row Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[row.ID] = row
	s.byToken[row.TokenHash] = row.ID
	return nil
}

func (s *MemoryStore) GetByTokenHash(ctx context.Context, tokenHash string) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byToken[tokenHash]
	if !ok {
		return Row{}, ErrSessionNotFound
	}
	return s.byID[id], nil
}

func (s *MemoryStore) Touch(ctx context.Context, sessionID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.byID[sessionID]; ok {
		row.LastSeenAt = now
		s.byID[sessionID] = row
	}
	return nil
}

func (s *MemoryStore) Revoke(ctx context.Context, userID, sessionID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.byID[sessionID]
	if !ok || row.UserID != userID {
		return ErrSessionNotFound
	}
	if row.RevokedAt == nil {
		row.RevokedAt = &now
		s.byID[sessionID] = row
	}
	return nil
}

func (s *MemoryStore) RevokeOthers(ctx context.Context, userID, keepID string, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, row := range s.byID {
		if row.UserID != userID || id == keepID || !row.Active(now) {
			continue
		}
		row.RevokedAt = &now
		s.byID[id] = row
		n++
	}
	return n, nil
}

func (s *MemoryStore) ListActive(ctx context.Context, userID string, now time.Time) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Row
	for _, row := range s.byID {
		if row.UserID == userID && row.Active(now) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	return out, nil
}

func (s *MemoryStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, row := range s.byID {
		if row.ExpiresAt.Before(cutoff) || (row.RevokedAt != nil && row.RevokedAt.Before(cutoff)) {
			delete(s.byToken, row.TokenHash)
			delete(s.byID, id)
			n++
		}
	}
	return n, nil
}

// PurgeUser drops every session of a deleted account.
func (s *MemoryStore) PurgeUser(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, row := range s.byID {
		if row.UserID == userID {
			delete(s.byToken, row.TokenHash)
			delete(s.byID, id)
		}
	}
	return nil
}
