package identity

import (
	"context"
	"sync"
	"time"

	"spotline/cmd/internal/fault"
)

// MemoryStore is the in-process Store used when no database is configured, and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string

	settings map[string]Settings
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]User),
		byEmail:  make(map[string]string),
		settings: make(map[string]Settings),
	}
}

func (s *MemoryStore) Create(ctx context.Context, in CreateRecord) (User, error) {
	const op = "identity.Create"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if in.ID == "" || in.EmailNorm == "" {
		return User{}, fault.Invalid(op, "missing id or email")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[in.EmailNorm]; taken {
		return User{}, fault.Conflict(op, "email_taken", "email already registered")
	}
	u := User(in)
	s.byID[u.ID] = u
	s.byEmail[u.EmailNorm] = u.ID
	return u, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, fault.NotFound("identity.GetByID", "user")
	}
	return u, nil
}

func (s *MemoryStore) GetByEmail(ctx context.Context, emailNorm string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[emailNorm]
	if !ok {
		return User{}, fault.NotFound("identity.GetByEmail", "user")
	}
	return s.byID[id], nil
}

func (s *MemoryStore) UpdatePseudo(ctx context.Context, id, pseudo string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, fault.NotFound("identity.UpdatePseudo", "user")
	}
	u.Pseudo = pseudo
	s.byID[id] = u
	return u, nil
}

func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return fault.NotFound("identity.UpdatePasswordHash", "user")
	}
	u.PasswordHash = hash
	s.byID[id] = u
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return fault.NotFound("identity.Delete", "user")
	}
	delete(s.byID, id)
	delete(s.byEmail, u.EmailNorm)
	delete(s.settings, id)
	return nil
}

func (s *MemoryStore) GetSettings(ctx context.Context, id string) (Settings, error) {
	if err := ctx.Err(); err != nil {
		return Settings{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.byID[id]; !ok {
		return Settings{}, fault.NotFound("identity.GetSettings", "user")
	}
	if st, ok := s.settings[id]; ok {
		return st, nil
	}
	return DefaultSettings(), nil
}

func (s *MemoryStore) PatchSettings(ctx context.Context, id string, p SettingsPatch, now time.Time) (Settings, error) {
	if err := ctx.Err(); err != nil {
		return Settings{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return Settings{}, fault.NotFound("identity.PatchSettings", "user")
	}
	cur, ok := s.settings[id]
	if !ok {
		cur = DefaultSettings()
	}
	cur = p.apply(cur)
	cur.UpdatedAt = now
	s.settings[id] = cur
	return cur, nil
}
