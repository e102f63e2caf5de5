package group

import (
	"context"
	"sort"
	"sync"

	"spotline/cmd/internal/fault"
)

// MemoryStore is the in-process Store used when no database is configured, and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	groups  map[string]Group
	members map[string]map[string]Member // group id -> user id -> member
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		groups:  make(map[string]Group),
		members: make(map[string]map[string]Member),
	}
}

func (s *MemoryStore) CreateWithAdmin(ctx context.Context, g Group) (Group, error) {
	const op = "group.Create"
	if err := ctx.Err(); err != nil {
		return Group{}, err
	}
	if g.ID == "" || g.CreatorID == "" {
		return Group{}, fault.Invalid(op, "missing id or creator")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.groups[g.ID]; exists {
		return Group{}, fault.Conflict(op, "group_exists", "group already exists")
	}
	s.groups[g.ID] = g
	s.members[g.ID] = map[string]Member{
		g.CreatorID: {GroupID: g.ID, UserID: g.CreatorID, Role: RoleAdmin, JoinedAt: g.CreatedAt},
	}
	return g, nil
}

func (s *MemoryStore) Get(ctx context.Context, groupID string) (Group, error) {
	if err := ctx.Err(); err != nil {
		return Group{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[groupID]
	if !ok {
		return Group{}, fault.NotFound("group.Get", "group")
	}
	return g, nil
}

func (s *MemoryStore) Update(ctx context.Context, g Group) (Group, error) {
	if err := ctx.Err(); err != nil {
		return Group{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.groups[g.ID]
	if !ok {
		return Group{}, fault.NotFound("group.Update", "group")
	}
	cur.Name = g.Name
	cur.Description = g.Description
	cur.UpdatedAt = g.UpdatedAt
	s.groups[g.ID] = cur
	return cur, nil
}

func (s *MemoryStore) Delete(ctx context.Context, groupID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[groupID]; !ok {
		return fault.NotFound("group.Delete", "group")
	}
	delete(s.groups, groupID)
	delete(s.members, groupID)
	return nil
}

func (s *MemoryStore) ListForUser(ctx context.Context, userID string) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Summary
	for gid, ms := range s.members {
		m, ok := ms[userID]
		if !ok {
			continue
		}
		out = append(out, Summary{Group: s.groups[gid], MemberCount: len(ms), Role: m.Role})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) Members(ctx context.Context, groupID string) ([]Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.groups[groupID]; !ok {
		return nil, fault.NotFound("group.Members", "group")
	}
	out := make([]Member, 0, len(s.members[groupID]))
	for _, m := range s.members[groupID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (s *MemoryStore) Membership(ctx context.Context, groupID, userID string) (Member, error) {
	if err := ctx.Err(); err != nil {
		return Member{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[groupID][userID]
	if !ok {
		return Member{}, fault.NotFound("group.Membership", "membership")
	}
	return m, nil
}

func (s *MemoryStore) AddMember(ctx context.Context, m Member) (Member, error) {
	const op = "group.AddMember"
	if err := ctx.Err(); err != nil {
		return Member{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.members[m.GroupID]
	if !ok {
		return Member{}, fault.NotFound(op, "group")
	}
	if _, exists := ms[m.UserID]; exists {
		return Member{}, alreadyMember(op)
	}
	ms[m.UserID] = m
	return m, nil
}

func (s *MemoryStore) AddMemberIfAbsent(ctx context.Context, m Member) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.members[m.GroupID]
	if !ok {
		return false, fault.NotFound("group.AddMember", "group")
	}
	if _, exists := ms[m.UserID]; exists {
		return false, nil
	}
	ms[m.UserID] = m
	return true, nil
}

func (s *MemoryStore) ChangeRole(ctx context.Context, groupID, userID string, role Role) (Member, error) {
	if err := ctx.Err(); err != nil {
		return Member{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[groupID][userID]
	if !ok {
		return Member{}, fault.NotFound("group.ChangeRole", "membership")
	}
	if err := checkLastAdmin(m.Role, role, s.adminsLocked(groupID)); err != nil {
		return Member{}, err
	}
	m.Role = role
	s.members[groupID][userID] = m
	return m, nil
}

func (s *MemoryStore) RemoveMember(ctx context.Context, groupID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[groupID][userID]
	if !ok {
		return fault.NotFound("group.RemoveMember", "membership")
	}
	if err := checkLastAdmin(m.Role, "", s.adminsLocked(groupID)); err != nil {
		return err
	}
	delete(s.members[groupID], userID)
	return nil
}

func (s *MemoryStore) DetachUser(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted []string
	for gid, ms := range s.members {
		m, ok := ms[userID]
		if !ok {
			continue
		}
		drop, err := detachPlan{
			groupID:  gid,
			members:  len(ms),
			admins:   s.adminsLocked(gid),
			isMember: true,
			isAdmin:  m.Role == RoleAdmin,
		}.deletes()
		if err != nil {
			return nil, err
		}
		if drop {
			deleted = append(deleted, gid)
		}
	}

	for _, gid := range deleted {
		delete(s.groups, gid)
		delete(s.members, gid)
	}
	for gid, ms := range s.members {
		delete(ms, userID)
		g := s.groups[gid]
		if g.CreatorID != userID {
			continue
		}
		if heir, ok := successorLocked(ms); ok {
			g.CreatorID = heir
			s.groups[gid] = g
		}
	}
	sort.Strings(deleted)
	return deleted, nil
}

// successorLocked picks the admin (else member) who joined first.
func successorLocked(ms map[string]Member) (string, bool) {
	var (
		best  Member
		found bool
	)
	for _, m := range ms {
		if !found || successorBefore(m, best) {
			best, found = m, true
		}
	}
	return best.UserID, found
}

func successorBefore(a, b Member) bool {
	if (a.Role == RoleAdmin) != (b.Role == RoleAdmin) {
		return a.Role == RoleAdmin
	}
	if !a.JoinedAt.Equal(b.JoinedAt) {
		return a.JoinedAt.Before(b.JoinedAt)
	}
	return a.UserID < b.UserID
}

func (s *MemoryStore) adminsLocked(groupID string) int {
	n := 0
	for _, m := range s.members[groupID] {
		if m.Role == RoleAdmin {
			n++
		}
	}
	return n
}
