package invite

import (
	"context"
	"sort"
	"sync"
	"time"

	"spotline/cmd/internal/fault"
	"spotline/cmd/internal/group"
)

// MemoryStore is the in-process Store used when no database is configured, and in tests.
// Memberships created by acceptances are written through members.
type MemoryStore struct {
	members group.MemberAdder

	mu      sync.Mutex
	byID    map[string]Invitation
	byToken map[string]string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore(members group.MemberAdder) *MemoryStore {
	return &MemoryStore{
		members: members,
		byID:    make(map[string]Invitation),
		byToken: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, inv Invitation) (Invitation, error) {
	const op = "invite.Create"
	if err := ctx.Err(); err != nil {
		return Invitation{}, err
	}
	if err := validateRecord(op, inv); err != nil {
		return Invitation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[inv.ID]; exists {
		return Invitation{}, fault.Conflict(op, "invitation_exists", "invitation already exists")
	}
	if inv.TokenHash != nil {
		if _, exists := s.byToken[*inv.TokenHash]; exists {
			return Invitation{}, fault.Conflict(op, "token_collision", "token already in use")
		}
		s.byToken[*inv.TokenHash] = inv.ID
	}
	s.byID[inv.ID] = inv
	return inv, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Invitation, error) {
	if err := ctx.Err(); err != nil {
		return Invitation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked("invite.Get", id)
}

func (s *MemoryStore) GetByTokenHash(ctx context.Context, tokenHash string) (Invitation, error) {
	if err := ctx.Err(); err != nil {
		return Invitation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byTokenLocked("invite.GetByTokenHash", tokenHash)
}

func (s *MemoryStore) AcceptLink(ctx context.Context, tokenHash, userID string, now time.Time) (Invitation, bool, error) {
	const op = "invite.AcceptLink"
	if err := ctx.Err(); err != nil {
		return Invitation{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, err := s.byTokenLocked(op, tokenHash)
	if err != nil {
		return Invitation{}, false, err
	}
	if err := checkLinkAccept(op, inv, now); err != nil {
		return Invitation{}, false, err
	}
	added, err := s.members.AddMemberIfAbsent(ctx, group.Member{
		GroupID: inv.GroupID, UserID: userID, Role: group.RoleMember, JoinedAt: now,
	})
	if err != nil {
		return Invitation{}, false, err
	}
	if !added {
		return inv, true, nil
	}
	inv = consumeUse(inv, now)
	s.byID[inv.ID] = inv
	return inv, false, nil
}

func (s *MemoryStore) DeclineLink(ctx context.Context, tokenHash string, now time.Time) (Invitation, error) {
	const op = "invite.DeclineLink"
	if err := ctx.Err(); err != nil {
		return Invitation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, err := s.byTokenLocked(op, tokenHash)
	if err != nil {
		return Invitation{}, err
	}
	if err := checkLinkActive(op, inv, now); err != nil {
		return Invitation{}, err
	}
	inv.Status = StatusDeclined
	inv.UpdatedAt = now
	s.byID[inv.ID] = inv
	return inv, nil
}

func (s *MemoryStore) ActDirect(ctx context.Context, id, userID string, action Action, now time.Time) (Invitation, error) {
	const op = "invite.ActDirect"
	if err := ctx.Err(); err != nil {
		return Invitation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, err := s.getLocked(op, id)
	if err != nil {
		return Invitation{}, err
	}
	noop, err := checkDirectAct(op, inv, userID, action)
	if err != nil || noop {
		return inv, err
	}
	if action == ActionAccept {
		if _, err := s.members.AddMemberIfAbsent(ctx, group.Member{
			GroupID: inv.GroupID, UserID: userID, Role: group.RoleMember, JoinedAt: now,
		}); err != nil {
			return Invitation{}, err
		}
		inv.Status = StatusAccepted
	} else {
		inv.Status = StatusDeclined
	}
	inv.UpdatedAt = now
	s.byID[inv.ID] = inv
	return inv, nil
}

func (s *MemoryStore) Revoke(ctx context.Context, groupID, id string, now time.Time) (Invitation, error) {
	const op = "invite.Revoke"
	if err := ctx.Err(); err != nil {
		return Invitation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, err := s.getLocked(op, id)
	if err != nil {
		return Invitation{}, err
	}
	noop, err := checkRevoke(op, inv, groupID)
	if err != nil || noop {
		return inv, err
	}
	inv.Status = StatusRevoked
	inv.UpdatedAt = now
	s.byID[inv.ID] = inv
	return inv, nil
}

func (s *MemoryStore) ListForInvitee(ctx context.Context, userID string) ([]Invitation, error) {
	return s.list(ctx, func(inv Invitation) bool {
		return inv.InviteeUserID != nil && *inv.InviteeUserID == userID
	})
}

func (s *MemoryStore) ListActiveForGroup(ctx context.Context, groupID string, now time.Time) ([]Invitation, error) {
	return s.list(ctx, func(inv Invitation) bool {
		return inv.GroupID == groupID && activeForAdmin(inv, now)
	})
}

func (s *MemoryStore) LinkEmail(ctx context.Context, userID, emailNorm string, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, inv := range s.byID {
		if inv.Status != StatusPending || inv.InviteeUserID != nil || inv.InviteeEmail == nil || *inv.InviteeEmail != emailNorm {
			continue
		}
		inv.InviteeUserID = strPtr(userID)
		inv.UpdatedAt = now
		s.byID[id] = inv
		n++
	}
	return n, nil
}

func (s *MemoryStore) ExpireLinks(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, inv := range s.byID {
		if inv.Status != StatusPending || !inv.IsLink() || !linkExpired(inv, now) {
			continue
		}
		inv.Status = StatusExpired
		inv.UpdatedAt = now
		s.byID[id] = inv
		n++
	}
	return n, nil
}

// PurgeGroup drops the invitations of a deleted group.
func (s *MemoryStore) PurgeGroup(ctx context.Context, groupID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, inv := range s.byID {
		if inv.GroupID != groupID {
			continue
		}
		if inv.TokenHash != nil {
			delete(s.byToken, *inv.TokenHash)
		}
		delete(s.byID, id)
	}
	return nil
}

// PurgeUser drops the invitations sent by or addressed to a deleted account.
func (s *MemoryStore) PurgeUser(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, inv := range s.byID {
		invitee := inv.InviteeUserID != nil && *inv.InviteeUserID == userID
		if inv.InviterID != userID && !invitee {
			continue
		}
		if inv.TokenHash != nil {
			delete(s.byToken, *inv.TokenHash)
		}
		delete(s.byID, id)
	}
	return nil
}

func (s *MemoryStore) list(ctx context.Context, keep func(Invitation) bool) ([]Invitation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Invitation
	for _, inv := range s.byID {
		if keep(inv) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) getLocked(op, id string) (Invitation, error) {
	inv, ok := s.byID[id]
	if !ok {
		return Invitation{}, fault.NotFound(op, "invitation")
	}
	return inv, nil
}

func (s *MemoryStore) byTokenLocked(op, tokenHash string) (Invitation, error) {
	id, ok := s.byToken[tokenHash]
	if !ok {
		return Invitation{}, fault.NotFound(op, "invitation")
	}
	return s.getLocked(op, id)
}

// validateRecord enforces the single addressing mode of an invitation row.
func validateRecord(op string, inv Invitation) error {
	if inv.ID == "" || inv.GroupID == "" || inv.InviterID == "" {
		return fault.Invalid(op, "missing id, group or inviter")
	}
	if inv.Status == "" {
		return fault.Invalid(op, "missing status")
	}
	if inv.IsLink() {
		if inv.InviteeUserID != nil || inv.InviteeEmail != nil {
			return fault.Invalid(op, "a link invitation has no invitee")
		}
		if inv.ExpiresAt == nil || inv.MaxUses == nil || *inv.MaxUses < 1 {
			return fault.Invalid(op, "a link invitation needs an expiry and a positive quota")
		}
		return nil
	}
	if inv.InviteeUserID == nil && inv.InviteeEmail == nil {
		return fault.Invalid(op, "a direct invitation needs a user id or an email")
	}
	if inv.ExpiresAt != nil || inv.MaxUses != nil {
		return fault.Invalid(op, "a direct invitation has no expiry or quota")
	}
	return nil
}
