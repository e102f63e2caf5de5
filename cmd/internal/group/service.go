package group

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"spotline/cmd/identity"
	"spotline/cmd/identity/ids"
	"spotline/cmd/internal/fault"
	"spotline/cmd/internal/textsan"

	"go.uber.org/zap"
)

// Directory resolves accounts referenced by memberships.
type Directory interface {
	GetByID(ctx context.Context, id string) (identity.User, error)
}

// Purger drops state attached to a deleted group that the store does not cascade itself.
type Purger interface {
	PurgeGroup(ctx context.Context, groupID string) error
}

// CreateInput describes group creation.
type CreateInput struct {
	UserID      string
	Name        string
	Description string
	Now         time.Time
}

// UpdateInput describes a partial group update. Nil fields are left unchanged.
type UpdateInput struct {
	UserID      string
	GroupID     string
	Name        *string
	Description *string
	Now         time.Time
}

// Service manages groups and enforces membership-based access.
type Service struct {
	store   Store
	users   Directory
	purgers []Purger
	log     *zap.Logger
}

// Option configures the Service.
type Option func(*Service) error

// WithDirectory lets the service check target accounts and fill member pseudos.
func WithDirectory(d Directory) Option {
	return func(s *Service) error {
		s.users = d
		return nil
	}
}

// WithPurgers registers cleanups run after a group is deleted.
func WithPurgers(p ...Purger) Option {
	return func(s *Service) error {
		for _, pg := range p {
			if pg != nil {
				s.purgers = append(s.purgers, pg)
			}
		}
		return nil
	}
}

// WithLogger sets the logger (default: no-op).
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// NewService constructs a Service.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fault.Invalid("group.NewService", "nil store")
	}
	s := &Service{store: store, log: zap.NewNop()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Create makes a new group with the caller as its creator and first admin.
func (s *Service) Create(ctx context.Context, in CreateInput) (Group, error) {
	const op = "group.Create"
	if err := ctx.Err(); err != nil {
		return Group{}, err
	}
	if strings.TrimSpace(in.UserID) == "" {
		return Group{}, fault.Invalid(op, "missing user id")
	}
	name, desc, err := cleanText(op, in.Name, in.Description)
	if err != nil {
		return Group{}, err
	}

	now := nowOr(in.Now)
	id, err := ids.New(now)
	if err != nil {
		return Group{}, err
	}
	return s.store.CreateWithAdmin(ctx, Group{
		ID:          id,
		Name:        name,
		Description: desc,
		CreatorID:   in.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// Lookup returns a group without any access check. Used by flows that gate access themselves.
func (s *Service) Lookup(ctx context.Context, groupID string) (Group, error) {
	if strings.TrimSpace(groupID) == "" {
		return Group{}, fault.Invalid("group.Lookup", "missing group id")
	}
	return s.store.Get(ctx, groupID)
}

// Get returns the group and its members. The caller must be a member.
func (s *Service) Get(ctx context.Context, userID, groupID string) (Detail, error) {
	g, err := s.Lookup(ctx, groupID)
	if err != nil {
		return Detail{}, err
	}
	me, err := s.AssertMember(ctx, groupID, userID)
	if err != nil {
		return Detail{}, err
	}
	members, err := s.store.Members(ctx, groupID)
	if err != nil {
		return Detail{}, err
	}
	s.fillPseudos(ctx, members)
	return Detail{Group: g, Members: members, Role: me.Role}, nil
}

// Update changes name and/or description. Admin only.
func (s *Service) Update(ctx context.Context, in UpdateInput) (Group, error) {
	const op = "group.Update"
	g, err := s.Lookup(ctx, in.GroupID)
	if err != nil {
		return Group{}, err
	}
	if err := s.AssertAdmin(ctx, in.GroupID, in.UserID); err != nil {
		return Group{}, err
	}

	name, desc := g.Name, g.Description
	if in.Name != nil {
		name = *in.Name
	}
	if in.Description != nil {
		desc = *in.Description
	}
	if g.Name, g.Description, err = cleanText(op, name, desc); err != nil {
		return Group{}, err
	}
	g.UpdatedAt = nowOr(in.Now)
	return s.store.Update(ctx, g)
}

// Delete removes the group. Only its creator may do so.
func (s *Service) Delete(ctx context.Context, userID, groupID string) error {
	g, err := s.Lookup(ctx, groupID)
	if err != nil {
		return err
	}
	if g.CreatorID != userID {
		return fault.Forbidden("group.Delete", "only the group creator can delete it")
	}
	if err := s.store.Delete(ctx, groupID); err != nil {
		return err
	}
	s.purge(ctx, groupID)
	return nil
}

// DetachUser removes every membership of a user whose account is being deleted.
// Groups the user leaves empty are deleted; see Store.DetachUser for the rules.
func (s *Service) DetachUser(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fault.Invalid("group.DetachUser", "missing user id")
	}
	deleted, err := s.store.DetachUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, gid := range deleted {
		s.log.Info("group.deleted.empty", zap.String("group_id", gid), zap.String("user_id", userID))
		s.purge(ctx, gid)
	}
	return nil
}

func (s *Service) purge(ctx context.Context, groupID string) {
	for _, p := range s.purgers {
		if err := p.PurgeGroup(ctx, groupID); err != nil {
			s.log.Warn("group.purge.fail", zap.String("group_id", groupID), zap.Error(err))
		}
	}
}

// ListMine returns the caller's groups, newest first.
func (s *Service) ListMine(ctx context.Context, userID string) ([]Summary, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fault.Invalid("group.ListMine", "missing user id")
	}
	return s.store.ListForUser(ctx, userID)
}

// AddMember adds userID with role (default member). Admin only.
func (s *Service) AddMember(ctx context.Context, actorID, groupID, userID string, role Role) (Member, error) {
	const op = "group.AddMember"
	if _, err := s.Lookup(ctx, groupID); err != nil {
		return Member{}, err
	}
	if err := s.AssertAdmin(ctx, groupID, actorID); err != nil {
		return Member{}, err
	}
	if strings.TrimSpace(string(role)) == "" {
		role = RoleMember
	}
	role, ok := ParseRole(string(role))
	if !ok {
		return Member{}, fault.Invalid(op, "role must be admin, member or guest")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Member{}, fault.Invalid(op, "missing user id")
	}

	var pseudo string
	if s.users != nil {
		u, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return Member{}, err
		}
		pseudo = u.Pseudo
	}

	m, err := s.store.AddMember(ctx, Member{GroupID: groupID, UserID: userID, Role: role, JoinedAt: time.Now().UTC()})
	if err != nil {
		return Member{}, err
	}
	m.Pseudo = pseudo
	return m, nil
}

// Join adds userID as a plain member when not already one. It performs no access check.
func (s *Service) Join(ctx context.Context, groupID, userID string, now time.Time) (bool, error) {
	return s.store.AddMemberIfAbsent(ctx, Member{GroupID: groupID, UserID: userID, Role: RoleMember, JoinedAt: nowOr(now)})
}

// ChangeRole sets targetID's role. Admin only; the last admin cannot be demoted.
func (s *Service) ChangeRole(ctx context.Context, actorID, groupID, targetID string, role Role) (Member, error) {
	role, ok := ParseRole(string(role))
	if !ok {
		return Member{}, fault.Invalid("group.ChangeRole", "role must be admin, member or guest")
	}
	if _, err := s.Lookup(ctx, groupID); err != nil {
		return Member{}, err
	}
	if err := s.AssertAdmin(ctx, groupID, actorID); err != nil {
		return Member{}, err
	}
	return s.store.ChangeRole(ctx, groupID, targetID, role)
}

// RemoveMember removes targetID. Admin only; the last admin cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, actorID, groupID, targetID string) error {
	if _, err := s.Lookup(ctx, groupID); err != nil {
		return err
	}
	if err := s.AssertAdmin(ctx, groupID, actorID); err != nil {
		return err
	}
	return s.store.RemoveMember(ctx, groupID, targetID)
}

// Leave removes the caller from the group; the last admin cannot leave.
func (s *Service) Leave(ctx context.Context, userID, groupID string) error {
	if _, err := s.Lookup(ctx, groupID); err != nil {
		return err
	}
	if _, err := s.AssertMember(ctx, groupID, userID); err != nil {
		return err
	}
	return s.store.RemoveMember(ctx, groupID, userID)
}

// IsMember reports whether userID belongs to groupID.
func (s *Service) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	_, ok, err := s.membership(ctx, groupID, userID)
	return ok, err
}

// IsAdmin reports whether userID is an admin of groupID.
func (s *Service) IsAdmin(ctx context.Context, groupID, userID string) (bool, error) {
	m, ok, err := s.membership(ctx, groupID, userID)
	return ok && m.Role == RoleAdmin, err
}

// AssertMember returns the caller's membership or a Forbidden error.
func (s *Service) AssertMember(ctx context.Context, groupID, userID string) (Member, error) {
	m, ok, err := s.membership(ctx, groupID, userID)
	if err != nil {
		return Member{}, err
	}
	if !ok {
		return Member{}, fault.Forbidden("group.AssertMember", "you are not a member of this group")
	}
	return m, nil
}

// AssertAdmin returns a Forbidden error unless userID is an admin of groupID.
func (s *Service) AssertAdmin(ctx context.Context, groupID, userID string) error {
	ok, err := s.IsAdmin(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fault.Forbidden("group.AssertAdmin", "group admin role required")
	}
	return nil
}

// CanInvite reports whether userID may invite into g: its creator or any of its admins.
func (s *Service) CanInvite(ctx context.Context, g Group, userID string) (bool, error) {
	if userID != "" && g.CreatorID == userID {
		return true, nil
	}
	return s.IsAdmin(ctx, g.ID, userID)
}

func (s *Service) membership(ctx context.Context, groupID, userID string) (Member, bool, error) {
	if strings.TrimSpace(groupID) == "" || strings.TrimSpace(userID) == "" {
		return Member{}, false, nil
	}
	m, err := s.store.Membership(ctx, groupID, userID)
	if err != nil {
		if fault.Is(err, fault.ErrNotFound) {
			return Member{}, false, nil
		}
		return Member{}, false, err
	}
	return m, true, nil
}

func (s *Service) fillPseudos(ctx context.Context, members []Member) {
	if s.users == nil {
		return
	}
	for i := range members {
		if members[i].Pseudo != "" {
			continue
		}
		if u, err := s.users.GetByID(ctx, members[i].UserID); err == nil {
			members[i].Pseudo = u.Pseudo
		}
	}
}

func cleanText(op, name, desc string) (string, string, error) {
	name = textsan.Plain(name)
	desc = textsan.Plain(desc)
	if n := utf8.RuneCountInString(name); n < minNameLen || n > maxNameLen {
		return "", "", fault.Invalid(op, "name must be 2 to 80 characters")
	}
	if utf8.RuneCountInString(desc) > maxDescLen {
		return "", "", fault.Invalid(op, "description must be at most 500 characters")
	}
	return name, desc, nil
}
