package group

import (
	"context"
	"time"

	"spotline/cmd/internal/fault"
)

// Store is the persistence boundary for groups and memberships.
//
// Lookups return fault.ErrNotFound for a missing group or membership. ChangeRole and
// RemoveMember evaluate the last-admin rule and apply the change atomically.
type Store interface {
	// CreateWithAdmin inserts g and makes g.CreatorID its first admin.
	CreateWithAdmin(ctx context.Context, g Group) (Group, error)
	Get(ctx context.Context, groupID string) (Group, error)
	Update(ctx context.Context, g Group) (Group, error)
	Delete(ctx context.Context, groupID string) error
	ListForUser(ctx context.Context, userID string) ([]Summary, error)

	Members(ctx context.Context, groupID string) ([]Member, error)
	Membership(ctx context.Context, groupID, userID string) (Member, error)

	// AddMember fails with fault.ErrConflict ("already_member") when the membership exists.
	AddMember(ctx context.Context, m Member) (Member, error)
	// AddMemberIfAbsent reports whether a row was inserted.
	AddMemberIfAbsent(ctx context.Context, m Member) (bool, error)
	ChangeRole(ctx context.Context, groupID, userID string, role Role) (Member, error)
	RemoveMember(ctx context.Context, groupID, userID string) error

	// DetachUser drops every membership of userID ahead of the account's deletion.
	// Groups left empty are deleted and their ids returned. Groups the user created are
	// handed to the longest-standing remaining admin. It fails with ErrSoleAdmin, changing
	// nothing, while the user is the only admin of a group that has other members.
	DetachUser(ctx context.Context, userID string) (deleted []string, err error)
}

// MemberAdder is the narrow write used by the invitation flows.
type MemberAdder interface {
	AddMemberIfAbsent(ctx context.Context, m Member) (bool, error)
}

// ErrLastAdmin rejects a mutation that would leave a group without an admin.
var ErrLastAdmin = fault.E("group", fault.ErrInvalidInput, "last_admin", "a group must keep at least one admin")

// checkLastAdmin decides whether moving a member from current to next keeps an admin around.
// next is "" for a removal. admins is the group's admin count before the change.
func checkLastAdmin(current, next Role, admins int) error {
	if current != RoleAdmin || next == RoleAdmin {
		return nil
	}
	if admins <= 1 {
		return ErrLastAdmin
	}
	return nil
}

// ErrSoleAdmin blocks an account deletion that would orphan a group.
var ErrSoleAdmin = fault.E("group.DetachUser", fault.ErrConflict, "sole_admin",
	"promote another admin or delete the group before deleting the account")

// detachPlan is one group's view of a leaving user.
type detachPlan struct {
	groupID  string
	members  int
	admins   int
	isMember bool
	isAdmin  bool
}

// deletes reports whether the group is left empty; a non-nil error aborts the detach.
func (p detachPlan) deletes() (bool, error) {
	if p.isMember && p.members == 1 {
		return true, nil
	}
	if p.isAdmin && p.admins == 1 {
		return false, ErrSoleAdmin
	}
	return false, nil
}

func alreadyMember(op string) error {
	return fault.Conflict(op, "already_member", "user is already a member of this group")
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
