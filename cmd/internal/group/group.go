// Package group owns groups, their memberships and the authorization checks built on them.
//
// Every group keeps at least one admin member. Role changes, removals and departures that
// would leave a group without an admin are rejected with code "last_admin".
package group

import (
	"strings"
	"time"
)

// Role is a member's role within one group.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleGuest  Role = "guest"
)

// ParseRole accepts "admin", "member" or "guest" (case-insensitive).
func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleMember, RoleGuest:
		return r, true
	default:
		return "", false
	}
}

// Group is a user-created collection of members.
type Group struct {
	ID          string
	Name        string
	Description string
	CreatorID   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Member is one (user, group) membership.
type Member struct {
	GroupID  string
	UserID   string
	Role     Role
	JoinedAt time.Time

	// Pseudo is filled on read paths only.
	Pseudo string
}

// Summary is a group as listed for one of its members.
type Summary struct {
	Group
	MemberCount int
	Role        Role
}

// Detail is a group with its member list, as seen by Role.
type Detail struct {
	Group
	Members []Member
	Role    Role
}

const (
	minNameLen = 2
	maxNameLen = 80
	maxDescLen = 500
)
