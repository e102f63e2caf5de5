// Package invite implements the group invitation lifecycle.
//
// An invitation is addressed in exactly one way: to an account id, to an email address
// (claimed by the matching account at login), or through a shareable link token with an
// expiry and a usage quota. PENDING is the only non-terminal status.
package invite

import (
	"strings"
	"time"
)

// Status is an invitation's lifecycle state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusDeclined Status = "DECLINED"
	StatusExpired  Status = "EXPIRED"
	StatusRevoked  Status = "REVOKED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool { return s != StatusPending }

// Action is what an invitee does with an invitation.
type Action string

const (
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
)

// ParseAction accepts "accept" or "decline".
func ParseAction(s string) (Action, bool) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionAccept, ActionDecline:
		return a, true
	default:
		return "", false
	}
}

// Invitation is one invitation row.
type Invitation struct {
	ID        string
	GroupID   string
	InviterID string

	// Direct invitations.
	InviteeUserID *string
	InviteeEmail  *string

	// Link invitations.
	TokenHash *string
	ExpiresAt *time.Time
	MaxUses   *int
	UsedCount int

	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsLink reports whether the invitation is a shareable link.
func (i Invitation) IsLink() bool { return i.TokenHash != nil }

// Kind is "link" or "direct".
func (i Invitation) Kind() string {
	if i.IsLink() {
		return "link"
	}
	return "direct"
}

// PreviewStatus is the read-only state of a link as shown before acting on it.
type PreviewStatus string

const (
	PreviewOK           PreviewStatus = "ok"
	PreviewExpired      PreviewStatus = "expired"
	PreviewQuotaReached PreviewStatus = "quota_reached"
	PreviewRevoked      PreviewStatus = "revoked"
)

// DirectMode describes what CreateDirect did.
type DirectMode string

const (
	ModeAlreadyMember DirectMode = "already-member"
	ModeUserIDJoined  DirectMode = "direct-userId-joined"
	ModeUserIDPending DirectMode = "direct-userId-pending"
	ModeEmailJoined   DirectMode = "direct-email-joined"
	ModeEmailPending  DirectMode = "direct-email-pending"
)

func strPtr(s string) *string { return &s }
