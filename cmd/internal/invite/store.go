package invite

import (
	"context"
	"time"
)

// Store is the persistence boundary for invitations.
//
// Lookups return fault.ErrNotFound for unknown ids or token hashes. The mutating methods
// apply the lifecycle checks and their writes atomically.
type Store interface {
	Create(ctx context.Context, inv Invitation) (Invitation, error)
	Get(ctx context.Context, id string) (Invitation, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (Invitation, error)

	// AcceptLink joins userID to the link's group as a member and consumes one use.
	// alreadyMember is set, and no use consumed, when the membership already existed.
	AcceptLink(ctx context.Context, tokenHash, userID string, now time.Time) (inv Invitation, alreadyMember bool, err error)
	// DeclineLink marks the whole link DECLINED.
	DeclineLink(ctx context.Context, tokenHash string, now time.Time) (Invitation, error)
	// ActDirect records the invitee's answer; accepting also creates the membership.
	ActDirect(ctx context.Context, id, userID string, action Action, now time.Time) (Invitation, error)
	Revoke(ctx context.Context, groupID, id string, now time.Time) (Invitation, error)

	// ListForInvitee returns invitations addressed to userID, newest first.
	ListForInvitee(ctx context.Context, userID string) ([]Invitation, error)
	// ListActiveForGroup returns pending direct invitations and usable links, newest first.
	ListActiveForGroup(ctx context.Context, groupID string, now time.Time) ([]Invitation, error)

	// LinkEmail addresses pending, unclaimed email invitations for emailNorm to userID.
	LinkEmail(ctx context.Context, userID, emailNorm string, now time.Time) (int, error)
	// ExpireLinks moves pending links past their expiry to EXPIRED.
	ExpireLinks(ctx context.Context, now time.Time) (int, error)
}
