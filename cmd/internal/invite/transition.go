package invite

import (
	"time"

	"spotline/cmd/internal/fault"
)

// Conflict reason codes returned by the lifecycle.
const (
	CodeInactive     = "inactive"
	CodeExpired      = "expired"
	CodeQuotaReached = "quota_reached"
	CodeAccepted     = "already_accepted"
)

// The checks below are shared by every Store implementation and run while the row is
// locked, so a decision and its write cannot interleave with a concurrent one.

func linkPreview(inv Invitation, now time.Time) PreviewStatus {
	switch inv.Status {
	case StatusRevoked, StatusDeclined:
		return PreviewRevoked
	case StatusExpired:
		return PreviewExpired
	case StatusAccepted:
		return PreviewQuotaReached
	}
	if linkExpired(inv, now) {
		return PreviewExpired
	}
	if quotaReached(inv) {
		return PreviewQuotaReached
	}
	return PreviewOK
}

// checkLinkAccept validates an acceptance. Membership is checked afterwards by the caller.
func checkLinkAccept(op string, inv Invitation, now time.Time) error {
	if err := checkLinkActive(op, inv, now); err != nil {
		return err
	}
	if quotaReached(inv) {
		return fault.Conflict(op, CodeQuotaReached, "this invitation link has no uses left")
	}
	return nil
}

// checkLinkActive validates a decline, and the status part of an acceptance.
func checkLinkActive(op string, inv Invitation, now time.Time) error {
	switch inv.Status {
	case StatusRevoked, StatusDeclined:
		return fault.Conflict(op, CodeInactive, "this invitation is no longer active")
	case StatusExpired:
		return fault.Conflict(op, CodeExpired, "this invitation has expired")
	case StatusAccepted:
		return fault.Conflict(op, CodeQuotaReached, "this invitation link has no uses left")
	}
	if linkExpired(inv, now) {
		return fault.Conflict(op, CodeExpired, "this invitation has expired")
	}
	return nil
}

// consumeUse applies one successful link acceptance.
func consumeUse(inv Invitation, now time.Time) Invitation {
	inv.UsedCount++
	if quotaReached(inv) {
		inv.Status = StatusAccepted
	}
	inv.UpdatedAt = now
	return inv
}

// checkDirectAct validates an invitee's answer to a direct invitation. noop is set when
// an accepted invitation is accepted again.
func checkDirectAct(op string, inv Invitation, userID string, action Action) (noop bool, err error) {
	if inv.IsLink() || inv.InviteeUserID == nil || *inv.InviteeUserID != userID {
		return false, fault.Forbidden(op, "this invitation is not addressed to you")
	}
	switch inv.Status {
	case StatusPending:
		return false, nil
	case StatusAccepted:
		if action == ActionAccept {
			return true, nil
		}
		return false, fault.Conflict(op, CodeAccepted, "this invitation was already accepted")
	case StatusExpired:
		return false, fault.Conflict(op, CodeExpired, "this invitation has expired")
	default:
		return false, fault.Conflict(op, CodeInactive, "this invitation is no longer active")
	}
}

// checkRevoke validates a revocation. noop is set when the invitation is already revoked.
func checkRevoke(op string, inv Invitation, groupID string) (noop bool, err error) {
	if inv.GroupID != groupID {
		return false, fault.NotFound(op, "invitation")
	}
	switch inv.Status {
	case StatusPending:
		return false, nil
	case StatusRevoked:
		return true, nil
	default:
		return false, fault.Conflict(op, CodeInactive, "only pending invitations can be revoked")
	}
}

// activeForAdmin reports whether a pending invitation still shows in the admin list.
func activeForAdmin(inv Invitation, now time.Time) bool {
	if inv.Status != StatusPending {
		return false
	}
	if !inv.IsLink() {
		return true
	}
	return !linkExpired(inv, now) && !quotaReached(inv)
}

func linkExpired(inv Invitation, now time.Time) bool {
	return inv.ExpiresAt != nil && !now.Before(*inv.ExpiresAt)
}

func quotaReached(inv Invitation) bool {
	return inv.MaxUses != nil && inv.UsedCount >= *inv.MaxUses
}
