package api

import (
	"net/http"
	"strings"

	"spotline/cmd/internal/invite"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) handleCreateDirectInvite(w http.ResponseWriter, r *http.Request) {
	var req directInviteRequest
	if !h.readJSON(w, r, &req, false) {
		return
	}

	var target invite.DirectTarget
	switch strings.ToLower(strings.TrimSpace(req.By)) {
	case "userid":
		target.UserID = req.UserID
	case "email":
		target.Email = req.Email
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", `by must be "userId" or "email"`)
		return
	}

	res, err := h.Invites.CreateDirect(r.Context(), invite.CreateDirectInput{
		GroupID:   chi.URLParam(r, "groupId"),
		InviterID: principal(r).UserID,
		Target:    target,
		JoinAuto:  req.JoinAuto,
		Now:       h.now(),
	})
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	status := http.StatusOK
	if res.InvitationID != "" || res.Joined {
		status = http.StatusCreated
	}
	writeJSON(w, status, directInviteResponse{
		Mode:          res.Mode,
		InvitationID:  res.InvitationID,
		AlreadyMember: res.AlreadyMember,
		Joined:        res.Joined,
	})
}

func (h *Handler) handleCreateLinkInvite(w http.ResponseWriter, r *http.Request) {
	var req linkInviteRequest
	if !h.readJSON(w, r, &req, true) {
		return
	}

	link, err := h.Invites.CreateLink(r.Context(), invite.CreateLinkInput{
		GroupID:       chi.URLParam(r, "groupId"),
		InviterID:     principal(r).UserID,
		ExpiresInDays: req.ExpiresInDays,
		MaxUses:       req.MaxUses,
		Now:           h.now(),
	})
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, linkInviteResponse{
		InvitationID: link.Invitation.ID,
		Token:        link.Token,
		URL:          link.URL,
		ExpiresAt:    link.ExpiresAt,
		MaxUses:      link.MaxUses,
	})
}

func (h *Handler) handleListGroupInvites(w http.ResponseWriter, r *http.Request) {
	invs, err := h.Invites.ListForGroup(r.Context(), chi.URLParam(r, "groupId"), principal(r).UserID, h.now())
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	out := make([]invitationResponse, 0, len(invs))
	for _, inv := range invs {
		out = append(out, toInvitationResponse(inv))
	}
	writeJSON(w, http.StatusOK, map[string]any{"invitations": out})
}

func (h *Handler) handleRevokeInvite(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Invites.Revoke(r.Context(),
		chi.URLParam(r, "groupId"), chi.URLParam(r, "invitationId"), principal(r).UserID, h.now())
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvitationResponse(inv))
}

func (h *Handler) handleMyInvites(w http.ResponseWriter, r *http.Request) {
	list, err := h.Invites.ListMine(r.Context(), principal(r).UserID)
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	out := make([]receivedResponse, 0, len(list))
	for _, rc := range list {
		out = append(out, toReceivedResponse(rc))
	}
	writeJSON(w, http.StatusOK, map[string]any{"invitations": out})
}

func (h *Handler) handleActDirectInvite(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !h.readJSON(w, r, &req, false) {
		return
	}
	action, ok := invite.ParseAction(req.Action)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_action", "action must be accept or decline")
		return
	}

	inv, err := h.Invites.ActDirect(r.Context(), chi.URLParam(r, "invitationId"), principal(r).UserID, action, h.now())
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, linkActResponse{Status: inv.Status, GroupID: inv.GroupID})
}

func (h *Handler) handlePreviewLink(w http.ResponseWriter, r *http.Request) {
	var userID string
	if p, ok := sessionPrincipal(r); ok {
		userID = p.UserID
	}
	pv, err := h.Invites.PreviewLink(r.Context(), chi.URLParam(r, "token"), userID, h.now())
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPreviewResponse(pv))
}

// handleActLink accepts or declines a share link. Anonymous callers get 401 with needsAuth
// so the client can send them through login and retry.
func (h *Handler) handleActLink(w http.ResponseWriter, r *http.Request) {
	p, ok := sessionPrincipal(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]bool{"needsAuth": true})
		return
	}

	var req actionRequest
	if !h.readJSON(w, r, &req, false) {
		return
	}
	action, ok := invite.ParseAction(req.Action)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_action", "action must be accept or decline")
		return
	}

	tok := chi.URLParam(r, "token")
	var (
		res invite.LinkResult
		err error
	)
	status := invite.StatusAccepted
	if action == invite.ActionAccept {
		res, err = h.Invites.AcceptLink(r.Context(), tok, p.UserID, h.now())
	} else {
		res, err = h.Invites.DeclineLink(r.Context(), tok, p.UserID, h.now())
		status = invite.StatusDeclined
	}
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, linkActResponse{Status: status, GroupID: res.GroupID, AlreadyMember: res.AlreadyMember})
}
