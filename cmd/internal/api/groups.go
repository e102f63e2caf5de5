package api

import (
	"net/http"

	"spotline/cmd/internal/group"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) handleListGroups(w http.ResponseWriter, r *http.Request) {
	list, err := h.Groups.ListMine(r.Context(), principal(r).UserID)
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	out := make([]groupResponse, 0, len(list))
	for _, s := range list {
		out = append(out, toSummaryResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": out})
}

func (h *Handler) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if !h.readJSON(w, r, &req, false) {
		return
	}
	in := group.CreateInput{UserID: principal(r).UserID, Now: h.now()}
	if req.Name != nil {
		in.Name = *req.Name
	}
	if req.Description != nil {
		in.Description = *req.Description
	}

	g, err := h.Groups.Create(r.Context(), in)
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGroupResponse(g))
}

func (h *Handler) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	d, err := h.Groups.Get(r.Context(), principal(r).UserID, chi.URLParam(r, "groupId"))
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDetailResponse(d))
}

func (h *Handler) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if !h.readJSON(w, r, &req, false) {
		return
	}
	g, err := h.Groups.Update(r.Context(), group.UpdateInput{
		UserID:      principal(r).UserID,
		GroupID:     chi.URLParam(r, "groupId"),
		Name:        req.Name,
		Description: req.Description,
		Now:         h.now(),
	})
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupResponse(g))
}

func (h *Handler) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.Groups.Delete(r.Context(), principal(r).UserID, chi.URLParam(r, "groupId")); err != nil {
		h.writeFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if !h.readJSON(w, r, &req, false) {
		return
	}
	role := group.RoleMember
	if req.Role != "" {
		parsed, ok := group.ParseRole(req.Role)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_role", "role must be admin, member or guest")
			return
		}
		role = parsed
	}

	m, err := h.Groups.AddMember(r.Context(), principal(r).UserID, chi.URLParam(r, "groupId"), req.UserID, role)
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberResponse(m))
}

func (h *Handler) handleChangeRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !h.readJSON(w, r, &req, false) {
		return
	}
	role, ok := group.ParseRole(req.Role)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_role", "role must be admin, member or guest")
		return
	}

	m, err := h.Groups.ChangeRole(r.Context(), principal(r).UserID, chi.URLParam(r, "groupId"), chi.URLParam(r, "userId"), role)
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberResponse(m))
}

func (h *Handler) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	err := h.Groups.RemoveMember(r.Context(), principal(r).UserID, chi.URLParam(r, "groupId"), chi.URLParam(r, "userId"))
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLeaveGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.Groups.Leave(r.Context(), principal(r).UserID, chi.URLParam(r, "groupId")); err != nil {
		h.writeFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
