package api

import (
	"net/http"
	"strconv"

	"spotline/cmd/internal/realtime"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
		return
	}
	offset, ok := queryInt(r, "offset")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be an integer")
		return
	}

	chunk, err := h.Chat.History(r.Context(), realtime.HistoryInput{
		GroupID: chi.URLParam(r, "groupId"),
		UserID:  principal(r).UserID,
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chunk)
}

func (h *Handler) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if !h.readJSON(w, r, &req, false) {
		return
	}

	res, err := h.Chat.Post(r.Context(), realtime.PostInput{
		GroupID:       chi.URLParam(r, "groupId"),
		UserID:        principal(r).UserID,
		ClientMsgID:   req.ClientMsgID,
		Content:       req.Content,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		Transport:     realtime.TransportHTTP,
		Now:           h.now(),
	})
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, res.Message)
}

// handleChat upgrades members to the group chat socket. Non-members are refused before the upgrade.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	groupID := chi.URLParam(r, "groupId")
	if _, err := h.Groups.AssertMember(r.Context(), groupID, p.UserID); err != nil {
		h.writeFault(w, r, err)
		return
	}
	h.Gateway.Serve(w, r, realtime.Peer{UserID: p.UserID, GroupID: groupID})
}

// queryInt reads an optional integer query parameter; absent means zero.
func queryInt(r *http.Request, key string) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil
}
