package api

import (
	"net/http"

	"spotline/cmd/identity"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (h *Handler) handleChangePseudo(w http.ResponseWriter, r *http.Request) {
	var req pseudoRequest
	if !h.readJSON(w, r, &req, false) {
		return
	}
	u, err := h.Users.ChangePseudo(r.Context(), principal(r).UserID, req.Pseudo)
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// handleChangePassword replaces the password and signs out every other session.
func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if !h.readJSON(w, r, &req, false) {
		return
	}
	ctx, p := r.Context(), principal(r)
	if err := h.Users.ChangePassword(ctx, p.UserID, req.OldPassword, req.NewPassword); err != nil {
		h.writeFault(w, r, err)
		return
	}
	n, err := h.Sessions.RevokeOthers(ctx, p, h.now())
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	h.log.Info("auth.password.changed", zap.String("user_id", p.UserID), zap.Int("revoked", n))
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func (h *Handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	st, err := h.Users.Settings(r.Context(), principal(r).UserID)
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(st))
}

func (h *Handler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !h.readJSON(w, r, &req, false) {
		return
	}
	st, err := h.Users.UpdateSettings(r.Context(), principal(r).UserID, identity.SettingsPatch{
		DarkMode:      req.DarkMode,
		MapTile:       req.MapTile,
		Notifications: req.Notifications,
	}, h.now())
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(st))
}

func (h *Handler) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if err := h.Accounts.Delete(r.Context(), p.UserID, p.UserID); err != nil {
		h.writeFault(w, r, err)
		return
	}
	h.Sessions.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteUser lets a site admin close another account.
func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if p.Role != identity.RoleAdmin {
		writeError(w, http.StatusForbidden, "forbidden", "site admin only")
		return
	}
	if err := h.Accounts.Delete(r.Context(), p.UserID, chi.URLParam(r, "userId")); err != nil {
		h.writeFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
