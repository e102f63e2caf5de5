package api

import (
	"net/http"
	"strings"

	"spotline/cmd/identity"
	"spotline/cmd/internal/auth/session"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.readJSON(w, r, &req, false) {
		return
	}

	u, err := h.Users.Register(r.Context(), identity.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Pseudo:   req.Pseudo,
		Now:      h.now(),
	})
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	h.log.Info("auth.register", zap.String("user_id", u.ID))
	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.readJSON(w, r, &req, false) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	now := h.now()
	ip := ipString(clientIP(r, h.cfg.TrustProxy))
	if ok, retryAfter := h.logins.allow(ip, now); !ok {
		h.log.Info("auth.login.rate_limited", zap.String("ip", ip))
		writeRateLimited(w, retryAfter)
		return
	}

	ctx := r.Context()
	u, err := h.Users.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		h.writeFault(w, r, err)
		return
	}

	issued, err := h.Sessions.Issue(ctx, u.ID, session.Device{UserAgent: r.UserAgent(), IP: ip}, now)
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	if err := h.Sessions.SetCookie(w, issued); err != nil {
		h.writeFault(w, r, err)
		return
	}

	// Email invitations sent before this account existed now become visible.
	h.Invites.ReconcileOnLogin(ctx, u.ID, u.Email)

	h.log.Info("auth.login", zap.String("user_id", u.ID), zap.String("session_id", issued.SessionID))
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if err := h.Sessions.Revoke(r.Context(), p, h.now()); err != nil {
		h.writeFault(w, r, err)
		return
	}
	h.Sessions.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	h.Invites.ReconcileOnLogin(r.Context(), p.UserID, p.Email)
	writeJSON(w, http.StatusOK, principalResponse(p))
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	rows, err := h.Sessions.List(r.Context(), p.UserID, h.now())
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	out := make([]sessionResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, toSessionResponse(row, p.SessionID))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *Handler) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.RevokeForUser(r.Context(), principal(r), chi.URLParam(r, "sessionId"), h.now()); err != nil {
		h.writeFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRevokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	n, err := h.Sessions.RevokeOthers(r.Context(), principal(r), h.now())
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}
