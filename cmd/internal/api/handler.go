// Package api serves Spotline's JSON REST API and the chat WebSocket upgrade.
package api

import (
	"errors"
	"net/http"
	"time"

	"spotline/cmd/identity"
	"spotline/cmd/internal/account"
	"spotline/cmd/internal/auth/session"
	"spotline/cmd/internal/fault"
	"spotline/cmd/internal/group"
	"spotline/cmd/internal/invite"
	"spotline/cmd/internal/realtime"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Deps are the services the API is a thin shell over.
type Deps struct {
	Users    *identity.Service
	Accounts *account.Service
	Sessions *session.Service
	Groups   *group.Service
	Invites  *invite.Service
	Chat     *realtime.Service
	Gateway  *realtime.Gateway
}

// Handler wires HTTP endpoints to the domain services.
type Handler struct {
	log *zap.Logger
	cfg Config
	Deps

	logins *ipLimiter
	now    func() time.Time
}

// Option configures the Handler.
type Option func(*Handler) error

// WithConfig overrides the API limits.
func WithConfig(cfg Config) Option {
	return func(h *Handler) error {
		if err := cfg.Check(); err != nil {
			return err
		}
		h.cfg = cfg
		return nil
	}
}

// WithLogger sets the handler logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) error {
		if l != nil {
			h.log = l
		}
		return nil
	}
}

// WithClock overrides time.Now for tests.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) error {
		if now != nil {
			h.now = now
		}
		return nil
	}
}

// NewHandler constructs a Handler. Every dependency is required.
func NewHandler(deps Deps, opts ...Option) (*Handler, error) {
	if deps.Users == nil || deps.Accounts == nil || deps.Sessions == nil || deps.Groups == nil ||
		deps.Invites == nil || deps.Chat == nil || deps.Gateway == nil {
		return nil, errors.New("api: missing service dependency")
	}
	h := &Handler{
		log:  zap.NewNop(),
		cfg:  DefaultConfig(),
		Deps: deps,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	h.logins = newIPLimiter(h.cfg.LoginEvery, h.cfg.LoginBurst)
	return h, nil
}

// Mount registers every API route on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.handleRegister)
		r.Post("/login", h.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Post("/logout", h.handleLogout)
			r.Get("/me", h.handleMe)
			r.Put("/password", h.handleChangePassword)
			r.Get("/sessions", h.handleListSessions)
			r.Delete("/sessions", h.handleRevokeOtherSessions)
			r.Delete("/sessions/{sessionId}", h.handleRevokeSession)
		})
	})

	r.Route("/user", func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Put("/pseudo", h.handleChangePseudo)
		r.Get("/settings", h.handleGetSettings)
		r.Put("/settings", h.handleUpdateSettings)
		r.Delete("/", h.handleDeleteAccount)
		r.Delete("/{userId}", h.handleDeleteUser)
	})

	r.Route("/groups", func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Get("/", h.handleListGroups)
		r.Post("/", h.handleCreateGroup)

		r.Route("/{groupId}", func(r chi.Router) {
			r.Get("/", h.handleGetGroup)
			r.Patch("/", h.handleUpdateGroup)
			r.Delete("/", h.handleDeleteGroup)

			r.Post("/members", h.handleAddMember)
			r.Patch("/members/{userId}", h.handleChangeRole)
			r.Delete("/members/{userId}", h.handleRemoveMember)
			r.Post("/leave", h.handleLeaveGroup)

			r.Post("/invitations", h.handleCreateDirectInvite)
			r.Post("/invitations/link", h.handleCreateLinkInvite)
			r.Get("/invitations/admin", h.handleListGroupInvites)
			r.Post("/invitations/{invitationId}/revoke", h.handleRevokeInvite)

			r.Get("/messages", h.handleListMessages)
			r.Post("/messages", h.handlePostMessage)
			r.Get("/chat", h.handleChat)
		})
	})

	r.Route("/me/invitations", func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Get("/", h.handleMyInvites)
		r.Post("/{invitationId}/act", h.handleActDirectInvite)
	})

	r.Route("/invite", func(r chi.Router) {
		r.Use(h.optionalAuth)
		r.Get("/preview/{token}", h.handlePreviewLink)
		r.Post("/{token}", h.handleActLink)
	})
}

// ---- middleware ----

// requireAuth resolves the session cookie and rejects anonymous requests with 401.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := h.Sessions.Authenticate(r)
		if err != nil {
			if !isAuthFailure(err) {
				h.writeFault(w, r, err)
				return
			}
			h.Sessions.ClearCookie(w)
			writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(session.WithPrincipal(r.Context(), p)))
	})
}

// optionalAuth attaches the principal when a valid session cookie is present.
func (h *Handler) optionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := h.Sessions.Authenticate(r)
		if err == nil {
			r = r.WithContext(session.WithPrincipal(r.Context(), p))
		} else if !isAuthFailure(err) {
			h.log.Warn("api.session.resolve.fail", zap.Error(err))
		}
		next.ServeHTTP(w, r)
	})
}

func isAuthFailure(err error) bool {
	return fault.Is(err, fault.ErrUnauthenticated)
}

// principal returns the caller; only valid behind requireAuth.
func principal(r *http.Request) session.Principal {
	p, _ := session.FromContext(r.Context())
	return p
}

func sessionPrincipal(r *http.Request) (session.Principal, bool) {
	return session.FromContext(r.Context())
}
