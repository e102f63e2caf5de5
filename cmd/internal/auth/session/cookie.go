package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"go.uber.org/zap"
)

// SetCookie writes the signed session cookie for iss.
func (s *Service) SetCookie(w http.ResponseWriter, iss Issued) error {
	encoded, err := s.codec.Encode(s.cfg.CookieName, iss.Token)
	if err != nil {
		return err
	}
	sameSite, _ := parseSameSite(s.cfg.SameSite)
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    encoded,
		Path:     "/",
		Expires:  iss.ExpiresAt,
		MaxAge:   int(time.Until(iss.ExpiresAt) / time.Second),
		HttpOnly: true,
		Secure:   s.cfg.Secure,
		SameSite: sameSite,
	})
	return nil
}

// ClearCookie expires the session cookie in the browser.
func (s *Service) ClearCookie(w http.ResponseWriter) {
	sameSite, _ := parseSameSite(s.cfg.SameSite)
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.Secure,
		SameSite: sameSite,
	})
}

// TokenFromRequest extracts the plaintext token from the session cookie.
func (s *Service) TokenFromRequest(r *http.Request) (string, error) {
	c, err := r.Cookie(s.cfg.CookieName)
	if err != nil || c.Value == "" {
		return "", ErrSessionNotFound
	}
	var tok string
	if err := s.codec.Decode(s.cfg.CookieName, c.Value, &tok); err != nil {
		var scErr securecookie.Error
		if errors.As(err, &scErr) && scErr.IsDecode() {
			s.log.Debug("session.cookie.decode_fail", zap.Error(err))
		}
		return "", ErrSessionNotFound
	}
	return tok, nil
}

// Authenticate resolves the principal of r from its session cookie.
func (s *Service) Authenticate(r *http.Request) (Principal, error) {
	tok, err := s.TokenFromRequest(r)
	if err != nil {
		return Principal{}, err
	}
	return s.Resolve(r.Context(), tok, time.Time{})
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID != ""
}
