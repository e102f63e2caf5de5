package identity

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"spotline/cmd/identity/ids"
	"spotline/cmd/internal/fault"
	"spotline/cmd/internal/textsan"
	"spotline/cmd/security/password"
)

// ErrInvalidCredentials is returned by Authenticate for an unknown email or a wrong password.
// Both cases are indistinguishable to the caller.
var ErrInvalidCredentials = fault.E("identity.Authenticate", fault.ErrUnauthenticated, "invalid_credentials", "invalid email or password")

// ErrWrongPassword is returned by ChangePassword when the current password does not match.
// It is not an authentication failure: the caller's session stays valid.
var ErrWrongPassword = fault.E("identity.ChangePassword", fault.ErrForbidden, "wrong_password", "current password is incorrect")

const maxMapTileLen = 64

// RegisterInput describes an account registration.
type RegisterInput struct {
	Email    string
	Password string
	Pseudo   string
	Now      time.Time
}

// Service manages accounts.
type Service struct {
	store     Store
	passwords password.Config

	// dummyHash keeps Authenticate timing similar for unknown emails.
	dummyHash string
}

// Option configures the Service.
type Option func(*Service) error

// WithPasswordConfig overrides the Argon2id parameters and password policy.
func WithPasswordConfig(cfg password.Config) Option {
	return func(s *Service) error {
		if err := cfg.Check(); err != nil {
			return err
		}
		s.passwords = cfg
		return nil
	}
}

// NewService constructs a Service with safe defaults.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fault.Invalid("identity.NewService", "nil store")
	}
	s := &Service{
		store:     store,
		passwords: password.DefaultConfig(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	// Policy-independent input so the dummy hash always builds.
	dummyCfg := s.passwords
	dummyCfg.Policy = password.Policy{MinLength: 1, MaxLength: 256}
	if h, err := dummyCfg.Hash("spotline-timing-equalizer"); err == nil {
		s.dummyHash = h
	}
	return s, nil
}

// Register creates a new account with role "user".
func (s *Service) Register(ctx context.Context, in RegisterInput) (User, error) {
	const op = "identity.Register"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	email := strings.TrimSpace(in.Email)
	if !ValidEmail(email) {
		return User{}, fault.Invalid(op, "invalid email")
	}
	pseudo := textsan.Plain(in.Pseudo)
	if !validPseudoLen(pseudo) {
		return User{}, fault.Invalid(op, "pseudo must be 2 to 30 characters")
	}

	hash, err := s.hashPassword(op, in.Password)
	if err != nil {
		return User{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.New(now)
	if err != nil {
		return User{}, err
	}

	return s.store.Create(ctx, CreateRecord{
		ID:           id,
		Email:        email,
		EmailNorm:    NormalizeEmail(email),
		Pseudo:       pseudo,
		Role:         RoleUser,
		PasswordHash: hash,
		CreatedAt:    now,
	})
}

// Authenticate checks an email/password pair.
func (s *Service) Authenticate(ctx context.Context, email, pw string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	u, err := s.store.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if fault.Is(err, fault.ErrNotFound) {
			if s.dummyHash != "" {
				_, _ = s.passwords.Verify(s.dummyHash, pw)
			}
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}

	ok, err := s.passwords.Verify(u.PasswordHash, pw)
	if err != nil {
		if errors.Is(err, password.ErrInvalidHash) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	if !ok {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

// GetByID returns the account with the given id.
func (s *Service) GetByID(ctx context.Context, id string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fault.Invalid("identity.GetByID", "missing user id")
	}
	return s.store.GetByID(ctx, id)
}

// FindByEmail returns the account registered under email, compared case-insensitively.
func (s *Service) FindByEmail(ctx context.Context, email string) (User, error) {
	norm := NormalizeEmail(email)
	if norm == "" {
		return User{}, fault.Invalid("identity.FindByEmail", "missing email")
	}
	return s.store.GetByEmail(ctx, norm)
}

// ChangePseudo sets the caller's display name. The same rules as Register apply.
func (s *Service) ChangePseudo(ctx context.Context, userID, pseudo string) (User, error) {
	const op = "identity.ChangePseudo"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	pseudo = textsan.Plain(pseudo)
	if !validPseudoLen(pseudo) {
		return User{}, fault.Invalid(op, "pseudo must be 2 to 30 characters")
	}
	return s.store.UpdatePseudo(ctx, userID, pseudo)
}

// ChangePassword replaces the password after verifying the current one.
// Revoking the user's other sessions is left to the caller.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	const op = "identity.ChangePassword"
	if err := ctx.Err(); err != nil {
		return err
	}
	if current == "" || next == "" {
		return fault.Invalid(op, "current and new password are required")
	}

	u, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := s.passwords.Verify(u.PasswordHash, current)
	if err != nil && !errors.Is(err, password.ErrInvalidHash) {
		return err
	}
	if !ok {
		return ErrWrongPassword
	}

	hash, err := s.hashPassword(op, next)
	if err != nil {
		return err
	}
	return s.store.UpdatePasswordHash(ctx, userID, hash)
}

// Settings returns the caller's preferences.
func (s *Service) Settings(ctx context.Context, userID string) (Settings, error) {
	return s.store.GetSettings(ctx, userID)
}

// UpdateSettings applies a partial update. An empty patch is rejected.
func (s *Service) UpdateSettings(ctx context.Context, userID string, p SettingsPatch, now time.Time) (Settings, error) {
	const op = "identity.UpdateSettings"
	if err := ctx.Err(); err != nil {
		return Settings{}, err
	}
	if p.DarkMode == nil && p.MapTile == nil && p.Notifications == nil {
		return Settings{}, fault.Invalid(op, "no settings to update")
	}
	if p.MapTile != nil {
		tile := strings.TrimSpace(*p.MapTile)
		if tile == "" || utf8.RuneCountInString(tile) > maxMapTileLen {
			return Settings{}, fault.Invalid(op, "mapTile must be 1 to 64 characters")
		}
		p.MapTile = &tile
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return s.store.PatchSettings(ctx, userID, p, now)
}

// Delete removes the account row. Use account.Service to also detach it from groups.
func (s *Service) Delete(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fault.Invalid("identity.Delete", "missing user id")
	}
	return s.store.Delete(ctx, userID)
}

func (s *Service) hashPassword(op, pw string) (string, error) {
	hash, err := s.passwords.Hash(pw)
	if err != nil {
		switch {
		case errors.Is(err, password.ErrPasswordTooShort),
			errors.Is(err, password.ErrPasswordTooLong),
			errors.Is(err, password.ErrWeakPassword):
			return "", fault.E(op, fault.ErrInvalidInput, "weak_password", err.Error())
		default:
			return "", err
		}
	}
	return hash, nil
}
