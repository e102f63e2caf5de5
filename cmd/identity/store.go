package identity

import (
	"context"
	"time"
)

// Role is the account-level role (distinct from a group role).
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is a registered account. PasswordHash never leaves the identity package boundary
// through the HTTP layer.
type User struct {
	ID           string
	Email        string
	EmailNorm    string
	Pseudo       string
	Role         Role
	PasswordHash string
	CreatedAt    time.Time
}

// CreateRecord is a normalized user insert payload.
type CreateRecord struct {
	ID           string
	Email        string
	EmailNorm    string
	Pseudo       string
	Role         Role
	PasswordHash string
	CreatedAt    time.Time
}

// Settings are per-account client preferences.
type Settings struct {
	DarkMode      bool
	MapTile       string
	Notifications bool
	UpdatedAt     time.Time
}

// DefaultMapTile is the tile set of an account that never saved settings.
const DefaultMapTile = "default"

// DefaultSettings are returned for an account without a saved settings row.
func DefaultSettings() Settings {
	return Settings{MapTile: DefaultMapTile, Notifications: true}
}

// SettingsPatch is a partial settings update; nil fields keep their current value.
type SettingsPatch struct {
	DarkMode      *bool
	MapTile       *string
	Notifications *bool
}

func (p SettingsPatch) apply(s Settings) Settings {
	if p.DarkMode != nil {
		s.DarkMode = *p.DarkMode
	}
	if p.MapTile != nil {
		s.MapTile = *p.MapTile
	}
	if p.Notifications != nil {
		s.Notifications = *p.Notifications
	}
	return s
}

// Store is the persistence boundary for accounts.
//
// GetByEmail matches on the normalized email. Every single-user method returns an error
// wrapping fault.ErrNotFound when no row exists; Create returns fault.ErrConflict with
// code "email_taken" on a duplicate email.
//
// Delete removes the account only. Callers detach it from groups first.
// GetSettings returns DefaultSettings for an existing user that never saved any.
// PatchSettings applies the patch on top of the stored (or default) settings atomically.
type Store interface {
	Create(ctx context.Context, in CreateRecord) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
	GetByEmail(ctx context.Context, emailNorm string) (User, error)

	UpdatePseudo(ctx context.Context, id, pseudo string) (User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	Delete(ctx context.Context, id string) error

	GetSettings(ctx context.Context, id string) (Settings, error)
	PatchSettings(ctx context.Context, id string, p SettingsPatch, now time.Time) (Settings, error)
}
