package identity

import (
	"context"
	"testing"
	"time"

	"spotline/cmd/internal/fault"
	"spotline/cmd/internal/storage/pgtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	db := pgtest.Open(t)
	store, err := NewPostgresStore(db.Pool, WithSchema(db.Schema))
	require.NoError(t, err)

	svc, err := NewService(store, WithPasswordConfig(cheapPasswords()))
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	reg, err := svc.Register(ctx, RegisterInput{Email: "Frank@Example.com", Password: "longenough", Pseudo: "frank", Now: now})
	require.NoError(t, err)

	byID, err := store.GetByID(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, "frank@example.com", byID.EmailNorm)
	assert.Equal(t, RoleUser, byID.Role)
	assert.True(t, byID.CreatedAt.Equal(now))

	byEmail, err := svc.FindByEmail(ctx, "FRANK@example.com")
	require.NoError(t, err)
	assert.Equal(t, reg.ID, byEmail.ID)

	_, err = svc.Authenticate(ctx, "frank@example.com", "longenough")
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterInput{Email: "frank@example.com", Password: "longenough", Pseudo: "frank2"})
	require.Error(t, err)
	assert.Equal(t, "email_taken", fault.CodeOf(err))

	_, err = store.GetByID(ctx, pgtest.NewID(t))
	assert.True(t, fault.Is(err, fault.ErrNotFound))
}

func TestPostgresStore_AccountUpdates(t *testing.T) {
	t.Parallel()

	db := pgtest.Open(t)
	store, err := NewPostgresStore(db.Pool, WithSchema(db.Schema))
	require.NoError(t, err)
	svc, err := NewService(store, WithPasswordConfig(cheapPasswords()))
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	reg, err := svc.Register(ctx, RegisterInput{Email: "kim@example.com", Password: "longenough", Pseudo: "kim", Now: now})
	require.NoError(t, err)

	u, err := svc.ChangePseudo(ctx, reg.ID, "kimberly")
	require.NoError(t, err)
	assert.Equal(t, "kimberly", u.Pseudo)
	assert.Equal(t, reg.EmailNorm, u.EmailNorm)

	require.NoError(t, svc.ChangePassword(ctx, reg.ID, "longenough", "another long one"))
	_, err = svc.Authenticate(ctx, "kim@example.com", "another long one")
	require.NoError(t, err)

	st, err := svc.Settings(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), st)

	tile := "terrain"
	st, err = svc.UpdateSettings(ctx, reg.ID, SettingsPatch{MapTile: &tile}, now)
	require.NoError(t, err)
	assert.Equal(t, "terrain", st.MapTile)
	assert.True(t, st.Notifications)

	dark := true
	st, err = svc.UpdateSettings(ctx, reg.ID, SettingsPatch{DarkMode: &dark}, now)
	require.NoError(t, err)
	assert.True(t, st.DarkMode)
	assert.Equal(t, "terrain", st.MapTile)

	_, err = store.PatchSettings(ctx, pgtest.NewID(t), SettingsPatch{DarkMode: &dark}, now)
	assert.True(t, fault.Is(err, fault.ErrNotFound))

	require.NoError(t, svc.Delete(ctx, reg.ID))
	_, err = store.GetSettings(ctx, reg.ID)
	assert.True(t, fault.Is(err, fault.ErrNotFound))
}

func TestPostgresStore_InvalidSchema(t *testing.T) {
	_, err := NewPostgresStore(nil, WithSchema("bad;schema"))
	require.Error(t, err)
}
