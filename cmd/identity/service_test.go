package identity

import (
	"context"
	"testing"
	"time"

	"spotline/cmd/internal/fault"
	"spotline/cmd/security/password"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cheapPasswords() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(NewMemoryStore(), WithPasswordConfig(cheapPasswords()))
	require.NoError(t, err)
	return svc
}

func TestNewService_NilStore(t *testing.T) {
	_, err := NewService(nil)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.ErrInvalidInput))
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	u, err := svc.Register(ctx, RegisterInput{
		Email:    "Alice@Example.com",
		Password: "correct horse battery",
		Pseudo:   "  alice ",
		Now:      now,
	})
	require.NoError(t, err)

	assert.Len(t, u.ID, 26)
	assert.Equal(t, "Alice@Example.com", u.Email)
	assert.Equal(t, "alice@example.com", u.EmailNorm)
	assert.Equal(t, "alice", u.Pseudo)
	assert.Equal(t, RoleUser, u.Role)
	assert.Equal(t, now, u.CreatedAt)
	assert.NotEqual(t, "correct horse battery", u.PasswordHash)

	_, err = svc.Register(ctx, RegisterInput{Email: "alice@EXAMPLE.com", Password: "another password", Pseudo: "alice2"})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.ErrConflict))
	assert.Equal(t, "email_taken", fault.CodeOf(err))
}

func TestRegister_Validation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	cases := []struct {
		name string
		in   RegisterInput
		code string
	}{
		{"bad email", RegisterInput{Email: "not-an-email", Password: "longenough", Pseudo: "bob"}, "invalid_input"},
		{"display name email", RegisterInput{Email: "Bob <bob@example.com>", Password: "longenough", Pseudo: "bob"}, "invalid_input"},
		{"pseudo too short", RegisterInput{Email: "bob@example.com", Password: "longenough", Pseudo: "b"}, "invalid_input"},
		{"pseudo only markup", RegisterInput{Email: "bob@example.com", Password: "longenough", Pseudo: "<b></b>"}, "invalid_input"},
		{"pseudo too long", RegisterInput{Email: "bob@example.com", Password: "longenough", Pseudo: "abcdefghijabcdefghijabcdefghijk"}, "invalid_input"},
		{"short password", RegisterInput{Email: "bob@example.com", Password: "short", Pseudo: "bob"}, "weak_password"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tc.in)
			require.Error(t, err)
			assert.True(t, fault.Is(err, fault.ErrInvalidInput))
			assert.Equal(t, tc.code, fault.CodeOf(err))
		})
	}
}

func TestRegister_StripsMarkupFromPseudo(t *testing.T) {
	svc := newTestService(t)

	u, err := svc.Register(context.Background(), RegisterInput{
		Email:    "carol@example.com",
		Password: "longenough",
		Pseudo:   "<script>x</script>carol",
	})
	require.NoError(t, err)
	assert.Equal(t, "carol", u.Pseudo)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	reg, err := svc.Register(ctx, RegisterInput{Email: "dave@example.com", Password: "longenough", Pseudo: "dave"})
	require.NoError(t, err)

	u, err := svc.Authenticate(ctx, "  DAVE@example.com ", "longenough")
	require.NoError(t, err)
	assert.Equal(t, reg.ID, u.ID)

	_, err = svc.Authenticate(ctx, "dave@example.com", "wrong-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	assert.True(t, fault.Is(err, fault.ErrUnauthenticated))

	_, err = svc.Authenticate(ctx, "nobody@example.com", "longenough")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticate_CanceledContext(t *testing.T) {
	svc := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Authenticate(ctx, "dave@example.com", "longenough")
	require.ErrorIs(t, err, context.Canceled)
}

func TestFindByEmailAndGetByID(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	reg, err := svc.Register(ctx, RegisterInput{Email: "erin@example.com", Password: "longenough", Pseudo: "erin"})
	require.NoError(t, err)

	u, err := svc.FindByEmail(ctx, "ERIN@example.com")
	require.NoError(t, err)
	assert.Equal(t, reg.ID, u.ID)

	u, err = svc.GetByID(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, "erin", u.Pseudo)

	_, err = svc.FindByEmail(ctx, "missing@example.com")
	assert.True(t, fault.Is(err, fault.ErrNotFound))

	_, err = svc.GetByID(ctx, " ")
	assert.True(t, fault.Is(err, fault.ErrInvalidInput))
}

func TestValidEmail(t *testing.T) {
	assert.True(t, ValidEmail("a@b.co"))
	assert.True(t, ValidEmail("  a@b.co  "))
	assert.False(t, ValidEmail(""))
	assert.False(t, ValidEmail("a@"))
	assert.False(t, ValidEmail("A <a@b.co>"))
}

func TestChangePseudo(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	reg, err := svc.Register(ctx, RegisterInput{Email: "gina@example.com", Password: "longenough", Pseudo: "gina"})
	require.NoError(t, err)

	u, err := svc.ChangePseudo(ctx, reg.ID, "  <i>Gigi</i> ")
	require.NoError(t, err)
	assert.Equal(t, "Gigi", u.Pseudo)

	stored, err := svc.GetByID(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, "Gigi", stored.Pseudo)

	_, err = svc.ChangePseudo(ctx, reg.ID, "g")
	assert.True(t, fault.Is(err, fault.ErrInvalidInput))

	_, err = svc.ChangePseudo(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ", "ghost")
	assert.True(t, fault.Is(err, fault.ErrNotFound))
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	reg, err := svc.Register(ctx, RegisterInput{Email: "hank@example.com", Password: "longenough", Pseudo: "hank"})
	require.NoError(t, err)

	err = svc.ChangePassword(ctx, reg.ID, "not-the-password", "brand new secret")
	require.ErrorIs(t, err, ErrWrongPassword)
	assert.True(t, fault.Is(err, fault.ErrForbidden))

	err = svc.ChangePassword(ctx, reg.ID, "longenough", "short")
	assert.Equal(t, "weak_password", fault.CodeOf(err))

	require.NoError(t, svc.ChangePassword(ctx, reg.ID, "longenough", "brand new secret"))

	_, err = svc.Authenticate(ctx, "hank@example.com", "longenough")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "hank@example.com", "brand new secret")
	require.NoError(t, err)
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	reg, err := svc.Register(ctx, RegisterInput{Email: "ivy@example.com", Password: "longenough", Pseudo: "ivy"})
	require.NoError(t, err)

	st, err := svc.Settings(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), st)

	dark := true
	st, err = svc.UpdateSettings(ctx, reg.ID, SettingsPatch{DarkMode: &dark}, now)
	require.NoError(t, err)
	assert.True(t, st.DarkMode)
	assert.Equal(t, DefaultMapTile, st.MapTile)
	assert.True(t, st.Notifications)
	assert.Equal(t, now, st.UpdatedAt)

	tile, off := " satellite ", false
	st, err = svc.UpdateSettings(ctx, reg.ID, SettingsPatch{MapTile: &tile, Notifications: &off}, now)
	require.NoError(t, err)
	assert.True(t, st.DarkMode, "unset fields keep their stored value")
	assert.Equal(t, "satellite", st.MapTile)
	assert.False(t, st.Notifications)

	_, err = svc.UpdateSettings(ctx, reg.ID, SettingsPatch{}, now)
	assert.True(t, fault.Is(err, fault.ErrInvalidInput))

	blank := "   "
	_, err = svc.UpdateSettings(ctx, reg.ID, SettingsPatch{MapTile: &blank}, now)
	assert.True(t, fault.Is(err, fault.ErrInvalidInput))

	_, err = svc.Settings(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	assert.True(t, fault.Is(err, fault.ErrNotFound))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	reg, err := svc.Register(ctx, RegisterInput{Email: "jack@example.com", Password: "longenough", Pseudo: "jack"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, reg.ID))

	_, err = svc.GetByID(ctx, reg.ID)
	assert.True(t, fault.Is(err, fault.ErrNotFound))
	assert.True(t, fault.Is(svc.Delete(ctx, reg.ID), fault.ErrNotFound))

	// The email is free again.
	_, err = svc.Register(ctx, RegisterInput{Email: "jack@example.com", Password: "longenough", Pseudo: "jack"})
	require.NoError(t, err)
}
