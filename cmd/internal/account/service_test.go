package account

import (
	"context"
	"testing"
	"time"

	"spotline/cmd/identity"
	"spotline/cmd/internal/auth/session"
	"spotline/cmd/internal/fault"
	"spotline/cmd/internal/group"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPurger struct{ users []string }

func (p *recordingPurger) PurgeUser(_ context.Context, userID string) error {
	p.users = append(p.users, userID)
	return nil
}

type fixture struct {
	svc      *Service
	users    *identity.Service
	store    *identity.MemoryStore
	groups   *group.Service
	sessions *session.MemoryStore
	purger   *recordingPurger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := identity.NewMemoryStore()
	users, err := identity.NewService(store)
	require.NoError(t, err)
	groups, err := group.NewService(group.NewMemoryStore(), group.WithDirectory(users))
	require.NoError(t, err)

	sessions := session.NewMemoryStore()
	purger := &recordingPurger{}
	svc, err := NewService(users, groups, WithPurgers(sessions, purger))
	require.NoError(t, err)

	f := &fixture{svc: svc, users: users, store: store, groups: groups, sessions: sessions, purger: purger}
	f.seed(t, "alice", identity.RoleUser)
	f.seed(t, "bob", identity.RoleUser)
	f.seed(t, "root", identity.RoleAdmin)
	return f
}

func (f *fixture) seed(t *testing.T, id string, role identity.Role) {
	t.Helper()
	_, err := f.store.Create(context.Background(), identity.CreateRecord{
		ID:           id,
		Email:        id + "@example.test",
		EmailNorm:    id + "@example.test",
		Pseudo:       id,
		Role:         role,
		PasswordHash: "unused",
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
}

func (f *fixture) assertExists(t *testing.T, id string, want bool) {
	t.Helper()
	_, err := f.users.GetByID(context.Background(), id)
	if want {
		assert.NoError(t, err, id)
		return
	}
	assert.True(t, fault.Is(err, fault.ErrNotFound), "%s: got %v", id, err)
}

func TestNewService_RequiresDependencies(t *testing.T) {
	_, err := NewService(nil, nil)
	assert.True(t, fault.Is(err, fault.ErrInvalidInput))
}

func TestDelete_Self(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	solo, err := f.groups.Create(ctx, group.CreateInput{UserID: "alice", Name: "Solo pond"})
	require.NoError(t, err)
	shared, err := f.groups.Create(ctx, group.CreateInput{UserID: "alice", Name: "River crew"})
	require.NoError(t, err)
	_, err = f.groups.AddMember(ctx, "alice", shared.ID, "bob", group.RoleAdmin)
	require.NoError(t, err)
	require.NoError(t, f.sessions.Create(ctx, session.Row{ID: "s1", UserID: "alice", TokenHash: "h1", ExpiresAt: now.Add(time.Hour)}))

	require.NoError(t, f.svc.Delete(ctx, "alice", "alice"))

	f.assertExists(t, "alice", false)
	assert.Equal(t, []string{"alice"}, f.purger.users)

	_, err = f.groups.Lookup(ctx, solo.ID)
	assert.True(t, fault.Is(err, fault.ErrNotFound))
	g, err := f.groups.Lookup(ctx, shared.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", g.CreatorID)

	rows, err := f.sessions.ListActive(ctx, "alice", now)
	require.NoError(t, err)
	assert.Empty(t, rows)

	err = f.svc.Delete(ctx, "alice", "alice")
	assert.True(t, fault.Is(err, fault.ErrNotFound))
}

func TestDelete_OtherAccountNeedsSiteAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.Delete(ctx, "alice", "bob")
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.ErrForbidden))
	f.assertExists(t, "bob", true)
	assert.Empty(t, f.purger.users)

	require.NoError(t, f.svc.Delete(ctx, "root", "bob"))
	f.assertExists(t, "bob", false)

	err = f.svc.Delete(ctx, "root", "ghost")
	assert.True(t, fault.Is(err, fault.ErrNotFound))
}

func TestDelete_SoleAdminIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g, err := f.groups.Create(ctx, group.CreateInput{UserID: "alice", Name: "Pike hunters"})
	require.NoError(t, err)
	_, err = f.groups.AddMember(ctx, "alice", g.ID, "bob", group.RoleMember)
	require.NoError(t, err)

	err = f.svc.Delete(ctx, "alice", "alice")
	require.ErrorIs(t, err, group.ErrSoleAdmin)
	assert.Equal(t, "sole_admin", fault.CodeOf(err))
	f.assertExists(t, "alice", true)
	assert.Empty(t, f.purger.users)

	member, err := f.groups.IsMember(ctx, g.ID, "alice")
	require.NoError(t, err)
	assert.True(t, member)
}

func TestDelete_Validation(t *testing.T) {
	f := newFixture(t)
	assert.True(t, fault.Is(f.svc.Delete(context.Background(), " ", "alice"), fault.ErrInvalidInput))
	assert.True(t, fault.Is(f.svc.Delete(context.Background(), "alice", ""), fault.ErrInvalidInput))
}
