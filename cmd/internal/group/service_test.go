package group

import (
	"context"
	"strings"
	"testing"
	"time"

	"spotline/cmd/identity"
	"spotline/cmd/internal/fault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory map[string]identity.User

func (d fakeDirectory) GetByID(_ context.Context, id string) (identity.User, error) {
	u, ok := d[id]
	if !ok {
		return identity.User{}, fault.NotFound("test.GetByID", "user")
	}
	return u, nil
}

type recordingPurger struct{ groups []string }

func (p *recordingPurger) PurgeGroup(_ context.Context, groupID string) error {
	p.groups = append(p.groups, groupID)
	return nil
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	dir := fakeDirectory{
		"alice": {ID: "alice", Pseudo: "Alice"},
		"bob":   {ID: "bob", Pseudo: "Bob"},
		"carol": {ID: "carol", Pseudo: "Carol"},
	}
	svc, err := NewService(NewMemoryStore(), append([]Option{WithDirectory(dir)}, opts...)...)
	require.NoError(t, err)
	return svc
}

func mustCreate(t *testing.T, svc *Service, owner string) Group {
	t.Helper()
	g, err := svc.Create(context.Background(), CreateInput{UserID: owner, Name: "Pike hunters", Description: "Lake Annecy"})
	require.NoError(t, err)
	return g
}

func assertLastAdmin(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.ErrInvalidInput))
	assert.Equal(t, "last_admin", fault.CodeOf(err))
}

func TestCreate_CreatorIsAdmin(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	g := mustCreate(t, svc, "alice")
	assert.Len(t, g.ID, 26)
	assert.Equal(t, "alice", g.CreatorID)

	d, err := svc.Get(ctx, "alice", g.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, d.Role)
	require.Len(t, d.Members, 1)
	assert.Equal(t, "Alice", d.Members[0].Pseudo)

	list, err := svc.ListMine(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].MemberCount)
	assert.Equal(t, RoleAdmin, list[0].Role)
}

func TestCreate_Validation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{UserID: "alice", Name: "x"})
	assert.True(t, fault.Is(err, fault.ErrInvalidInput))

	_, err = svc.Create(ctx, CreateInput{UserID: "alice", Name: "<i></i>"})
	assert.True(t, fault.Is(err, fault.ErrInvalidInput))

	g, err := svc.Create(ctx, CreateInput{UserID: "alice", Name: "<b>Carp</b> crew"})
	require.NoError(t, err)
	assert.Equal(t, "Carp crew", g.Name)
}

func TestGet_NonMemberForbidden(t *testing.T) {
	svc := newTestService(t)
	g := mustCreate(t, svc, "alice")

	_, err := svc.Get(context.Background(), "bob", g.ID)
	assert.True(t, fault.Is(err, fault.ErrForbidden))

	_, err = svc.Get(context.Background(), "alice", "missing")
	assert.True(t, fault.Is(err, fault.ErrNotFound))
}

func TestLastAdminCannotBeDemotedRemovedOrLeave(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	g := mustCreate(t, svc, "alice")

	_, err := svc.AddMember(ctx, "alice", g.ID, "bob", RoleMember)
	require.NoError(t, err)

	_, err = svc.ChangeRole(ctx, "alice", g.ID, "alice", RoleMember)
	assertLastAdmin(t, err)

	err = svc.Leave(ctx, "alice", g.ID)
	assertLastAdmin(t, err)

	// A second admin removing the sole original admin is fine only while another admin remains.
	_, err = svc.ChangeRole(ctx, "alice", g.ID, "bob", RoleAdmin)
	require.NoError(t, err)
	require.NoError(t, svc.RemoveMember(ctx, "bob", g.ID, "alice"))

	err = svc.RemoveMember(ctx, "bob", g.ID, "bob")
	assertLastAdmin(t, err)

	admin, err := svc.IsAdmin(ctx, g.ID, "bob")
	require.NoError(t, err)
	assert.True(t, admin)
}

func TestAdminOnlyOperations(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	g := mustCreate(t, svc, "alice")

	_, err := svc.AddMember(ctx, "alice", g.ID, "bob", "")
	require.NoError(t, err)

	_, err = svc.AddMember(ctx, "bob", g.ID, "carol", RoleMember)
	assert.True(t, fault.Is(err, fault.ErrForbidden))

	_, err = svc.ChangeRole(ctx, "bob", g.ID, "alice", RoleGuest)
	assert.True(t, fault.Is(err, fault.ErrForbidden))

	err = svc.RemoveMember(ctx, "bob", g.ID, "alice")
	assert.True(t, fault.Is(err, fault.ErrForbidden))

	name := "Renamed"
	_, err = svc.Update(ctx, UpdateInput{UserID: "bob", GroupID: g.ID, Name: &name})
	assert.True(t, fault.Is(err, fault.ErrForbidden))

	updated, err := svc.Update(ctx, UpdateInput{UserID: "alice", GroupID: g.ID, Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, "Lake Annecy", updated.Description)
}

func TestAddMember(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	g := mustCreate(t, svc, "alice")

	m, err := svc.AddMember(ctx, "alice", g.ID, "bob", RoleGuest)
	require.NoError(t, err)
	assert.Equal(t, RoleGuest, m.Role)
	assert.Equal(t, "Bob", m.Pseudo)

	_, err = svc.AddMember(ctx, "alice", g.ID, "bob", RoleMember)
	assert.True(t, fault.Is(err, fault.ErrConflict))
	assert.Equal(t, "already_member", fault.CodeOf(err))

	_, err = svc.AddMember(ctx, "alice", g.ID, "ghost", RoleMember)
	assert.True(t, fault.Is(err, fault.ErrNotFound))

	_, err = svc.AddMember(ctx, "alice", g.ID, "carol", Role("owner"))
	assert.True(t, fault.Is(err, fault.ErrInvalidInput))
}

func TestRolesAreStoredCanonical(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	g := mustCreate(t, svc, "alice")

	m, err := svc.AddMember(ctx, "alice", g.ID, "bob", Role("Admin"))
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, m.Role)

	admin, err := svc.IsAdmin(ctx, g.ID, "bob")
	require.NoError(t, err)
	assert.True(t, admin)

	m, err = svc.ChangeRole(ctx, "alice", g.ID, "bob", Role(" GUEST "))
	require.NoError(t, err)
	assert.Equal(t, RoleGuest, m.Role)

	m, err = svc.AddMember(ctx, "alice", g.ID, "carol", Role("  "))
	require.NoError(t, err)
	assert.Equal(t, RoleMember, m.Role)

	d, err := svc.Get(ctx, "alice", g.ID)
	require.NoError(t, err)
	for _, mem := range d.Members {
		_, ok := ParseRole(string(mem.Role))
		assert.True(t, ok, "member %s", mem.UserID)
		assert.Equal(t, mem.Role, Role(strings.ToLower(string(mem.Role))))
	}
}

func TestLeave(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	g := mustCreate(t, svc, "alice")

	err := svc.Leave(ctx, "bob", g.ID)
	assert.True(t, fault.Is(err, fault.ErrForbidden))

	joined, err := svc.Join(ctx, g.ID, "bob", time.Time{})
	require.NoError(t, err)
	assert.True(t, joined)

	joined, err = svc.Join(ctx, g.ID, "bob", time.Time{})
	require.NoError(t, err)
	assert.False(t, joined)

	require.NoError(t, svc.Leave(ctx, "bob", g.ID))
	member, err := svc.IsMember(ctx, g.ID, "bob")
	require.NoError(t, err)
	assert.False(t, member)
}

func TestDelete_CreatorOnlyAndPurges(t *testing.T) {
	ctx := context.Background()
	purger := &recordingPurger{}
	svc := newTestService(t, WithPurgers(purger))
	g := mustCreate(t, svc, "alice")

	_, err := svc.AddMember(ctx, "alice", g.ID, "bob", RoleAdmin)
	require.NoError(t, err)

	err = svc.Delete(ctx, "bob", g.ID)
	assert.True(t, fault.Is(err, fault.ErrForbidden))

	require.NoError(t, svc.Delete(ctx, "alice", g.ID))
	assert.Equal(t, []string{g.ID}, purger.groups)

	_, err = svc.Lookup(ctx, g.ID)
	assert.True(t, fault.Is(err, fault.ErrNotFound))
}

func TestDetachUser_SoleAdminBlocks(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	g := mustCreate(t, svc, "alice")
	_, err := svc.AddMember(ctx, "alice", g.ID, "bob", RoleMember)
	require.NoError(t, err)

	err = svc.DetachUser(ctx, "alice")
	require.ErrorIs(t, err, ErrSoleAdmin)
	assert.True(t, fault.Is(err, fault.ErrConflict))

	for _, u := range []string{"alice", "bob"} {
		member, err := svc.IsMember(ctx, g.ID, u)
		require.NoError(t, err)
		assert.True(t, member, u)
	}
}

func TestDetachUser(t *testing.T) {
	ctx := context.Background()
	purger := &recordingPurger{}
	svc := newTestService(t, WithPurgers(purger))

	solo := mustCreate(t, svc, "alice")
	shared := mustCreate(t, svc, "alice")
	_, err := svc.AddMember(ctx, "alice", shared.ID, "carol", RoleMember)
	require.NoError(t, err)
	_, err = svc.AddMember(ctx, "alice", shared.ID, "bob", RoleAdmin)
	require.NoError(t, err)
	other := mustCreate(t, svc, "carol")
	_, err = svc.AddMember(ctx, "carol", other.ID, "alice", RoleAdmin)
	require.NoError(t, err)

	require.NoError(t, svc.DetachUser(ctx, "alice"))

	assert.Equal(t, []string{solo.ID}, purger.groups)
	_, err = svc.Lookup(ctx, solo.ID)
	assert.True(t, fault.Is(err, fault.ErrNotFound))

	g, err := svc.Lookup(ctx, shared.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", g.CreatorID, "an admin inherits the group ahead of older members")

	g, err = svc.Lookup(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, "carol", g.CreatorID)

	list, err := svc.ListMine(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list)

	err = svc.DetachUser(ctx, " ")
	assert.True(t, fault.Is(err, fault.ErrInvalidInput))
}

func TestCanInvite(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	g := mustCreate(t, svc, "alice")
	_, err := svc.AddMember(ctx, "alice", g.ID, "bob", RoleMember)
	require.NoError(t, err)
	_, err = svc.AddMember(ctx, "alice", g.ID, "carol", RoleAdmin)
	require.NoError(t, err)

	for user, want := range map[string]bool{"alice": true, "bob": false, "carol": true, "ghost": false} {
		ok, err := svc.CanInvite(ctx, g, user)
		require.NoError(t, err)
		assert.Equal(t, want, ok, user)
	}
}

func TestParseRole(t *testing.T) {
	r, ok := ParseRole(" Admin ")
	assert.True(t, ok)
	assert.Equal(t, RoleAdmin, r)

	_, ok = ParseRole("owner")
	assert.False(t, ok)
}
