package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"spotline/cmd/identity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// siteAdmin seeds an account with the site-wide admin role and logs it in.
func (f *apiFixture) siteAdmin(t *testing.T, email string) *client {
	t.Helper()
	hash, err := f.passwords.Hash(testPassword)
	require.NoError(t, err)
	_, err = f.userStore.Create(context.Background(), identity.CreateRecord{
		ID:           "01JADM1N000000000000000000",
		Email:        email,
		EmailNorm:    identity.NormalizeEmail(email),
		Pseudo:       "Root",
		Role:         identity.RoleAdmin,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)

	c := f.client(t)
	status, body := c.do(http.MethodPost, "/auth/login", map[string]string{"email": email, "password": testPassword})
	require.Equal(t, http.StatusOK, status, string(body))
	return c
}

func TestUser_ChangePseudo(t *testing.T) {
	f := newAPIFixture(t, nil)
	c, _ := f.signup(t, "alice@example.test", "Alice")

	status, body := c.do(http.MethodPut, "/user/pseudo", map[string]string{"pseudo": "  Ally "})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "Ally", decodeBody[userResponse](t, body).Pseudo)

	status, body = c.do(http.MethodGet, "/auth/me", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Ally", decodeBody[userResponse](t, body).Pseudo)

	status, body = c.do(http.MethodPut, "/user/pseudo", map[string]string{"pseudo": "A"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_input", errorCode(t, body))

	status, _ = f.client(t).do(http.MethodPut, "/user/pseudo", map[string]string{"pseudo": "Anon"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAuth_ChangePasswordRevokesOtherSessions(t *testing.T) {
	f := newAPIFixture(t, nil)
	laptop, _ := f.signup(t, "alice@example.test", "Alice")
	phone := f.client(t)
	status, _ := phone.do(http.MethodPost, "/auth/login", map[string]string{"email": "alice@example.test", "password": testPassword})
	require.Equal(t, http.StatusOK, status)

	status, body := laptop.do(http.MethodPut, "/auth/password", map[string]string{
		"oldPassword": "not my password", "newPassword": "a brand new secret",
	})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "wrong_password", errorCode(t, body))

	status, body = laptop.do(http.MethodPut, "/auth/password", map[string]string{
		"oldPassword": testPassword, "newPassword": "a brand new secret",
	})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, 1, decodeBody[map[string]int](t, body)["revoked"])

	status, _ = laptop.do(http.MethodGet, "/auth/me", nil)
	assert.Equal(t, http.StatusOK, status, "the current session survives")
	status, _ = phone.do(http.MethodGet, "/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = f.client(t).do(http.MethodPost, "/auth/login", map[string]string{"email": "alice@example.test", "password": "a brand new secret"})
	assert.Equal(t, http.StatusOK, status)
}

func TestUser_Settings(t *testing.T) {
	f := newAPIFixture(t, nil)
	c, _ := f.signup(t, "alice@example.test", "Alice")

	status, body := c.do(http.MethodGet, "/user/settings", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	st := decodeBody[settingsResponse](t, body)
	assert.Equal(t, settingsResponse{MapTile: identity.DefaultMapTile, Notifications: true}, st)

	status, body = c.do(http.MethodPut, "/user/settings", `{"darkMode":true}`)
	require.Equal(t, http.StatusOK, status, string(body))
	st = decodeBody[settingsResponse](t, body)
	assert.True(t, st.DarkMode)
	assert.True(t, st.Notifications)
	assert.NotNil(t, st.UpdatedAt)

	status, body = c.do(http.MethodPut, "/user/settings", `{"mapTile":"satellite","notifications":false}`)
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = c.do(http.MethodGet, "/user/settings", nil)
	require.Equal(t, http.StatusOK, status)
	st = decodeBody[settingsResponse](t, body)
	assert.True(t, st.DarkMode)
	assert.Equal(t, "satellite", st.MapTile)
	assert.False(t, st.Notifications)

	status, body = c.do(http.MethodPut, "/user/settings", `{"mapTile":""}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_input", errorCode(t, body))

	status, body = c.do(http.MethodPut, "/user/settings", `{"theme":"dark"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_json", errorCode(t, body))
}

func TestUser_DeleteOwnAccount(t *testing.T) {
	f := newAPIFixture(t, nil)
	alice, _ := f.signup(t, "alice@example.test", "Alice")
	bob, bobID := f.signup(t, "bob@example.test", "Bob")
	gid := f.createGroup(t, alice, "Pike hunters")

	status, body := alice.do(http.MethodPost, "/groups/"+gid+"/members", map[string]string{"userId": bobID, "role": "member"})
	require.Equal(t, http.StatusCreated, status, string(body))

	status, body = alice.do(http.MethodDelete, "/user", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "sole_admin", errorCode(t, body))

	status, body = bob.do(http.MethodDelete, "/user", nil)
	require.Equal(t, http.StatusNoContent, status, string(body))

	status, _ = bob.do(http.MethodGet, "/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, body = f.client(t).do(http.MethodPost, "/auth/login", map[string]string{"email": "bob@example.test", "password": testPassword})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_credentials", errorCode(t, body))

	status, body = alice.do(http.MethodGet, "/groups/"+gid, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.NotContains(t, string(body), bobID)

	status, _ = alice.do(http.MethodDelete, "/user", nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = alice.do(http.MethodGet, "/groups/"+gid, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestUser_SiteAdminDeletesAccount(t *testing.T) {
	f := newAPIFixture(t, nil)
	alice, _ := f.signup(t, "alice@example.test", "Alice")
	bob, bobID := f.signup(t, "bob@example.test", "Bob")

	status, body := alice.do(http.MethodDelete, "/user/"+bobID, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", errorCode(t, body))

	root := f.siteAdmin(t, "root@example.test")
	status, body = root.do(http.MethodDelete, "/user/"+bobID, nil)
	require.Equal(t, http.StatusNoContent, status, string(body))

	status, _ = bob.do(http.MethodGet, "/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = alice.do(http.MethodGet, "/auth/me", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = root.do(http.MethodDelete, "/user/"+bobID, nil)
	assert.Equal(t, http.StatusNotFound, status)
}
