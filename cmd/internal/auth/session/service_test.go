package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"spotline/cmd/identity"
	"spotline/cmd/internal/fault"
	"spotline/cmd/security/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUsers map[string]identity.User

func (u fakeUsers) GetByID(_ context.Context, id string) (identity.User, error) {
	if usr, ok := u[id]; ok {
		return usr, nil
	}
	return identity.User{}, fault.NotFound("test.GetByID", "user")
}

var testUsers = fakeUsers{
	"alice": {ID: "alice", Email: "alice@example.test", Pseudo: "Alice", Role: identity.RoleUser},
}

func newTestService(t *testing.T, store Store) *Service {
	t.Helper()
	cfg := DefaultConfig()
	cfg.HashKey = strings.Repeat("h", 32)
	cfg.Secure = false
	svc, err := NewService(store, testUsers, WithConfig(cfg))
	require.NoError(t, err)
	return svc
}

func TestConfigCheck(t *testing.T) {
	require.NoError(t, DefaultConfig().Check())

	for name, mut := range map[string]func(*Config){
		"empty name":       func(c *Config) { c.CookieName = " " },
		"zero ttl":         func(c *Config) { c.TTL = 0 },
		"small token":      func(c *Config) { c.TokenBytes = 16 },
		"short hash key":   func(c *Config) { c.HashKey = "short" },
		"odd block key":    func(c *Config) { c.BlockKey = "abc" },
		"unknown samesite": func(c *Config) { c.SameSite = "sometimes" },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mut(&cfg)
			assert.ErrorIs(t, cfg.Check(), ErrConfig)
		})
	}
}

func TestIssueAndResolve(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := newTestService(t, store)
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	iss, err := svc.Issue(ctx, "alice", Device{UserAgent: "firefox", IP: "203.0.113.9"}, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(7*24*time.Hour), iss.ExpiresAt)

	row, err := store.GetByTokenHash(ctx, token.HashSHA256Hex(iss.Token))
	require.NoError(t, err)
	assert.Equal(t, iss.SessionID, row.ID)
	assert.NotEqual(t, iss.Token, row.TokenHash)

	p, err := svc.Resolve(ctx, iss.Token, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "alice", SessionID: iss.SessionID, Email: "alice@example.test", Pseudo: "Alice", Role: identity.RoleUser}, p)

	row, err = store.GetByTokenHash(ctx, row.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), row.LastSeenAt)

	_, err = svc.Resolve(ctx, iss.Token, iss.ExpiresAt)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.True(t, fault.Is(err, fault.ErrUnauthenticated))

	_, err = svc.Resolve(ctx, "nope", now)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestResolve_UnknownUserIsUnauthenticated(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, NewMemoryStore())
	iss, err := svc.Issue(ctx, "ghost", Device{}, time.Time{})
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, iss.Token, time.Time{})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRevokeAndOtherSessions(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, NewMemoryStore())
	now := time.Now().UTC()

	current, err := svc.Issue(ctx, "alice", Device{UserAgent: "laptop"}, now)
	require.NoError(t, err)
	phone, err := svc.Issue(ctx, "alice", Device{UserAgent: "phone"}, now.Add(time.Second))
	require.NoError(t, err)
	tablet, err := svc.Issue(ctx, "alice", Device{UserAgent: "tablet"}, now.Add(2*time.Second))
	require.NoError(t, err)

	p, err := svc.Resolve(ctx, current.Token, now)
	require.NoError(t, err)

	rows, err := svc.List(ctx, "alice", now)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	assert.ErrorIs(t, svc.RevokeForUser(ctx, p, current.SessionID, now), ErrCurrentSession)
	require.NoError(t, svc.RevokeForUser(ctx, p, phone.SessionID, now))
	_, err = svc.Resolve(ctx, phone.Token, now)
	assert.ErrorIs(t, err, ErrSessionRevoked)

	err = svc.RevokeForUser(ctx, Principal{UserID: "mallory", SessionID: "x"}, tablet.SessionID, now)
	assert.True(t, fault.Is(err, fault.ErrNotFound))

	n, err := svc.RevokeOthers(ctx, p, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, svc.Revoke(ctx, p, now))
	_, err = svc.Resolve(ctx, current.Token, now)
	assert.ErrorIs(t, err, ErrSessionRevoked)

	purged, err := svc.PurgeExpired(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, purged)
}

// wrappingStore annotates store errors the way a decorating store would.
type wrappingStore struct{ *MemoryStore }

func (s wrappingStore) Revoke(ctx context.Context, userID, sessionID string, now time.Time) error {
	if err := s.MemoryStore.Revoke(ctx, userID, sessionID, now); err != nil {
		return fmt.Errorf("sessions: revoke %s: %w", sessionID, err)
	}
	return nil
}

func TestRevokeForUser_WrappedNotFound(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, wrappingStore{NewMemoryStore()})
	now := time.Now().UTC()

	iss, err := svc.Issue(ctx, "alice", Device{}, now)
	require.NoError(t, err)
	p, err := svc.Resolve(ctx, iss.Token, now)
	require.NoError(t, err)

	err = svc.RevokeForUser(ctx, p, "no-such-session", now)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.ErrNotFound), "got %v", err)
	assert.False(t, fault.Is(err, fault.ErrUnauthenticated))
}

func TestMemoryStore_PurgeUser(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := newTestService(t, store)
	now := time.Now().UTC()

	iss, err := svc.Issue(ctx, "alice", Device{}, now)
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, Row{ID: "other", UserID: "bob", TokenHash: "bob-hash", ExpiresAt: now.Add(time.Hour)}))

	require.NoError(t, store.PurgeUser(ctx, "alice"))

	_, err = svc.Resolve(ctx, iss.Token, now)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	rows, err := store.ListActive(ctx, "bob", now)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestCookieRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, NewMemoryStore())
	iss, err := svc.Issue(ctx, "alice", Device{}, time.Time{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	require.NoError(t, svc.SetCookie(rec, iss))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, "spotline_session", c.Name)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.NotContains(t, c.Value, iss.Token)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(c)
	p, err := svc.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.UserID)

	tampered := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	tampered.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value + "x"})
	_, err = svc.Authenticate(tampered)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = svc.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrSessionNotFound)

	rec = httptest.NewRecorder()
	svc.ClearCookie(rec)
	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(t, -1, cleared[0].MaxAge)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{UserID: "alice"})
	p, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "alice", p.UserID)
}
