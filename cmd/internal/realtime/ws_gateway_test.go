package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	v1 "spotline/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gatewayFixture struct {
	*chatFixture
	gw  *Gateway
	srv *httptest.Server
}

func newGatewayFixture(t *testing.T, mutate func(*GatewayConfig)) *gatewayFixture {
	t.Helper()
	f := newChatFixture(t)

	cfg := DefaultGatewayConfig()
	cfg.OriginRequired = false
	if mutate != nil {
		mutate(&cfg)
	}
	gw, err := NewGateway(f.chat, WithGatewayConfig(cfg), WithConnRecorder(f.rec))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gw.Serve(w, r, Peer{UserID: r.URL.Query().Get("user"), GroupID: f.group.ID})
	}))
	t.Cleanup(srv.Close)
	return &gatewayFixture{chatFixture: f, gw: gw, srv: srv}
}

func (f *gatewayFixture) dial(t *testing.T, user string, opts *websocket.DialOptions) *websocket.Conn {
	t.Helper()
	if opts == nil {
		opts = &websocket.DialOptions{Subprotocols: []string{v1.Subprotocol}}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.srv.URL, "http")+"?user="+user, opts)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func writeEnv(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	raw, err := json.Marshal(v1.Envelope{V: v1.Version, Type: typ, ID: "c-" + typ, TS: time.Now().UTC(), Payload: b})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, raw))
}

// readType skips frames until one of type typ arrives.
func readType(t *testing.T, conn *websocket.Conn, typ string) v1.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err, "waiting for %s", typ)
		var env v1.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		if env.Type == typ {
			return env
		}
	}
}

func decode[T any](t *testing.T, env v1.Envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Payload, &out))
	return out
}

func TestGateway_SendAckBroadcastHistory(t *testing.T) {
	f := newGatewayFixture(t, nil)

	alice := f.dial(t, "alice", nil)
	ready := decode[v1.ChatReadyPayload](t, readType(t, alice, v1.TypeChatReady))
	assert.Equal(t, f.group.ID, ready.GroupID)
	assert.Equal(t, "alice", ready.UserID)
	assert.NotEmpty(t, ready.ConnID)

	bob := f.dial(t, "bob", nil)
	readType(t, bob, v1.TypeChatReady)
	require.Eventually(t, func() bool { return f.hub.Connections(f.group.ID) == 2 }, time.Second, 10*time.Millisecond)

	writeEnv(t, alice, v1.TypeMessageSend, v1.MessageSendPayload{ClientMsgID: "m-1", Content: "Fish on!"})

	ack := decode[v1.MessageAckPayload](t, readType(t, alice, v1.TypeMessageAck))
	assert.Equal(t, "m-1", ack.ClientMsgID)
	assert.Equal(t, int64(1), ack.Seq)
	assert.False(t, ack.Duplicate)

	got := decode[v1.Message](t, readType(t, bob, v1.TypeMessageNew))
	assert.Equal(t, ack.MessageID, got.ID)
	assert.Equal(t, "Fish on!", got.Content)
	assert.Equal(t, "Alice", got.User.Pseudo)

	writeEnv(t, alice, v1.TypeMessageSend, v1.MessageSendPayload{ClientMsgID: "m-1", Content: "Fish on!"})
	dup := decode[v1.MessageAckPayload](t, readType(t, alice, v1.TypeMessageAck))
	assert.True(t, dup.Duplicate)
	assert.Equal(t, ack.MessageID, dup.MessageID)

	writeEnv(t, bob, v1.TypeHistoryFetch, v1.HistoryFetchPayload{Limit: 10})
	chunk := decode[v1.HistoryChunkPayload](t, readType(t, bob, v1.TypeHistoryChunk))
	assert.Equal(t, 1, chunk.Pagination.Total)
	require.Len(t, chunk.Messages, 1)
	assert.Equal(t, ack.MessageID, chunk.Messages[0].ID)

	assert.Equal(t, 1, f.rec.messages[TransportWS])
}

func TestGateway_ReportsBadFrames(t *testing.T) {
	f := newGatewayFixture(t, nil)
	conn := f.dial(t, "bob", nil)
	readType(t, conn, v1.TypeChatReady)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{nope")))
	assert.Equal(t, "bad_json", decode[v1.ErrorPayload](t, readType(t, conn, v1.TypeError)).Code)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"v":"v0","type":"message.send"}`)))
	assert.Equal(t, "bad_envelope", decode[v1.ErrorPayload](t, readType(t, conn, v1.TypeError)).Code)

	writeEnv(t, conn, v1.TypeMessageAck, v1.MessageAckPayload{})
	assert.Equal(t, "unsupported", decode[v1.ErrorPayload](t, readType(t, conn, v1.TypeError)).Code)

	writeEnv(t, conn, v1.TypeMessageSend, v1.MessageSendPayload{Content: " "})
	assert.Equal(t, "empty_message", decode[v1.ErrorPayload](t, readType(t, conn, v1.TypeError)).Code)
}

func TestGateway_ClosesWhenMembershipIsRevoked(t *testing.T) {
	f := newGatewayFixture(t, nil)
	conn := f.dial(t, "bob", nil)
	readType(t, conn, v1.TypeChatReady)

	require.NoError(t, f.groups.RemoveMember(context.Background(), "alice", f.group.ID, "bob"))

	writeEnv(t, conn, v1.TypeMessageSend, v1.MessageSendPayload{Content: "still here?"})
	errEnv := decode[v1.ErrorPayload](t, readType(t, conn, v1.TypeError))
	assert.Equal(t, "forbidden", errEnv.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestGateway_RateLimit(t *testing.T) {
	f := newGatewayFixture(t, func(c *GatewayConfig) {
		c.RateEvents = 2
		c.RateWindow = time.Minute
	})
	conn := f.dial(t, "bob", nil)
	readType(t, conn, v1.TypeChatReady)

	for i := 0; i < 3; i++ {
		writeEnv(t, conn, v1.TypeHistoryFetch, v1.HistoryFetchPayload{})
	}
	assert.Equal(t, "rate_limited", decode[v1.ErrorPayload](t, readType(t, conn, v1.TypeError)).Code)
}

func TestGateway_RequiresSubprotocol(t *testing.T) {
	f := newGatewayFixture(t, nil)
	conn := f.dial(t, "bob", &websocket.DialOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestGateway_RejectsMissingOriginWhenRequired(t *testing.T) {
	f := newGatewayFixture(t, func(c *GatewayConfig) { c.OriginRequired = true })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.srv.URL, "http")+"?user=bob",
		&websocket.DialOptions{Subprotocols: []string{v1.Subprotocol}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestGateway_CheckOrigin(t *testing.T) {
	gw, err := NewGateway(newChatFixture(t).chat, WithGatewayConfig(GatewayConfig{
		OriginRequired:    true,
		AllowedOrigins:    []string{"https://spotline.app", "http://localhost:5173"},
		WriteTimeout:      time.Second,
		ReadIdleTimeout:   time.Minute,
		HeartbeatInterval: 10 * time.Second,
		HeartbeatTimeout:  time.Second,
		RateEvents:        5,
		RateWindow:        time.Second,
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost", "spotline.app"}, gw.originPatterns)
	assert.Equal(t, wsMinSendQueueSize, gw.cfg.SendQueueSize)

	cases := map[string]bool{
		"":                       false,
		"https://spotline.app":   true,
		"http://localhost:3000":  true,
		"https://evil.example":   false,
		"https://spotline.app.x": false,
	}
	for origin, ok := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		if ok {
			assert.NoError(t, gw.CheckOrigin(r), origin)
		} else {
			assert.Error(t, gw.CheckOrigin(r), origin)
		}
	}
}

func TestGatewayConfig_Check(t *testing.T) {
	cfg := DefaultGatewayConfig()
	require.NoError(t, cfg.Check())

	bad := cfg
	bad.HeartbeatTimeout = bad.HeartbeatInterval
	assert.Error(t, bad.Check())

	bad = cfg
	bad.RateEvents = 0
	assert.Error(t, bad.Check())
}
