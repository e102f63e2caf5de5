package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"spotline/cmd/internal/fault"
	v1 "spotline/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	wsMinSendQueueSize = 32
	wsCloseGrace       = 1 * time.Second
	wsMaxPingFailures  = 3
)

// GatewayConfig tunes the chat socket. Fields are read from SPOTLINE_WS_* variables.
type GatewayConfig struct {
	// Origin is required by default and only the local frontend is allowed.
	OriginRequired bool     `env:"ORIGIN_REQUIRED" envDefault:"true"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173,http://127.0.0.1:5173"`

	// InsecureSkipOriginCheck disables the websocket library's own origin check. Dev only.
	InsecureSkipOriginCheck bool `env:"INSECURE_SKIP_ORIGIN_CHECK" envDefault:"false"`

	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`
	ReadIdleTimeout   time.Duration `env:"READ_IDLE_TIMEOUT" envDefault:"2m"`
	SendQueueSize     int           `env:"SEND_QUEUE" envDefault:"256"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"25s"`
	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_TIMEOUT" envDefault:"5s"`
	RateEvents        int           `env:"RATE_EVENTS" envDefault:"20"`
	RateWindow        time.Duration `env:"RATE_WINDOW" envDefault:"10s"`
}

// DefaultGatewayConfig mirrors the envDefault tags.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:    true,
		AllowedOrigins:    []string{"http://localhost:5173", "http://127.0.0.1:5173"},
		WriteTimeout:      5 * time.Second,
		ReadIdleTimeout:   2 * time.Minute,
		SendQueueSize:     256,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
	}
}

// Check validates the configuration.
func (c GatewayConfig) Check() error {
	switch {
	case c.WriteTimeout <= 0, c.ReadIdleTimeout <= 0:
		return errors.New("realtime: ws timeouts must be positive")
	case c.HeartbeatInterval <= 0, c.HeartbeatTimeout <= 0:
		return errors.New("realtime: ws heartbeat settings must be positive")
	case c.HeartbeatTimeout >= c.HeartbeatInterval:
		return errors.New("realtime: ws heartbeat timeout must be shorter than the interval")
	case c.RateEvents <= 0, c.RateWindow <= 0:
		return errors.New("realtime: ws rate limit must be positive")
	}
	return nil
}

// ConnRecorder tracks open connections.
type ConnRecorder interface {
	WSConnected(delta int)
}

// Peer is the authenticated member a connection belongs to. Callers resolve it and check
// membership before handing the request to the gateway.
type Peer struct {
	UserID  string
	GroupID string
}

// Gateway is the WebSocket entrypoint for group chat.
//
// It enforces origin policy, subprotocol selection, rate limits and heartbeats, and routes
// validated envelopes to the chat Service.
type Gateway struct {
	cfg  GatewayConfig
	chat *Service
	log  *zap.Logger
	rec  ConnRecorder

	// Derived for websocket.Accept, which authorizes same-host origins only unless
	// OriginPatterns lists the cross-origin hosts.
	originPatterns []string
}

// GatewayOption configures the Gateway.
type GatewayOption func(*Gateway) error

// WithGatewayConfig overrides the defaults.
func WithGatewayConfig(cfg GatewayConfig) GatewayOption {
	return func(g *Gateway) error {
		if err := cfg.Check(); err != nil {
			return err
		}
		if cfg.SendQueueSize < wsMinSendQueueSize {
			cfg.SendQueueSize = wsMinSendQueueSize
		}
		g.cfg = cfg
		return nil
	}
}

// WithGatewayLogger sets the gateway logger.
func WithGatewayLogger(l *zap.Logger) GatewayOption {
	return func(g *Gateway) error {
		if l != nil {
			g.log = l
		}
		return nil
	}
}

// WithConnRecorder wires the connection gauge.
func WithConnRecorder(r ConnRecorder) GatewayOption {
	return func(g *Gateway) error {
		if r != nil {
			g.rec = r
		}
		return nil
	}
}

// NewGateway constructs a gateway with secure defaults.
func NewGateway(chat *Service, opts ...GatewayOption) (*Gateway, error) {
	if chat == nil {
		return nil, errors.New("realtime: nil chat service")
	}
	g := &Gateway{cfg: DefaultGatewayConfig(), chat: chat, log: zap.NewNop()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	g.originPatterns = originPatterns(g.cfg.AllowedOrigins)
	return g, nil
}

// CheckOrigin applies the origin policy to an upgrade request.
func (g *Gateway) CheckOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	originHost := originHostOnly(origin)
	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*", origin == a:
			return nil
		case originHost != "" && originHost == originHostOnly(a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

// Serve upgrades the request and runs the chat loop for peer until either side closes.
func (g *Gateway) Serve(w http.ResponseWriter, r *http.Request, peer Peer) {
	if err := g.CheckOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", zap.Error(err), zap.String("remote", r.RemoteAddr))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.InsecureSkipOriginCheck,
	})
	if err != nil {
		g.log.Warn("ws.accept.fail", zap.Error(err))
		return
	}
	defer func() { _ = conn.CloseNow() }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", zap.String("got", sp))
		_ = conn.Close(websocket.StatusPolicyViolation, "subprotocol "+v1.Subprotocol+" required")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	now := time.Now().UTC()
	connID, err := NewConnID(now)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient(connID, peer.UserID, peer.GroupID, g.cfg.SendQueueSize)
	log := g.log.With(zap.String("conn_id", connID), zap.String("group_id", peer.GroupID), zap.String("user_id", peer.UserID))

	hub := g.chat.Hub()
	hub.Join(client)
	if g.rec != nil {
		g.rec.WSConnected(1)
		defer g.rec.WSConnected(-1)
	}
	log.Info("ws.open")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	// shutdown is idempotent and never closes client.Send: the client leaves the room
	// before it is closed, so broadcasters cannot write to a dead connection.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			hub.Leave(client)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				// Closed from outside the read loop, e.g. the group was deleted.
				shutdown(websocket.StatusGoingAway, "group closed")
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					log.Info("ws.write.fail", zap.Int("close_status", int(websocket.CloseStatus(err))), zap.Error(err))
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, client, log, shutdown)
	}()

	g.send(ctx, client, v1.TypeChatReady, v1.ChatReadyPayload{GroupID: peer.GroupID, ConnID: connID, UserID: peer.UserID})

	limiter := rate.NewLimiter(rate.Every(g.cfg.RateWindow/time.Duration(g.cfg.RateEvents)), g.cfg.RateEvents)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		data, err := readFrame(readCtx, conn)
		readCancel()
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				log.Info("ws.read.fail", zap.Error(err))
			}
			shutdown(websocket.StatusNormalClosure, "bye")
			break
		}

		if !limiter.Allow() {
			g.writeErrorNow(ctx, conn, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break
		}

		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			g.sendError(ctx, client, "bad_json", "invalid JSON")
			continue
		}
		if err := env.Validate(); err != nil {
			g.sendError(ctx, client, "bad_envelope", err.Error())
			continue
		}

		switch env.Type {
		case v1.TypeMessageSend:
			err = g.onMessageSend(ctx, client, env)
		case v1.TypeHistoryFetch:
			err = g.onHistoryFetch(ctx, client, env)
		default:
			g.sendError(ctx, client, "unsupported", "unsupported type: "+env.Type)
			continue
		}
		if err == nil {
			continue
		}

		if fault.Is(err, fault.ErrForbidden) {
			// Membership was revoked while connected.
			g.writeErrorNow(ctx, conn, fault.CodeOf(err), fault.MessageOf(err))
			shutdown(websocket.StatusPolicyViolation, "not a member")
			break readLoop
		}
		g.sendFault(ctx, client, log, err)
	}

	<-writerDone
	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
	log.Info("ws.close")
}

func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, client *Client, log *zap.Logger, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			log.Info("ws.ping.fail", zap.Int("failures", failures), zap.Error(err))
			if failures >= wsMaxPingFailures {
				shutdown(websocket.StatusGoingAway, "heartbeat failed")
				return
			}
		}
	}
}

func (g *Gateway) onMessageSend(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.MessageSendPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fault.E("chat.send", fault.ErrInvalidInput, "bad_payload", "invalid message.send payload")
	}

	res, err := g.chat.Post(ctx, PostInput{
		GroupID:       client.GroupID,
		UserID:        client.UserID,
		ClientMsgID:   p.ClientMsgID,
		Content:       p.Content,
		ReferenceType: p.ReferenceType,
		ReferenceID:   p.ReferenceID,
		Transport:     TransportWS,
	})
	if err != nil {
		return err
	}

	g.send(ctx, client, v1.TypeMessageAck, v1.MessageAckPayload{
		ClientMsgID: res.Message.ClientMsgID,
		MessageID:   res.Message.ID,
		Seq:         res.Message.Seq,
		Duplicate:   res.Duplicate,
	})
	return nil
}

func (g *Gateway) onHistoryFetch(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.HistoryFetchPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fault.E("chat.history", fault.ErrInvalidInput, "bad_payload", "invalid history.fetch payload")
		}
	}

	chunk, err := g.chat.History(ctx, HistoryInput{
		GroupID: client.GroupID,
		UserID:  client.UserID,
		Limit:   p.Limit,
		Offset:  p.Offset,
	})
	if err != nil {
		return err
	}
	g.send(ctx, client, v1.TypeHistoryChunk, chunk)
	return nil
}

// sendFault reports a service error. Errors outside the fault kinds are logged and hidden.
func (g *Gateway) sendFault(ctx context.Context, client *Client, log *zap.Logger, err error) {
	var fe *fault.Error
	if !errors.As(err, &fe) {
		log.Error("ws.handler.fail", zap.Error(err))
		g.sendError(ctx, client, "internal", "internal error")
		return
	}
	g.sendError(ctx, client, fault.CodeOf(err), fault.MessageOf(err))
}

// writeErrorNow bypasses the send queue so the error precedes the close frame.
func (g *Gateway) writeErrorNow(ctx context.Context, conn *websocket.Conn, code, msg string) {
	b, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	now := time.Now().UTC()
	env := v1.Envelope{V: v1.Version, Type: v1.TypeError, ID: NewEnvelopeID(now), TS: now, Payload: b}
	_ = writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout)
}

func (g *Gateway) sendError(ctx context.Context, client *Client, code, msg string) {
	g.send(ctx, client, v1.TypeError, v1.ErrorPayload{Code: code, Message: msg})
}

// send enqueues without blocking; a full queue drops the frame.
func (g *Gateway) send(ctx context.Context, client *Client, typ string, payload any) bool {
	b, err := json.Marshal(payload)
	if err != nil {
		g.log.Error("ws.encode.fail", zap.String("type", typ), zap.Error(err))
		return false
	}
	now := time.Now().UTC()
	env := v1.Envelope{V: v1.Version, Type: typ, ID: NewEnvelopeID(now), TS: now, Payload: b}

	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

func readFrame(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// originPatterns turns the allowlist into websocket.Accept host patterns.
func originPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
