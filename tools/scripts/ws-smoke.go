// Package main is a CI-friendly smoke test for the Spotline group chat socket.
//
// It logs in, opens the chat of one group, sends a message and checks the ack, the
// message.new echo and a history page. Retrying the same client_msg_id must be deduplicated.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	v1 "spotline/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20

func main() {
	var (
		base     = flag.String("base", "http://127.0.0.1:8080", "API base URL")
		origin   = flag.String("origin", "http://localhost:5173", "Origin header sent on the WebSocket handshake")
		email    = flag.String("email", "", "account email")
		password = flag.String("password", "", "account password")
		groupID  = flag.String("group", "", "group id to chat in")
		text     = flag.String("text", "smoke test 🎣", "message content")
		timeout  = flag.Duration("timeout", 7*time.Second, "per-step timeout")
	)
	flag.Parse()

	if *email == "" || *password == "" || *groupID == "" {
		fatalf("-email, -password and -group are required")
	}
	u, err := url.Parse(*base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		fatalf("invalid -base %q", *base)
	}

	jar, _ := cookiejar.New(nil)
	httpc := &http.Client{Jar: jar, Timeout: *timeout}
	if err := login(httpc, u, *email, *password); err != nil {
		fatalf("login: %v", err)
	}

	wsURL := *u
	wsURL.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	wsURL.Path = strings.TrimRight(u.Path, "/") + "/groups/" + url.PathEscape(*groupID) + "/chat"

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	hdr := http.Header{}
	hdr.Set("Origin", *origin)
	conn, resp, err := websocket.Dial(ctx, wsURL.String(), &websocket.DialOptions{
		HTTPClient:   httpc,
		HTTPHeader:   hdr,
		Subprotocols: []string{v1.Subprotocol},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("dial %s: %v", wsURL.String(), err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()
	conn.SetReadLimit(maxReadBytes)

	step := func(name string, fn func(context.Context) error) {
		c, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()
		if err := fn(c); err != nil {
			fatalf("%s: %v", name, err)
		}
		fmt.Println("ok  ", name)
	}

	clientID := fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	var ack v1.MessageAckPayload

	step("chat.ready", func(c context.Context) error {
		_, err := await(c, conn, v1.TypeChatReady)
		return err
	})
	step("message.send -> ack + echo", func(c context.Context) error {
		if err := send(c, conn, v1.TypeMessageSend, v1.MessageSendPayload{ClientMsgID: clientID, Content: *text}); err != nil {
			return err
		}
		// The echo is broadcast to the room before the ack is queued; accept either order.
		var echo v1.Message
		for ack.MessageID == "" || echo.ID == "" {
			env, err := await(c, conn, v1.TypeMessageAck, v1.TypeMessageNew)
			if err != nil {
				return err
			}
			dst := any(&echo)
			if env.Type == v1.TypeMessageAck {
				dst = &ack
			}
			if err := json.Unmarshal(env.Payload, dst); err != nil {
				return err
			}
		}
		if echo.ID != ack.MessageID {
			return fmt.Errorf("echo id %s, ack id %s", echo.ID, ack.MessageID)
		}
		return nil
	})
	step("dedupe", func(c context.Context) error {
		if err := send(c, conn, v1.TypeMessageSend, v1.MessageSendPayload{ClientMsgID: clientID, Content: *text}); err != nil {
			return err
		}
		env, err := await(c, conn, v1.TypeMessageAck)
		if err != nil {
			return err
		}
		var dup v1.MessageAckPayload
		if err := json.Unmarshal(env.Payload, &dup); err != nil {
			return err
		}
		if !dup.Duplicate || dup.MessageID != ack.MessageID {
			return errors.New("retry was not deduplicated")
		}
		return nil
	})
	step("history.fetch", func(c context.Context) error {
		if err := send(c, conn, v1.TypeHistoryFetch, v1.HistoryFetchPayload{Limit: 1, Offset: 0}); err != nil {
			return err
		}
		env, err := await(c, conn, v1.TypeHistoryChunk)
		if err != nil {
			return err
		}
		var chunk v1.HistoryChunkPayload
		if err := json.Unmarshal(env.Payload, &chunk); err != nil {
			return err
		}
		if chunk.Pagination.Total < 1 {
			return errors.New("empty history")
		}
		return nil
	})
}

func login(c *http.Client, base *url.URL, email, password string) error {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := c.Post(base.JoinPath("auth", "login").String(), "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func send(ctx context.Context, conn *websocket.Conn, typ string, payload any) error {
	p, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b, err := json.Marshal(v1.Envelope{V: v1.Version, Type: typ, TS: time.Now().UTC(), Payload: p})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// await reads until an envelope of one of the given types; an error envelope fails the step.
func await(ctx context.Context, conn *websocket.Conn, types ...string) (v1.Envelope, error) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return v1.Envelope{}, err
		}
		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return v1.Envelope{}, err
		}
		if env.Type == v1.TypeError {
			var p v1.ErrorPayload
			_ = json.Unmarshal(env.Payload, &p)
			return v1.Envelope{}, fmt.Errorf("server error %s: %s", p.Code, p.Message)
		}
		if slices.Contains(types, env.Type) {
			return env, nil
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL "+format+"\n", args...)
	os.Exit(1)
}
