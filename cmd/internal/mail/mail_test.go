package mail

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, m)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type countingObserver struct {
	mu      sync.Mutex
	results map[string]int
}

func (o *countingObserver) MailResult(r string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.results == nil {
		o.results = map[string]int{}
	}
	o.results[r]++
}

func (o *countingObserver) get(r string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.results[r]
}

func TestDispatcher_DeliversAndDrainsOnStop(t *testing.T) {
	sender := &recordingSender{}
	obs := &countingObserver{}
	d := NewDispatcher(sender, zap.NewNop(), DispatcherConfig{Workers: 2, QueueSize: 8}, obs)
	d.Start()

	for i := 0; i < 5; i++ {
		require.True(t, d.Enqueue(Message{To: "a@example.com", Subject: "hi"}))
	}
	d.Stop()

	assert.Equal(t, 5, sender.count())
	assert.Equal(t, 5, obs.get("sent"))

	assert.False(t, d.Enqueue(Message{To: "late@example.com"}))
	assert.Equal(t, 1, obs.get("dropped"))
}

func TestDispatcher_DropsWhenQueueFull(t *testing.T) {
	obs := &countingObserver{}
	d := NewDispatcher(&recordingSender{}, nil, DispatcherConfig{Workers: 1, QueueSize: 1}, obs)

	// Not started: the first message fills the queue.
	assert.True(t, d.Enqueue(Message{To: "a@example.com"}))
	assert.False(t, d.Enqueue(Message{To: "b@example.com"}))
	assert.Equal(t, 1, obs.get("dropped"))
}

func TestDispatcher_EveryMessageAccountedAcrossStop(t *testing.T) {
	sender := &recordingSender{}
	obs := &countingObserver{}
	d := NewDispatcher(sender, nil, DispatcherConfig{Workers: 2, QueueSize: 1024}, obs)
	d.Start()

	const total = 400
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.Enqueue(Message{To: "a@example.com"}) {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
		if i == total/2 {
			go d.Stop()
		}
	}
	wg.Wait()
	d.Stop()

	assert.Equal(t, accepted, sender.count(), "accepted messages are delivered")
	assert.Equal(t, total, obs.get("sent")+obs.get("dropped"))
}

func TestDispatcher_StopWithoutStartCountsQueuedAsDropped(t *testing.T) {
	obs := &countingObserver{}
	d := NewDispatcher(&recordingSender{}, nil, DispatcherConfig{Workers: 1, QueueSize: 4}, obs)

	require.True(t, d.Enqueue(Message{To: "a@example.com"}))
	require.True(t, d.Enqueue(Message{To: "b@example.com"}))
	d.Stop()

	assert.Equal(t, 2, obs.get("dropped"))
	assert.Zero(t, obs.get("sent"))
}

func TestDispatcher_SendFailureIsObserved(t *testing.T) {
	obs := &countingObserver{}
	d := NewDispatcher(&recordingSender{err: errors.New("boom")}, nil, DispatcherConfig{Workers: 1, QueueSize: 2}, obs)
	d.Start()
	require.True(t, d.Enqueue(Message{To: "a@example.com"}))
	d.Stop()

	assert.Equal(t, 1, obs.get("failed"))
}

func TestBuildInvitationEmail(t *testing.T) {
	m := BuildInvitationEmail(InvitationData{
		GroupName:     "Pike & <Perch>",
		InviterPseudo: "alice",
		ActionURL:     "https://spotline.test/register",
	})

	assert.Contains(t, m.Subject, "Spotline")
	assert.Contains(t, m.Text, "https://spotline.test/register")
	assert.Contains(t, m.Text, "Create your account")
	assert.Contains(t, m.HTML, "Pike &amp; &lt;Perch&gt;")
	assert.NotContains(t, m.HTML, "<Perch>")

	m = BuildInvitationEmail(InvitationData{GroupName: "g", HasAccount: true})
	assert.Contains(t, m.Text, "Log in to accept")
}

func TestMaskAddress(t *testing.T) {
	assert.Equal(t, "b***@example.com", maskAddress("bob@example.com"))
	assert.Equal(t, "***", maskAddress("nope"))
}

func TestBuildMIME(t *testing.T) {
	raw, err := buildMIME("Spotline <no-reply@spotline.test>", Message{
		To:      "bob@example.com",
		Subject: "Invitation à pêcher",
		Text:    "plain",
		HTML:    "<p>html</p>",
	})
	require.NoError(t, err)

	s := string(raw)
	assert.Contains(t, s, "To: bob@example.com\r\n")
	assert.Contains(t, s, "Subject: =?utf-8?q?")
	assert.Contains(t, s, "multipart/alternative")
	assert.Contains(t, s, "text/plain; charset=utf-8")
	assert.Contains(t, s, "text/html; charset=utf-8")
}

func TestEnvelopeAddress(t *testing.T) {
	got, err := envelopeAddress("Spotline <no-reply@spotline.test>")
	require.NoError(t, err)
	assert.Equal(t, "no-reply@spotline.test", got)

	got, err = envelopeAddress("plain@spotline.test")
	require.NoError(t, err)
	assert.Equal(t, "plain@spotline.test", got)

	_, err = envelopeAddress("Broken <>")
	assert.Error(t, err)
}

// fakeSMTP accepts one session and records the DATA payload.
func fakeSMTP(t *testing.T) (addr string, data <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	out := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		write := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }

		write("220 fake ESMTP")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				write("250-fake")
				write("250 8BITMIME")
			case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
				write("250 OK")
			case cmd == "DATA":
				write("354 go ahead")
				var b strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
					b.WriteString(l)
				}
				out <- b.String()
				write("250 queued")
			case cmd == "QUIT":
				write("221 bye")
				return
			default:
				write("250 OK")
			}
		}
	}()
	return ln.Addr().String(), out
}

func TestSMTPSender_Send(t *testing.T) {
	addr, data := fakeSMTP(t)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	s, err := NewSMTPSender(SMTPConfig{Host: host, Port: port, From: "Spotline <no-reply@spotline.test>"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Send(ctx, Message{To: "bob@example.com", Subject: "hello", Text: "hi bob"}))

	select {
	case got := <-data:
		assert.Contains(t, got, "To: bob@example.com")
		assert.Contains(t, got, "hi bob")
	case <-time.After(5 * time.Second):
		t.Fatal("no DATA received")
	}
}

func TestNewSMTPSender_Validation(t *testing.T) {
	_, err := NewSMTPSender(SMTPConfig{})
	assert.Error(t, err)
	_, err = NewSMTPSender(SMTPConfig{Host: "smtp.test", Port: 70000, From: "x@y"})
	assert.Error(t, err)
}
