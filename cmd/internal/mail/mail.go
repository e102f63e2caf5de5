// Package mail builds and delivers Spotline's outgoing notifications.
//
// Delivery is best effort: producers hand messages to a Dispatcher, which sends them on
// background workers and only logs failures.
package mail

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Message is one outgoing email. Text is the plain-text alternative of HTML.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// LogSender writes messages to the log instead of delivering them. It is the default when
// no SMTP host is configured.
type LogSender struct {
	log *zap.Logger
}

// NewLogSender returns a LogSender writing through l.
func NewLogSender(l *zap.Logger) *LogSender {
	if l == nil {
		l = zap.NewNop()
	}
	return &LogSender{log: l}
}

func (s *LogSender) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.log.Info("mail.log",
		zap.String("to", maskAddress(m.To)),
		zap.String("subject", m.Subject),
		zap.String("text", m.Text),
	)
	return nil
}

// maskAddress keeps the domain and the first character of the local part.
func maskAddress(addr string) string {
	at := strings.LastIndexByte(addr, '@')
	if at <= 0 {
		return "***"
	}
	return addr[:1] + "***" + addr[at:]
}
