package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"spotline/cmd/identity"
	"spotline/cmd/internal/fault"
	"spotline/cmd/internal/group"
	"spotline/cmd/internal/textsan"
	v1 "spotline/shared/contracts/realtime/v1"

	"go.uber.org/zap"
)

// Members is the membership check the chat relies on.
type Members interface {
	AssertMember(ctx context.Context, groupID, userID string) (group.Member, error)
}

// Users resolves message authors.
type Users interface {
	GetByID(ctx context.Context, id string) (identity.User, error)
}

// Recorder receives chat metrics.
type Recorder interface {
	ChatMessage(transport string)
}

// Transports a message can be posted through.
const (
	TransportWS   = "ws"
	TransportHTTP = "http"
)

// PostInput describes one message sent by a member.
type PostInput struct {
	GroupID       string
	UserID        string
	ClientMsgID   string
	Content       string
	ReferenceType *string
	ReferenceID   *string
	Transport     string
	Now           time.Time
}

// PostResult is the stored message. Duplicate is set when ClientMsgID had already been stored.
type PostResult struct {
	Message   v1.Message
	Duplicate bool
}

// HistoryInput asks for a window of a group's history.
type HistoryInput struct {
	GroupID string
	UserID  string
	Limit   int
	Offset  int
}

// Service stores chat messages and relays them to connected members.
type Service struct {
	store   MessageStore
	members Members
	users   Users
	hub     *Hub

	fanout Publisher
	rec    Recorder
	log    *zap.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithPublisher relays broadcasts to other instances.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.fanout = p
		}
	}
}

// WithRecorder wires chat metrics.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.rec = r
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService constructs a chat Service.
func NewService(store MessageStore, members Members, users Users, hub *Hub, opts ...Option) (*Service, error) {
	if store == nil || members == nil || users == nil || hub == nil {
		return nil, fault.Invalid("chat.NewService", "nil dependency")
	}
	s := &Service{store: store, members: members, users: users, hub: hub, log: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Hub returns the local connection hub.
func (s *Service) Hub() *Hub { return s.hub }

// Post stores a message from a group member and broadcasts it to the group.
// A retried ClientMsgID returns the stored message without a second broadcast.
func (s *Service) Post(ctx context.Context, in PostInput) (PostResult, error) {
	const op = "chat.Post"
	if err := ctx.Err(); err != nil {
		return PostResult{}, err
	}

	if _, err := s.members.AssertMember(ctx, in.GroupID, in.UserID); err != nil {
		return PostResult{}, err
	}

	content := textsan.Plain(in.Content)
	if content == "" {
		return PostResult{}, fault.E(op, fault.ErrInvalidInput, "empty_message", "message content is required")
	}
	if utf8.RuneCountInString(content) > maxMessageChars {
		return PostResult{}, fault.E(op, fault.ErrInvalidInput, "message_too_long", "message is limited to 2000 characters")
	}
	clientID := strings.TrimSpace(in.ClientMsgID)
	if len(clientID) > maxClientMsgIDLen {
		return PostResult{}, fault.Invalid(op, "client_msg_id too long")
	}
	refType, refID, err := cleanReference(op, in.ReferenceType, in.ReferenceID)
	if err != nil {
		return PostResult{}, err
	}

	now := nowOr(in.Now)
	id, err := NewMessageID(now)
	if err != nil {
		return PostResult{}, err
	}

	res, err := s.store.AppendMessage(ctx, AppendMessageInput{
		ID:            id,
		GroupID:       in.GroupID,
		UserID:        in.UserID,
		ClientMsgID:   clientID,
		Content:       content,
		ReferenceType: refType,
		ReferenceID:   refID,
		Now:           now,
	})
	if err != nil {
		return PostResult{}, err
	}

	msg := s.render(ctx, res.Stored, map[string]string{})
	if res.Duplicated {
		return PostResult{Message: msg, Duplicate: true}, nil
	}

	if s.rec != nil {
		transport := in.Transport
		if transport == "" {
			transport = TransportHTTP
		}
		s.rec.ChatMessage(transport)
	}
	s.broadcast(ctx, msg, now)
	return PostResult{Message: msg}, nil
}

// History returns messages oldest first. Limit defaults to 50 and must be 1..100.
func (s *Service) History(ctx context.Context, in HistoryInput) (v1.HistoryChunkPayload, error) {
	const op = "chat.History"
	if err := ctx.Err(); err != nil {
		return v1.HistoryChunkPayload{}, err
	}
	if in.Limit == 0 {
		in.Limit = defaultHistoryLimit
	}
	if in.Limit < 1 || in.Limit > maxHistoryLimit {
		return v1.HistoryChunkPayload{}, fault.Invalid(op, "limit must be between 1 and 100")
	}
	if in.Offset < 0 {
		return v1.HistoryChunkPayload{}, fault.Invalid(op, "offset must not be negative")
	}

	if _, err := s.members.AssertMember(ctx, in.GroupID, in.UserID); err != nil {
		return v1.HistoryChunkPayload{}, err
	}

	out, err := s.store.FetchHistory(ctx, FetchHistoryInput{GroupID: in.GroupID, Limit: in.Limit, Offset: in.Offset})
	if err != nil {
		return v1.HistoryChunkPayload{}, err
	}

	pseudos := map[string]string{}
	msgs := make([]v1.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, s.render(ctx, m, pseudos))
	}
	return v1.HistoryChunkPayload{
		Messages:   msgs,
		Pagination: v1.Pagination{Limit: in.Limit, Offset: in.Offset, Total: out.Total},
	}, nil
}

// PurgeGroup drops a deleted group's messages and disconnects its sockets.
func (s *Service) PurgeGroup(ctx context.Context, groupID string) error {
	return NewPurger(s.store, s.hub, s.fanout, s.log).PurgeGroup(ctx, groupID)
}

// Purger clears chat state of deleted groups. It is built before the group service, which
// the chat Service itself depends on.
type Purger struct {
	store  MessageStore
	hub    *Hub
	fanout Publisher
	log    *zap.Logger
}

// NewPurger binds the chat state a group deletion must clear. fanout may be nil.
func NewPurger(store MessageStore, hub *Hub, fanout Publisher, log *zap.Logger) *Purger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Purger{store: store, hub: hub, fanout: fanout, log: log}
}

// PurgeGroup drops the group's messages, closes its local sockets and asks the other
// instances to close theirs.
func (p *Purger) PurgeGroup(ctx context.Context, groupID string) error {
	if err := p.store.PurgeGroup(ctx, groupID); err != nil {
		return err
	}
	_ = p.hub.PurgeGroup(ctx, groupID)
	if p.fanout != nil {
		if err := p.fanout.PublishPurge(ctx, groupID); err != nil {
			p.log.Warn("chat.fanout.publish.fail", zap.String("group_id", groupID), zap.Error(err))
		}
	}
	return nil
}

// PurgeUser closes the sockets of a deleted account here and on the other instances.
// Its messages are removed by the store (cascade) or by InMemoryStore.PurgeUser.
func (p *Purger) PurgeUser(ctx context.Context, userID string) error {
	p.hub.DisconnectUser(ctx, userID)
	if p.fanout != nil {
		if err := p.fanout.PublishDisconnect(ctx, userID); err != nil {
			p.log.Warn("chat.fanout.publish.fail", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) broadcast(ctx context.Context, msg v1.Message, now time.Time) {
	payload, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("chat.broadcast.encode", zap.Error(err))
		return
	}
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeMessageNew,
		ID:      NewEnvelopeID(now),
		TS:      now,
		Payload: payload,
	}
	s.hub.Broadcast(msg.GroupID, env)

	if s.fanout != nil {
		if err := s.fanout.Publish(ctx, msg.GroupID, env); err != nil {
			s.log.Warn("chat.fanout.publish.fail", zap.String("group_id", msg.GroupID), zap.Error(err))
		}
	}
}

// render resolves the author pseudo through a per-call cache. A missing author keeps an
// empty pseudo rather than failing the read.
func (s *Service) render(ctx context.Context, m StoredMessage, pseudos map[string]string) v1.Message {
	pseudo, ok := pseudos[m.UserID]
	if !ok {
		if u, err := s.users.GetByID(ctx, m.UserID); err == nil {
			pseudo = u.Pseudo
		}
		pseudos[m.UserID] = pseudo
	}
	return v1.Message{
		ID:            m.ID,
		GroupID:       m.GroupID,
		Seq:           m.Seq,
		ClientMsgID:   m.ClientMsgID,
		Content:       m.Content,
		ReferenceType: m.ReferenceType,
		ReferenceID:   m.ReferenceID,
		CreatedAt:     m.CreatedAt,
		User:          v1.Author{ID: m.UserID, Pseudo: pseudo},
	}
}

func cleanReference(op string, refType, refID *string) (*string, *string, error) {
	var outType, outID *string
	if refType != nil {
		t := strings.ToUpper(strings.TrimSpace(*refType))
		switch t {
		case "":
		case v1.RefSpot, v1.RefPrise, v1.RefSession:
			outType = &t
		default:
			return nil, nil, fault.Invalid(op, "referenceType must be SPOT, PRISE or SESSION")
		}
	}
	if refID != nil {
		id := strings.TrimSpace(*refID)
		if len(id) > 64 {
			return nil, nil, fault.Invalid(op, "referenceId too long")
		}
		if id != "" {
			outID = &id
		}
	}
	return outType, outID, nil
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
