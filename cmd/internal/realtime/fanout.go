package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	v1 "spotline/shared/contracts/realtime/v1"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const fanoutPrefix = "spotline:chat:"

// Publisher relays chat events to the other server instances.
type Publisher interface {
	Publish(ctx context.Context, groupID string, env v1.Envelope) error
	PublishPurge(ctx context.Context, groupID string) error
	PublishDisconnect(ctx context.Context, userID string) error
}

type fanoutKind string

const (
	fanoutMessage fanoutKind = "message"
	fanoutPurge   fanoutKind = "purge"
	// fanoutDisconnect travels on spotline:chat:user:<userId>.
	fanoutDisconnect fanoutKind = "disconnect"
)

const fanoutUserChannel = "user:"

type fanoutFrame struct {
	Origin   string       `json:"origin"`
	Kind     fanoutKind   `json:"kind"`
	Envelope *v1.Envelope `json:"envelope,omitempty"`
	UserID   string       `json:"userId,omitempty"`
}

// RedisFanout publishes every local broadcast on spotline:chat:<groupId> and replays frames
// published by other instances into the local hub. The redis client is owned by the caller.
type RedisFanout struct {
	client *redis.Client
	hub    *Hub
	origin string
	log    *zap.Logger
}

// NewRedisFanout binds a fanout to hub. origin identifies this instance; frames carrying it
// are ignored on receipt since the local hub already delivered them.
func NewRedisFanout(client *redis.Client, hub *Hub, origin string, log *zap.Logger) (*RedisFanout, error) {
	if client == nil || hub == nil {
		return nil, errors.New("realtime: fanout needs a redis client and a hub")
	}
	if strings.TrimSpace(origin) == "" {
		return nil, errors.New("realtime: empty fanout origin")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisFanout{client: client, hub: hub, origin: origin, log: log}, nil
}

// Publish sends a message envelope to the other instances.
func (f *RedisFanout) Publish(ctx context.Context, groupID string, env v1.Envelope) error {
	return f.publish(ctx, groupID, fanoutFrame{Origin: f.origin, Kind: fanoutMessage, Envelope: &env})
}

// PublishPurge tells the other instances to drop a deleted group's connections.
func (f *RedisFanout) PublishPurge(ctx context.Context, groupID string) error {
	return f.publish(ctx, groupID, fanoutFrame{Origin: f.origin, Kind: fanoutPurge})
}

// PublishDisconnect tells the other instances to close a deleted account's sockets.
func (f *RedisFanout) PublishDisconnect(ctx context.Context, userID string) error {
	return f.publish(ctx, fanoutUserChannel+userID, fanoutFrame{Origin: f.origin, Kind: fanoutDisconnect, UserID: userID})
}

func (f *RedisFanout) publish(ctx context.Context, key string, frame fanoutFrame) error {
	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, fanoutPrefix+key, b).Err()
}

// Run relays frames until ctx is done.
func (f *RedisFanout) Run(ctx context.Context) error {
	sub := f.client.PSubscribe(ctx, fanoutPrefix+"*")
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	f.log.Info("chat.fanout.subscribed", zap.String("origin", f.origin))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			f.deliver(ctx, msg)
		}
	}
}

func (f *RedisFanout) deliver(ctx context.Context, msg *redis.Message) {
	groupID := strings.TrimPrefix(msg.Channel, fanoutPrefix)
	if groupID == "" || groupID == msg.Channel {
		return
	}

	var frame fanoutFrame
	if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
		f.log.Warn("chat.fanout.bad_frame", zap.String("channel", msg.Channel), zap.Error(err))
		return
	}
	if frame.Origin == f.origin {
		return
	}

	switch frame.Kind {
	case fanoutMessage:
		if frame.Envelope != nil {
			f.hub.Broadcast(groupID, *frame.Envelope)
		}
	case fanoutPurge:
		_ = f.hub.PurgeGroup(ctx, groupID)
	case fanoutDisconnect:
		if frame.UserID != "" {
			f.hub.DisconnectUser(ctx, frame.UserID)
		}
	default:
		f.log.Warn("chat.fanout.unknown_kind", zap.String("kind", string(frame.Kind)))
	}
}
