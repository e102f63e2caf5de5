package realtime

import (
	"sync"

	v1 "spotline/shared/contracts/realtime/v1"

	"go.uber.org/zap"
)

// Room is the set of connections open on one group's chat.
//
// Join and Leave are safe under concurrent Broadcast, and Broadcast never blocks: a client
// whose queue is full misses the envelope.
type Room struct {
	log     *zap.Logger
	GroupID string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewRoom constructs an empty room.
func NewRoom(log *zap.Logger, groupID string) *Room {
	if log == nil {
		log = zap.NewNop()
	}
	return &Room{log: log, GroupID: groupID, members: make(map[string]*Client)}
}

// Join adds a client.
func (r *Room) Join(client *Client) {
	if r == nil || client == nil || client.ConnID == "" {
		return
	}
	r.mu.Lock()
	r.members[client.ConnID] = client
	r.mu.Unlock()

	r.log.Debug("chat.room.join", zap.String("group_id", r.GroupID), zap.String("conn_id", client.ConnID), zap.String("user_id", client.UserID))
}

// Leave removes a client and signals its shutdown. It reports whether the room is now empty.
func (r *Room) Leave(connID string) bool {
	if r == nil || connID == "" {
		return false
	}

	r.mu.Lock()
	cl := r.members[connID]
	delete(r.members, connID)
	empty := len(r.members) == 0
	r.mu.Unlock()

	// Removed before Close so broadcasters never hold a closing client.
	if cl != nil {
		cl.Close()
	}
	r.log.Debug("chat.room.leave", zap.String("group_id", r.GroupID), zap.String("conn_id", connID))
	return empty
}

// Broadcast fans env out to every member. It returns the number of clients that got it.
func (r *Room) Broadcast(env v1.Envelope) int {
	if r == nil {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for _, m := range r.members {
		select {
		case <-m.Done():
			continue
		default:
		}

		select {
		case m.Send <- env:
			delivered++
		default:
			r.log.Debug("chat.room.drop", zap.String("group_id", r.GroupID), zap.String("conn_id", m.ConnID))
		}
	}
	return delivered
}

// LeaveUser disconnects every connection of userID. It returns how many were closed and
// whether the room is now empty.
func (r *Room) LeaveUser(userID string) (int, bool) {
	if r == nil || userID == "" {
		return 0, false
	}

	r.mu.Lock()
	var gone []*Client
	for id, m := range r.members {
		if m.UserID == userID {
			gone = append(gone, m)
			delete(r.members, id)
		}
	}
	empty := len(r.members) == 0
	r.mu.Unlock()

	for _, m := range gone {
		m.Close()
	}
	return len(gone), empty
}

// CloseAll disconnects every member.
func (r *Room) CloseAll() {
	r.mu.Lock()
	members := r.members
	r.members = make(map[string]*Client)
	r.mu.Unlock()

	for _, m := range members {
		m.Close()
	}
}

// Len returns the number of connected clients.
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}
