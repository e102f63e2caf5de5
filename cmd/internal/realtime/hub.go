package realtime

import (
	"context"
	"sync"

	v1 "spotline/shared/contracts/realtime/v1"

	"go.uber.org/zap"
)

// Hub maps group ids to their rooms for this process.
type Hub struct {
	log *zap.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewHub constructs a Hub instance.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{log: log, rooms: make(map[string]*Room)}
}

// Join registers client in its group's room, creating the room on first use.
func (h *Hub) Join(client *Client) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[client.GroupID]
	if !ok {
		r = NewRoom(h.log, client.GroupID)
		h.rooms[client.GroupID] = r
	}
	r.Join(client)
	return r
}

// Leave removes client and drops its room once empty.
func (h *Hub) Leave(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[client.GroupID]
	if !ok {
		client.Close()
		return
	}
	if r.Leave(client.ConnID) {
		delete(h.rooms, client.GroupID)
	}
}

// Broadcast delivers env to the local connections of groupID.
func (h *Hub) Broadcast(groupID string, env v1.Envelope) int {
	h.mu.Lock()
	r := h.rooms[groupID]
	h.mu.Unlock()
	return r.Broadcast(env)
}

// Connections returns the number of open connections on groupID.
func (h *Hub) Connections(groupID string) int {
	h.mu.Lock()
	r := h.rooms[groupID]
	h.mu.Unlock()
	if r == nil {
		return 0
	}
	return r.Len()
}

// DisconnectUser closes every local socket of userID across all rooms.
func (h *Hub) DisconnectUser(_ context.Context, userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	closed := 0
	for gid, r := range h.rooms {
		n, empty := r.LeaveUser(userID)
		closed += n
		if n > 0 && empty {
			delete(h.rooms, gid)
		}
	}
	if closed > 0 {
		h.log.Info("chat.user.disconnected", zap.String("user_id", userID), zap.Int("connections", closed))
	}
	return closed
}

// PurgeGroup disconnects every socket of a deleted group.
func (h *Hub) PurgeGroup(_ context.Context, groupID string) error {
	h.mu.Lock()
	r := h.rooms[groupID]
	delete(h.rooms, groupID)
	h.mu.Unlock()

	if r != nil {
		r.CloseAll()
		h.log.Info("chat.room.closed", zap.String("group_id", groupID))
	}
	return nil
}
