// Package realtime fans out change notifications to dashboard clients
// over WebSockets. Clients subscribe to a single community room; slow
// clients are dropped rather than ever blocking a publisher.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// MetricsRecorder is an optional interface for recording hub activity.
type MetricsRecorder interface {
	IncRealtimeEvent(eventType string)
	SetRealtimeClients(n int)
}

// Hub maintains the set of connected clients grouped by community room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}

	sendBuffer int
	metrics    MetricsRecorder
	onDrop     func(*Client) // test hook
}

// NewHub creates a hub whose clients buffer up to sendBuffer outbound
// messages before being dropped.
func NewHub(sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Hub{
		rooms:      make(map[string]map[*Client]struct{}),
		sendBuffer: sendBuffer,
	}
}

// SetMetrics sets the optional metrics recorder.
func (h *Hub) SetMetrics(m MetricsRecorder) {
	h.metrics = m
}

// Register adds a client to its community room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.communityID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[c.communityID] = room
	}
	room[c] = struct{}{}
	h.recordClientCountLocked()
}

// Unregister removes a client and closes its send channel. Safe to call
// more than once for the same client.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.communityID]
	if !ok {
		return
	}
	if _, ok := room[c]; !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.communityID)
	}
	close(c.send)
	h.recordClientCountLocked()
}

func (h *Hub) recordClientCountLocked() {
	if h.metrics == nil {
		return
	}
	n := 0
	for _, room := range h.rooms {
		n += len(room)
	}
	h.metrics.SetRealtimeClients(n)
}

// Publish broadcasts an event to every client in the event's community
// room. A client whose buffer is full is unregistered on the spot.
func (h *Hub) Publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("realtime: marshaling event", "error", err, "type", ev.Type)
		return
	}
	if h.metrics != nil {
		h.metrics.IncRealtimeEvent(string(ev.Type))
	}

	// Sends happen under the read lock: Unregister closes send channels
	// under the write lock, so no send can race a close.
	h.mu.RLock()
	var slow []*Client
	for c := range h.rooms[ev.CommunityID] {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("realtime: dropping slow client", "community_id", ev.CommunityID, "user_id", c.userID)
		h.Unregister(c)
		if h.onDrop != nil {
			h.onDrop(c)
		}
	}
}

// ClientCount reports the number of connected clients across all rooms.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, room := range h.rooms {
		n += len(room)
	}
	return n
}

// Shutdown disconnects every client. Pending buffered messages are
// flushed by each client's write loop before its connection closes.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	var all []*Client
	for _, room := range h.rooms {
		for c := range room {
			all = append(all, c)
		}
	}
	h.mu.Unlock()

	for _, c := range all {
		h.Unregister(c)
	}
}
