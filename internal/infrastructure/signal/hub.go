package signal

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/ports"
)

// Hub maps bound (room, user) sessions to live connections and delivers
// room events to them.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*client
	logger   *zap.SugaredLogger
}

var _ ports.Broadcaster = (*Hub)(nil)

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		sessions: make(map[string]*client),
		logger:   logger,
	}
}

func sessionKey(roomID, userID string) string {
	return roomID + "\x00" + userID
}

// bind attaches caller to c. A newer connection for the same session
// replaces the older one. When c was bound to a different session that it
// still owned, that session is returned so the caller can leave it.
func (h *Hub) bind(c *client, caller domain.Caller) (domain.Caller, bool) {
	key := sessionKey(caller.RoomID, caller.UserID)

	h.mu.Lock()
	prev := h.sessions[key]
	h.sessions[key] = c
	h.mu.Unlock()

	var displaced domain.Caller
	var owned bool
	if old, ok := c.setCaller(caller); ok {
		if oldKey := sessionKey(old.RoomID, old.UserID); oldKey != key {
			displaced, owned = old, h.release(c, oldKey)
		}
	}
	if prev != nil && prev != c {
		prev.clearCaller()
		h.logger.Infow("session moved to a new connection", "room_id", caller.RoomID, "user_id", caller.UserID)
	}
	return displaced, owned
}

// unbind detaches c and returns its session if c still owned it.
func (h *Hub) unbind(c *client) (domain.Caller, bool) {
	caller, ok := c.clearCaller()
	if !ok {
		return domain.Caller{}, false
	}
	return caller, h.release(c, sessionKey(caller.RoomID, caller.UserID))
}

func (h *Hub) release(c *client, key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[key] != c {
		return false
	}
	delete(h.sessions, key)
	return true
}

func (h *Hub) lookup(roomID, userID string) *client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[sessionKey(roomID, userID)]
}

// Broadcast implements ports.Broadcaster. Recipients without a bound
// connection are skipped.
func (h *Hub) Broadcast(ctx context.Context, recipients []string, event domain.RoomEvent) {
	data, err := json.Marshal(EventFrame{
		Type:    frameEvent,
		Event:   event.Type,
		RoomID:  event.RoomID,
		Payload: event,
	})
	if err != nil {
		h.logger.Errorw("failed to marshal event", "event", event.Type, "error", err)
		return
	}

	for _, userID := range recipients {
		c := h.lookup(event.RoomID, userID)
		if c == nil {
			continue
		}
		c.enqueue(data)
		// A kicked member stays connected but no longer owns the session.
		if event.Type == domain.EventPeerLeft && userID == event.UserID {
			h.unbind(c)
		}
	}
}

// Sessions returns the number of bound sessions.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
