package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"messaging-service/internal/logger"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
)

const eventsRoutingKey = "ws_events.threads"

// Hub maintains active websocket rooms keyed by thread id.
type Hub struct {
	rooms    map[int64]map[*websocket.Conn]bool
	connInfo map[int64]map[*websocket.Conn]ConnInfo
	mu       sync.RWMutex
	log      *logger.Logger
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewNop()
	}
	return &Hub{
		rooms:    make(map[int64]map[*websocket.Conn]bool),
		connInfo: make(map[int64]map[*websocket.Conn]ConnInfo),
		log:      log,
	}
}

// AddClient registers a websocket connection to a thread room.
func (h *Hub) AddClient(threadID int64, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[threadID]; !ok {
		h.rooms[threadID] = make(map[*websocket.Conn]bool)
	}
	h.rooms[threadID][conn] = true
	if _, ok := h.connInfo[threadID]; !ok {
		h.connInfo[threadID] = make(map[*websocket.Conn]ConnInfo)
	}
	h.connInfo[threadID][conn] = info
}

// RemoveClient removes a thread websocket connection.
func (h *Hub) RemoveClient(threadID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[threadID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.rooms, threadID)
		}
	}
	if infos, ok := h.connInfo[threadID]; ok {
		delete(infos, conn)
		if len(infos) == 0 {
			delete(h.connInfo, threadID)
		}
	}
}

// BroadcastMessage sends a new message to all clients in the thread room.
func (h *Hub) BroadcastMessage(threadID int64, msg models.Message) {
	h.broadcast(threadID, models.ThreadEvent{Type: "message", Message: &msg})
}

// BroadcastEdit notifies clients that a message's content changed.
func (h *Hub) BroadcastEdit(threadID int64, msg models.Message) {
	h.broadcast(threadID, models.ThreadEvent{Type: "message_edited", Message: &msg})
}

// BroadcastDeletion notifies clients of a delete event.
func (h *Hub) BroadcastDeletion(threadID, messageID int64) {
	h.broadcast(threadID, models.ThreadEvent{Type: "message_deleted", MessageID: messageID})
}

// BroadcastReactions pushes the current reaction set of a message.
func (h *Hub) BroadcastReactions(threadID, messageID int64, reactions []models.Reaction) {
	h.broadcast(threadID, models.ThreadEvent{Type: "reactions", MessageID: messageID, Reactions: reactions})
}

func (h *Hub) broadcast(threadID int64, event models.ThreadEvent) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.rooms[threadID]))
	for conn := range h.rooms[threadID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	payload, _ := json.Marshal(event)
	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.log.Warn("websocket write error", "thread_id", threadID, "error", err)
			conn.Close()
			h.RemoveClient(threadID, conn)
			h.publishWSError(threadID, conn, err)
		}
	}
}

func (h *Hub) publishWSError(threadID int64, conn *websocket.Conn, err error) {
	info, ok := h.getConnInfo(threadID, conn)
	if !ok {
		return
	}

	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"thread_id":   threadID,
			"event":       "ws_error",
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      err.Error(),
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	_ = observability.PublishEvent(context.Background(), eventsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   payload,
	})
	observability.IncWSEvent("ws_error")
}

func (h *Hub) getConnInfo(threadID int64, conn *websocket.Conn) (ConnInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if infos, ok := h.connInfo[threadID]; ok {
		info, exists := infos[conn]
		return info, exists
	}
	return ConnInfo{}, false
}
