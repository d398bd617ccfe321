package ws

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"messaging-service/internal/identity"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
)

// ThreadWebSocketHandler handles thread websocket connections.
type ThreadWebSocketHandler struct {
	hub        *Hub
	threadRepo repositories.ThreadRepository
	verifier   identity.Verifier
}

// NewThreadWebSocketHandler constructs a ThreadWebSocketHandler.
func NewThreadWebSocketHandler(hub *Hub, threadRepo repositories.ThreadRepository, verifier identity.Verifier) *ThreadWebSocketHandler {
	return &ThreadWebSocketHandler{hub: hub, threadRepo: threadRepo, verifier: verifier}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and registers the client with the thread room.
func (h *ThreadWebSocketHandler) Handle(c *gin.Context) {
	threadID, err := strconv.ParseInt(c.Param("thread_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid thread id"})
		return
	}

	ctx, span := otel.Tracer("messaging-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.Query("token")
	if token == "" {
		header := c.GetHeader("Authorization")
		if len(header) > 7 {
			token = header[7:]
		}
	}

	userID, err := h.verifier.Verify(ctx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	member, err := h.threadRepo.IsParticipant(ctx, threadID, userID)
	if err != nil || !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for thread"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	h.hub.AddClient(threadID, conn, info)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	_ = observability.PublishEvent(ctx, eventsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_connect",
		Payload:   connEventPayload(threadID, info, "ws_connect", 0, ""),
	})

	// Keep connection alive and clean on close.
	go func() {
		var closeReason string
		defer func() {
			h.hub.RemoveClient(threadID, conn)
			observability.DecWSActive()
			observability.IncWSEvent("ws_disconnect")
			_ = observability.PublishEvent(ctx, eventsRoutingKey, observability.EventEnvelope{
				EventType: "ws_events",
				EventName: "ws_disconnect",
				Payload:   connEventPayload(threadID, info, "ws_disconnect", time.Since(info.ConnectedAt).Milliseconds(), closeReason),
			})
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent("ws_error")
					_ = observability.PublishEvent(ctx, eventsRoutingKey, observability.EventEnvelope{
						EventType: "ws_events",
						EventName: "ws_error",
						Payload:   connEventPayload(threadID, info, "ws_error", time.Since(info.ConnectedAt).Milliseconds(), closeReason),
					})
				}
				return
			}
		}
	}()
}

func connEventPayload(threadID int64, info ConnInfo, event string, durationMS int64, reason string) map[string]interface{} {
	return map[string]interface{}{
		"ws": map[string]interface{}{
			"thread_id":   threadID,
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": durationMS,
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
}
