package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-sync/internal/chatsync"
	"chat-sync/internal/observability"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// SessionSource hands out view feeds for a user's sync session.
type SessionSource interface {
	Watch(userID string) *chatsync.Feed
	// Release is called once the user's last stream disconnects.
	Release(userID string)
}

// Event is the frame written to clients.
type Event struct {
	Type string         `json:"type"`
	View *chatsync.View `json:"view,omitempty"`
}

// StreamHandler pushes the caller's view over a websocket on every change.
type StreamHandler struct {
	hub      *Hub
	sessions SessionSource
}

func NewStreamHandler(hub *Hub, sessions SessionSource) *StreamHandler {
	return &StreamHandler{hub: hub, sessions: sessions}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection. The user id is set by the auth middleware.
func (h *StreamHandler) Handle(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ctx, span := otel.Tracer("chat-sync/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

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
	h.hub.AddClient(userID, conn, info)
	feed := h.sessions.Watch(userID)

	observability.IncWSActive(wsKind)
	publishWSEvent(ctx, "ws_connect", info, "")

	// the request context ends with the handler
	streamCtx := context.WithoutCancel(ctx)
	done := make(chan struct{})
	go h.writeLoop(conn, feed, done)
	go h.readLoop(streamCtx, conn, feed, info, done)
}

func (h *StreamHandler) writeLoop(conn *websocket.Conn, feed *chatsync.Feed, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case v, ok := <-feed.Updates():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed")
				_ = conn.WriteMessage(websocket.CloseMessage, msg)
				return
			}
			if err := conn.WriteJSON(Event{Type: "view", View: &v}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop only drains control frames; it owns teardown of the stream.
func (h *StreamHandler) readLoop(ctx context.Context, conn *websocket.Conn, feed *chatsync.Feed, info ConnInfo, done chan<- struct{}) {
	var closeReason string
	defer func() {
		close(done)
		feed.Close()
		_ = conn.Close()
		left := h.hub.RemoveClient(info.UserID, conn)
		observability.DecWSActive(wsKind)
		publishWSEvent(ctx, "ws_disconnect", info, closeReason)
		if left == 0 {
			h.sessions.Release(info.UserID)
		}
	}()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				publishWSEvent(ctx, "ws_error", info, closeReason)
			}
			return
		}
	}
}
