package v1

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
	streamHydrate    = 5 * time.Minute
	streamHydrateMax = 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleStream relays live detections to a websocket client. The client first
// receives recently cached detections, oldest first.
func (h *Handler) handleStream(c *gin.Context) {
	if h.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Live stream is not available"})
		return
	}

	ctx := c.Request.Context()
	events, err := h.events.Subscribe(ctx)
	if err != nil {
		h.logger.Error("event subscription failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Live stream is not available"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.hydrate(c, conn)

	// Reader: handles pongs and notices when the client goes away.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ctx.Done():
			return
		case payload, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream ended"),
					time.Now().Add(streamWriteWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) hydrate(c *gin.Context, conn *websocket.Conn) {
	recent, err := h.events.GetRecent(c.Request.Context(), streamHydrate)
	if err != nil {
		h.logger.Warn("failed to load recent events", zap.Error(err))
		return
	}
	if len(recent) > streamHydrateMax {
		recent = recent[:streamHydrateMax]
	}
	for i := len(recent) - 1; i >= 0; i-- {
		payload, err := json.Marshal(recent[i])
		if err != nil {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}
