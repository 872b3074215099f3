package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ericjohney/photobrain-sub000/internal/api/middleware"
	"github.com/ericjohney/photobrain-sub000/internal/queue"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS policy is enforced at the HTTP layer.
		return true
	},
}

// EventHandler streams job lifecycle events over a websocket.
type EventHandler struct {
	bus *queue.Bus
}

// NewEventHandler creates an event stream handler.
func NewEventHandler(bus *queue.Bus) *EventHandler {
	return &EventHandler{bus: bus}
}

// Stream upgrades the connection and forwards events until the client
// disconnects. Queues can be filtered with ?queues=scan,embedding; no
// filter means every queue.
// GET /api/v1/events
func (h *EventHandler) Stream(c *gin.Context) {
	var queues []string
	if raw := c.Query("queues"); raw != "" {
		for _, q := range strings.Split(raw, ",") {
			if q = strings.TrimSpace(q); q != "" {
				queues = append(queues, q)
			}
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := h.bus.Subscribe(queues...)
	defer cancel()

	// Reader goroutine only watches for the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
