package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"gps-relay/internal/hub"
	"gps-relay/internal/latest"
	"gps-relay/internal/logging"
)

const (
	pongWait  = 60 * time.Second
	writeWait = 10 * time.Second
)

// FeedHandler streams received samples to websocket subscribers.
type FeedHandler struct {
	Hub  *hub.Hub
	Slot *latest.Slot
}

type clientMessage struct {
	Type string `json:"type"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsWriter serializes writes; gorilla connections allow one writer at a time
// and broadcasts arrive from concurrent uploads.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) Write(message []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, message)
}

func (w *wsWriter) Close() error {
	return w.conn.Close()
}

func (h *FeedHandler) Serve(c *gin.Context) {
	deviceID := c.Query("device_id")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Ctx(c.Request.Context()).Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	writer := &wsWriter{conn: ws}
	conn := &hub.Connection{DeviceID: deviceID, Writer: writer}
	h.Hub.Register(conn)
	defer func() {
		h.Hub.Unregister(conn)
		_ = ws.Close()
	}()

	if sample, ok := h.Slot.Load(); ok && (deviceID == "" || sample.DeviceID == deviceID) {
		if out, err := hub.SampleMessage(sample.DeviceID, sample.ReceivedAt, sample.Payload); err == nil {
			_ = writer.Write(out)
		}
	}

	ws.SetReadLimit(4 * 1024)
	pingPeriod := (pongWait * 9) / 10

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	var closeOnce sync.Once
	closeDone := func() {
		closeOnce.Do(func() {
			close(done)
		})
	}
	defer closeDone()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					_ = ws.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			_ = writer.Write(hub.PongMessage())
		}
	}
}
