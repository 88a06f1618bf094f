// Package hub fans received samples out to live feed subscribers.
package hub

import (
	"sync"

	"gps-relay/internal/metrics"
)

type Writer interface {
	Write(message []byte) error
	Close() error
}

// Connection subscribes to one device, or to every device when DeviceID is
// empty.
type Connection struct {
	DeviceID string
	Writer   Writer
}

type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*Connection]struct{}
}

func New() *Hub {
	return &Hub{connections: make(map[string]map[*Connection]struct{})}
}

func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[conn.DeviceID] == nil {
		h.connections[conn.DeviceID] = make(map[*Connection]struct{})
	}
	h.connections[conn.DeviceID][conn] = struct{}{}
	metrics.LiveSubscribers.Inc()
}

func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.connections[conn.DeviceID]
	if set == nil {
		return
	}
	if _, ok := set[conn]; !ok {
		return
	}
	delete(set, conn)
	metrics.LiveSubscribers.Dec()
	if len(set) == 0 {
		delete(h.connections, conn.DeviceID)
	}
}

// Broadcast delivers message to the device's subscribers and to the
// all-devices subscribers. Connections whose write fails are closed and
// dropped.
func (h *Hub) Broadcast(deviceID string, message []byte) {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections[deviceID])+len(h.connections[""]))
	for c := range h.connections[""] {
		conns = append(conns, c)
	}
	if deviceID != "" {
		for c := range h.connections[deviceID] {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	var failed []*Connection
	for _, c := range conns {
		if err := c.Writer.Write(message); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		_ = c.Writer.Close()
		h.Unregister(c)
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, set := range h.connections {
		n += len(set)
	}
	return n
}
