package hub

import (
	"time"

	"github.com/goccy/go-json"
)

const (
	TypeSample = "sample"
	TypePong   = "pong"
)

// Message is the envelope every frame on the live feed uses.
type Message struct {
	Type       string          `json:"type"`
	DeviceID   string          `json:"device_id,omitempty"`
	ReceivedAt *time.Time      `json:"received_at,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func SampleMessage(deviceID string, receivedAt time.Time, payload []byte) ([]byte, error) {
	return json.Marshal(Message{
		Type:       TypeSample,
		DeviceID:   deviceID,
		ReceivedAt: &receivedAt,
		Payload:    payload,
	})
}

func PongMessage() []byte {
	out, _ := json.Marshal(Message{Type: TypePong})
	return out
}
