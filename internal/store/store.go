// Package store defines the record store used by the relay and provides the
// in-memory implementation. Remote backends live in the postgrest and pgstore
// subpackages.
//
// Every backend offers read-your-writes per call and nothing stronger: there
// are no transactions and no conditional writes, so callers coordinate with
// read-then-write.
package store

import (
	"context"
	"time"

	"gps-relay/internal/model"
)

type Devices interface {
	// GetDevice returns found=false with a nil error when the device is unknown.
	GetDevice(ctx context.Context, deviceID string) (model.Device, bool, error)
	CreateDevice(ctx context.Context, d model.Device) error
	UpdateDevice(ctx context.Context, deviceID string, patch model.DevicePatch) error
}

type Sessions interface {
	// ListOpenSessions returns the device's sessions with no end time, oldest
	// first.
	ListOpenSessions(ctx context.Context, deviceID string) ([]model.Session, error)
	// CreateSession returns the store-assigned id. An empty id with a nil
	// error means the store accepted the call but returned no identity.
	CreateSession(ctx context.Context, s model.Session) (string, error)
	CloseSession(ctx context.Context, sessionID string, endedAt time.Time) error
}

type Points interface {
	InsertPoint(ctx context.Context, p model.GPSPoint) error
	InsertRawPoint(ctx context.Context, p model.RawPoint) error
}

type Store interface {
	Devices
	Sessions
	Points
	Ping(ctx context.Context) error
	Close() error
}
