package model

import "time"

type DeviceStatus string

const (
	DeviceStatusPending DeviceStatus = "pending"
	DeviceStatusLinked  DeviceStatus = "linked"
)

type Device struct {
	DeviceID      string
	Status        DeviceStatus
	UserID        *string
	PairCode      *string
	PairExpiresAt *time.Time
	LastSeenAt    time.Time
	IsRecording   bool
}

// Linked reports whether the registry has associated the device with a user.
// A linked status without a user id is treated as not linked.
func (d Device) Linked() (string, bool) {
	if d.Status != DeviceStatusLinked || d.UserID == nil || *d.UserID == "" {
		return "", false
	}
	return *d.UserID, true
}

// DevicePatch lists the columns an upload may touch on an existing device.
// Nil fields are left unchanged.
type DevicePatch struct {
	LastSeenAt    time.Time
	PairCode      *string
	PairExpiresAt *time.Time
	IsRecording   *bool
}

type Session struct {
	ID        string
	DeviceID  string
	UserID    string
	StartedAt time.Time
	EndedAt   *time.Time
}

func (s Session) Open() bool {
	return s.EndedAt == nil
}

type GPSPoint struct {
	ID        string
	SessionID string
	Latitude  float64
	Longitude float64
	Altitude  *float64
	Speed     *float64
}

// RawPoint is the unprocessed device sample, stored verbatim when raw point
// persistence is enabled.
type RawPoint struct {
	DeviceID   string
	Latitude   float64
	Longitude  float64
	AltM       *float64
	SpdKmh     *float64
	CourseDeg  *float64
	TMs        *int64
	Hour       *int
	Min        *int
	Sec        *int
	ReceivedAt time.Time
}
