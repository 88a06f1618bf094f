// Package pairing resolves an uploading device against the device registry.
//
// The registry decides whether a device is pending or linked to a user.
// Linking itself is done by a separate flow; the resolver only creates
// unseen devices, refreshes liveness and the pairing code, and reads the
// link state back.
package pairing

import (
	"context"
	"time"

	"gps-relay/internal/apperr"
	"gps-relay/internal/model"
	"gps-relay/internal/store"
)

// PairWindow is how long a freshly reported pairing code is advertised as
// valid. Expiry is metadata for the linking flow and is not enforced here.
const PairWindow = 10 * time.Minute

type State struct {
	// UserID is empty while the device is pending.
	UserID string
}

func (s State) Linked() bool { return s.UserID != "" }

func Pending() State { return State{} }

func Linked(userID string) State { return State{UserID: userID} }

type Request struct {
	DeviceID string
	// PairCode is optional for known devices; empty means not supplied.
	PairCode string
	// Recording is mirrored onto the device record once it is linked.
	Recording bool
}

type Resolver struct {
	devices store.Devices
}

func NewResolver(devices store.Devices) *Resolver {
	return &Resolver{devices: devices}
}

// Resolve issues at most one read and one write per call. Store failures are
// returned as-is and never retried.
func (r *Resolver) Resolve(ctx context.Context, req Request, now time.Time) (State, error) {
	if req.DeviceID == "" {
		return State{}, apperr.Validation("device_id is required")
	}

	device, found, err := r.devices.GetDevice(ctx, req.DeviceID)
	if err != nil {
		return State{}, apperr.Store("get device", err)
	}

	if !found {
		if req.PairCode == "" {
			return State{}, apperr.Validation("pair_code is required for an unknown device")
		}
		code := req.PairCode
		expires := now.Add(PairWindow)
		err := r.devices.CreateDevice(ctx, model.Device{
			DeviceID:      req.DeviceID,
			Status:        model.DeviceStatusPending,
			PairCode:      &code,
			PairExpiresAt: &expires,
			LastSeenAt:    now,
		})
		if err != nil {
			return State{}, apperr.Store("create device", err)
		}
		return Pending(), nil
	}

	patch := model.DevicePatch{LastSeenAt: now}
	if req.PairCode != "" {
		code := req.PairCode
		expires := now.Add(PairWindow)
		patch.PairCode = &code
		patch.PairExpiresAt = &expires
	}

	userID, linked := device.Linked()
	if linked {
		recording := req.Recording
		patch.IsRecording = &recording
	}

	if err := r.devices.UpdateDevice(ctx, req.DeviceID, patch); err != nil {
		return State{}, apperr.Store("update device", err)
	}

	if !linked {
		return Pending(), nil
	}
	return Linked(userID), nil
}
