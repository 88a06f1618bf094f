// Package recording drives the per-device recording session lifecycle of a
// linked device.
//
// A device has at most one open session. That is enforced by reading the
// open sessions before writing, with no store-side constraint, so two
// concurrent "recording" uploads may both open one. The duplicate is closed
// by the next recording upload for the device: the oldest open session is
// kept and the rest are ended.
package recording

import (
	"context"
	"time"

	"gps-relay/internal/apperr"
	"gps-relay/internal/logging"
	"gps-relay/internal/metrics"
	"gps-relay/internal/model"
	"gps-relay/internal/store"
)

type Point struct {
	Latitude  float64
	Longitude float64
	Altitude  *float64
	Speed     *float64
}

type Request struct {
	DeviceID  string
	UserID    string
	Recording bool
	// Point is nil when the upload carried no coordinates.
	Point *Point
}

type Outcome struct {
	SessionID     string
	Opened        bool
	Closed        int
	PointAppended bool
	// CreateFailed is set when the store accepted the session insert but
	// returned no identity. No point is written in that case.
	CreateFailed bool
}

type sessionStore interface {
	store.Sessions
	store.Points
}

type Manager struct {
	store sessionStore
}

func NewManager(s sessionStore) *Manager {
	return &Manager{store: s}
}

func (m *Manager) Apply(ctx context.Context, req Request, now time.Time) (Outcome, error) {
	open, err := m.store.ListOpenSessions(ctx, req.DeviceID)
	if err != nil {
		return Outcome{}, apperr.Store("list open sessions", err)
	}

	if !req.Recording {
		return m.stop(ctx, open, now)
	}
	return m.record(ctx, req, open, now)
}

func (m *Manager) stop(ctx context.Context, open []model.Session, now time.Time) (Outcome, error) {
	var out Outcome
	for _, s := range open {
		if err := m.store.CloseSession(ctx, s.ID, now); err != nil {
			return out, apperr.Store("close session", err)
		}
		out.Closed++
		metrics.SessionsClosed.WithLabelValues("stopped").Inc()
	}
	return out, nil
}

func (m *Manager) record(ctx context.Context, req Request, open []model.Session, now time.Time) (Outcome, error) {
	var out Outcome

	if len(open) == 0 {
		id, err := m.store.CreateSession(ctx, model.Session{
			DeviceID:  req.DeviceID,
			UserID:    req.UserID,
			StartedAt: now,
		})
		if err != nil {
			return out, apperr.Store("create session", err)
		}
		if id == "" {
			logging.Ctx(ctx).Warn().Str("device_id", req.DeviceID).Msg("session create returned no id")
			out.CreateFailed = true
			return out, nil
		}
		out.SessionID = id
		out.Opened = true
		metrics.SessionsOpened.Inc()
	} else {
		out.SessionID = open[0].ID
		for _, dup := range open[1:] {
			if err := m.store.CloseSession(ctx, dup.ID, now); err != nil {
				return out, apperr.Store("close duplicate session", err)
			}
			out.Closed++
			metrics.SessionsClosed.WithLabelValues("duplicate").Inc()
			logging.Ctx(ctx).Info().Str("device_id", req.DeviceID).Str("session_id", dup.ID).Str("kept", out.SessionID).Msg("closed duplicate open session")
		}
	}

	if req.Point == nil {
		return out, nil
	}
	err := m.store.InsertPoint(ctx, model.GPSPoint{
		SessionID: out.SessionID,
		Latitude:  req.Point.Latitude,
		Longitude: req.Point.Longitude,
		Altitude:  req.Point.Altitude,
		Speed:     req.Point.Speed,
	})
	if err != nil {
		return out, apperr.Store("insert point", err)
	}
	out.PointAppended = true
	metrics.PointsRecorded.Inc()
	return out, nil
}
