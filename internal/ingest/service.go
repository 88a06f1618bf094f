// Package ingest orchestrates a single tracker upload: cache the sample,
// validate it, resolve the device and, for linked devices, drive the
// recording session.
package ingest

import (
	"context"
	"time"

	"gps-relay/internal/apperr"
	"gps-relay/internal/hub"
	"gps-relay/internal/latest"
	"gps-relay/internal/logging"
	"gps-relay/internal/metrics"
	"gps-relay/internal/model"
	"gps-relay/internal/pairing"
	"gps-relay/internal/recording"
	"gps-relay/internal/store"
)

const (
	StatusPending = "pending"
	StatusLinked  = "linked"

	errSessionCreateFailed = "session create failed"
)

// Publisher receives every cached sample, keyed by device id.
type Publisher interface {
	Broadcast(deviceID string, message []byte)
}

type Response struct {
	OK        bool   `json:"ok"`
	Status    string `json:"status,omitempty"`
	Recording *bool  `json:"recording,omitempty"`
	Error     string `json:"error,omitempty"`
}

type Options struct {
	// PersistRawPoints makes lat/lon mandatory and stores every accepted
	// sample in the raw point collection.
	PersistRawPoints bool
	Publisher        Publisher
	Now              func() time.Time
}

type Service struct {
	resolver   *pairing.Resolver
	sessions   *recording.Manager
	raw        store.Points
	latest     *latest.Slot
	publisher  Publisher
	persistRaw bool
	now        func() time.Time
}

func NewService(st store.Store, slot *latest.Slot, opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if slot == nil {
		slot = &latest.Slot{}
	}
	return &Service{
		resolver:   pairing.NewResolver(st),
		sessions:   recording.NewManager(st),
		raw:        st,
		latest:     slot,
		publisher:  opts.Publisher,
		persistRaw: opts.PersistRawPoints,
		now:        now,
	}
}

func (s *Service) Latest() *latest.Slot { return s.latest }

type tokenDeviceKey struct{}

// WithTokenDevice binds the upload to the device named by a verified device
// token. Handle rejects bodies for any other device_id.
func WithTokenDevice(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, tokenDeviceKey{}, deviceID)
}

func TokenDeviceFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(tokenDeviceKey{}).(string)
	return id, ok && id != ""
}

// Handle processes one upload body. Errors carry an apperr kind; a session
// create that yields no identity is reported in the response, not as an
// error.
func (s *Service) Handle(ctx context.Context, body []byte) (Response, error) {
	resp, err := s.handle(ctx, body)
	metrics.UploadsTotal.WithLabelValues(outcomeLabel(resp, err)).Inc()
	return resp, err
}

func (s *Service) handle(ctx context.Context, body []byte) (Response, error) {
	if !isJSONObject(body) {
		return Response{}, apperr.Validation("payload must be a JSON object")
	}
	now := s.now()

	// A token-bound upload must name its own device before it is cached or
	// published; field validation comes after caching.
	claimed := peekDeviceID(body)
	if bound, ok := TokenDeviceFromContext(ctx); ok && bound != claimed {
		return Response{}, apperr.Auth("device token does not match device_id")
	}

	payload, decodeErr := decodePayload(body)
	s.remember(body, claimed, now)
	if decodeErr != nil {
		return Response{}, decodeErr
	}

	deviceID := payload.deviceID()
	if deviceID == "" {
		return Response{}, apperr.Validation("device_id is required")
	}

	if s.persistRaw {
		if payload.Lat == nil || payload.Lon == nil {
			return Response{}, apperr.Validation("lat and lon are required")
		}
		if err := s.raw.InsertRawPoint(ctx, rawPoint(payload, now)); err != nil {
			return Response{}, apperr.Store("insert raw point", err)
		}
	}

	isRecording := payload.recording()
	state, err := s.resolver.Resolve(ctx, pairing.Request{
		DeviceID:  deviceID,
		PairCode:  payload.pairCode(),
		Recording: isRecording,
	}, now)
	if err != nil {
		return Response{}, err
	}

	log := logging.Ctx(ctx)
	if !state.Linked() {
		log.Debug().Str("device_id", deviceID).Msg("upload from pending device")
		return Response{OK: true, Status: StatusPending}, nil
	}

	out, err := s.sessions.Apply(ctx, recording.Request{
		DeviceID:  deviceID,
		UserID:    state.UserID,
		Recording: isRecording,
		Point:     payload.point(),
	}, now)
	if err != nil {
		return Response{}, err
	}

	log.Debug().
		Str("device_id", deviceID).
		Str("session_id", out.SessionID).
		Bool("recording", isRecording).
		Bool("opened", out.Opened).
		Int("closed", out.Closed).
		Bool("point", out.PointAppended).
		Msg("upload from linked device")

	if out.CreateFailed {
		return Response{OK: false, Status: StatusLinked, Recording: &isRecording, Error: errSessionCreateFailed}, nil
	}
	return Response{OK: true, Status: StatusLinked, Recording: &isRecording}, nil
}

// remember caches and publishes the raw body. It runs before any
// validation beyond "is a JSON object", so malformed samples stay visible.
func (s *Service) remember(body []byte, deviceID string, now time.Time) {
	raw := make([]byte, len(body))
	copy(raw, body)
	s.latest.Store(latest.Sample{Payload: raw, DeviceID: deviceID, ReceivedAt: now})

	if s.publisher == nil {
		return
	}
	msg, err := hub.SampleMessage(deviceID, now, raw)
	if err != nil {
		return
	}
	s.publisher.Broadcast(deviceID, msg)
}

func rawPoint(p Payload, now time.Time) model.RawPoint {
	return model.RawPoint{
		DeviceID:   p.deviceID(),
		Latitude:   *p.Lat,
		Longitude:  *p.Lon,
		AltM:       p.AltM,
		SpdKmh:     p.SpdKmh,
		CourseDeg:  p.CourseDeg,
		TMs:        p.TMs,
		Hour:       p.Hour,
		Min:        p.Min,
		Sec:        p.Sec,
		ReceivedAt: now,
	}
}

func outcomeLabel(resp Response, err error) string {
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindValidation:
			return "validation"
		case apperr.KindAuth:
			return "unauthorized"
		case apperr.KindConfig:
			return "config"
		default:
			return "error"
		}
	}
	if !resp.OK {
		return "session_create_failed"
	}
	return resp.Status
}
