package postgrest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gps-relay/internal/apperr"
	"gps-relay/internal/model"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  map[string]string
	Header http.Header
	Body   map[string]any
}

type fakePostgREST struct {
	mu       sync.Mutex
	requests []recordedRequest
	reply    func(r *http.Request) (int, string)
}

func (f *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Query: map[string]string{}, Header: r.Header.Clone()}
	for k, v := range r.URL.Query() {
		rec.Query[k] = v[0]
	}
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &rec.Body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()

	code, body := http.StatusOK, "[]"
	if f.reply != nil {
		code, body = f.reply(r)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, body)
}

func (f *fakePostgREST) last(t *testing.T) recordedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, fake *fakePostgREST, fields FieldNames) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL + "/", APIKey: "service-key", Timeout: time.Second, Fields: fields})
}

func TestClient_UnconfiguredFailsWithConfigError(t *testing.T) {
	c := New(Options{})
	_, _, err := c.GetDevice(context.Background(), "A1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrConfig))
}

func TestClient_GetDevice(t *testing.T) {
	fake := &fakePostgREST{reply: func(r *http.Request) (int, string) {
		return http.StatusOK, `[{"device_id":"A1","status":"linked","user_id":"U9","pair_code":null,"pair_expires_at":null,"last_seen_at":"2026-01-01T12:00:00+00:00","is_recording":true}]`
	}}
	c := newTestClient(t, fake, CanonicalFieldNames())

	d, found, err := c.GetDevice(context.Background(), "A1")
	require.NoError(t, err)
	require.True(t, found)
	uid, linked := d.Linked()
	assert.True(t, linked)
	assert.Equal(t, "U9", uid)
	assert.True(t, d.IsRecording)
	assert.Nil(t, d.PairCode)
	assert.True(t, d.LastSeenAt.Equal(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)))

	req := fake.last(t)
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/rest/v1/devices", req.Path)
	assert.Equal(t, "eq.A1", req.Query["device_id"])
	assert.Equal(t, "service-key", req.Header.Get("apikey"))
	assert.Equal(t, "Bearer service-key", req.Header.Get("Authorization"))
}

func TestClient_GetDevice_NotFound(t *testing.T) {
	c := newTestClient(t, &fakePostgREST{}, CanonicalFieldNames())
	_, found, err := c.GetDevice(context.Background(), "A1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestClient_LegacyFieldNames(t *testing.T) {
	fake := &fakePostgREST{reply: func(r *http.Request) (int, string) {
		return http.StatusOK, `[{"dispositiu_id":"A1","status":"linked","usuari_id":"U9","last_seen_at":"2026-01-01T12:00:00"}]`
	}}
	c := newTestClient(t, fake, LegacyFieldNames())

	d, found, err := c.GetDevice(context.Background(), "A1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "A1", d.DeviceID)
	uid, _ := d.Linked()
	assert.Equal(t, "U9", uid)
	assert.Equal(t, "eq.A1", fake.last(t).Query["dispositiu_id"])

	_, err = c.CreateSession(context.Background(), model.Session{DeviceID: "A1", UserID: "U9", StartedAt: time.Now()})
	require.NoError(t, err)
	body := fake.last(t).Body
	assert.Equal(t, "A1", body["dispositiu_id"])
	assert.Equal(t, "U9", body["usuari_id"])
}

func TestClient_UpdateDevice_OnlyTouchesPatchedColumns(t *testing.T) {
	fake := &fakePostgREST{reply: func(r *http.Request) (int, string) { return http.StatusNoContent, "" }}
	c := newTestClient(t, fake, CanonicalFieldNames())

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, c.UpdateDevice(context.Background(), "A1", model.DevicePatch{LastSeenAt: now}))

	req := fake.last(t)
	assert.Equal(t, http.MethodPatch, req.Method)
	assert.Equal(t, "eq.A1", req.Query["device_id"])
	assert.Equal(t, map[string]any{"last_seen_at": "2026-01-01T12:00:00Z"}, req.Body)
}

func TestClient_OpenSessionsQuery(t *testing.T) {
	fake := &fakePostgREST{reply: func(r *http.Request) (int, string) {
		return http.StatusOK, `[{"id":17,"device_id":"A1","user_id":"U9","started_at":"2026-01-01T12:00:00Z","ended_at":null}]`
	}}
	c := newTestClient(t, fake, CanonicalFieldNames())

	sessions, err := c.ListOpenSessions(context.Background(), "A1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "17", sessions[0].ID)
	assert.True(t, sessions[0].Open())

	req := fake.last(t)
	assert.Equal(t, "/rest/v1/sessions", req.Path)
	assert.Equal(t, "is.null", req.Query["ended_at"])
	assert.Equal(t, "started_at.asc", req.Query["order"])
}

func TestClient_CreateSession(t *testing.T) {
	fake := &fakePostgREST{reply: func(r *http.Request) (int, string) {
		return http.StatusCreated, `[{"id":"5f0c"}]`
	}}
	c := newTestClient(t, fake, CanonicalFieldNames())

	id, err := c.CreateSession(context.Background(), model.Session{DeviceID: "A1", UserID: "U9", StartedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, "5f0c", id)
	assert.Equal(t, "return=representation", fake.last(t).Header.Get("Prefer"))
}

func TestClient_CreateSession_NoIdentity(t *testing.T) {
	fake := &fakePostgREST{reply: func(r *http.Request) (int, string) { return http.StatusCreated, `[]` }}
	c := newTestClient(t, fake, CanonicalFieldNames())

	id, err := c.CreateSession(context.Background(), model.Session{DeviceID: "A1", UserID: "U9", StartedAt: time.Now()})
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestClient_Non2xxIsStoreError(t *testing.T) {
	fake := &fakePostgREST{reply: func(r *http.Request) (int, string) {
		return http.StatusBadRequest, `{"message":"column \"foo\" does not exist"}`
	}}
	c := newTestClient(t, fake, CanonicalFieldNames())

	err := c.InsertPoint(context.Background(), model.GPSPoint{SessionID: "s", Latitude: 1, Longitude: 2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrStore))
	assert.Contains(t, err.Error(), `column "foo" does not exist`)
}

func TestClient_InsertRawPointPassesFieldsThrough(t *testing.T) {
	fake := &fakePostgREST{reply: func(r *http.Request) (int, string) { return http.StatusCreated, "" }}
	c := newTestClient(t, fake, CanonicalFieldNames())

	tms := int64(123456)
	hour := 9
	require.NoError(t, c.InsertRawPoint(context.Background(), model.RawPoint{DeviceID: "A1", Latitude: 46.1, Longitude: 7.2, TMs: &tms, Hour: &hour, ReceivedAt: time.Now()}))

	req := fake.last(t)
	assert.Equal(t, "/rest/v1/raw_points", req.Path)
	assert.Equal(t, 46.1, req.Body["lat"])
	assert.Equal(t, float64(123456), req.Body["t_ms"])
	assert.Equal(t, float64(9), req.Body["hour"])
	assert.Nil(t, req.Body["min"])
}

func TestParseTime(t *testing.T) {
	for _, s := range []string{"2026-01-01T12:00:00Z", "2026-01-01T12:00:00.123+00:00", "2026-01-01T12:00:00", "2026-01-01 12:00:00.5"} {
		_, err := parseTime(s)
		assert.NoError(t, err, s)
	}
	_, err := parseTime("yesterday")
	assert.Error(t, err)
}
