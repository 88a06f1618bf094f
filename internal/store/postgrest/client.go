// Package postgrest implements store.Store against a hosted PostgREST
// endpoint (Supabase), authenticating with the service role key.
package postgrest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"gps-relay/internal/apperr"
	"gps-relay/internal/logging"
	"gps-relay/internal/metrics"
	"gps-relay/internal/model"
)

const (
	backendName = "postgrest"
	breakerName = "postgrest"

	maxErrorBody = 4 << 10
)

type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Fields  FieldNames
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	apiKey  string
	fields  FieldNames
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[[]byte]
}

// statusError is a non-2xx reply from PostgREST.
type statusError struct {
	Code    int
	Message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("postgrest returned %d: %s", e.Code, e.Message)
}

// New never fails. A client built without a base URL or key answers every
// call with a configuration error.
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	fields := opts.Fields
	if fields.DevicesTable == "" {
		fields = CanonicalFieldNames()
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		fields:  fields,
		http:    httpClient,
		cb: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        breakerName,
			MaxRequests: 3,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// Client errors say nothing about backend health.
			IsSuccessful: func(err error) bool {
				var se *statusError
				if errors.As(err, &se) {
					return se.Code < 500
				}
				return err == nil
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("store circuit breaker state change")
				metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			},
		}),
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func (c *Client) configured() error {
	if c.baseURL == "" || c.apiKey == "" {
		return apperr.Config("store is not configured: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY are required")
	}
	return nil
}

// do issues one request and returns the response body. op names the call in
// errors and metrics.
func (c *Client) do(ctx context.Context, op, method, table string, query url.Values, body any, prefer string) ([]byte, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, apperr.Store(op, err)
		}
	}

	endpoint := c.baseURL + "/rest/v1/" + table
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	start := time.Now()
	data, err := c.cb.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if prefer != "" {
			req.Header.Set("Prefer", prefer)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &statusError{Code: resp.StatusCode, Message: errorMessage(respBody)}
		}
		return respBody, nil
	})

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.StoreRequestDuration.WithLabelValues(backendName, op, result).Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, apperr.Store(op, err)
	}
	return data, nil
}

func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Details string `json:"details"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		if e.Details != "" {
			return e.Message + " (" + e.Details + ")"
		}
		return e.Message
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return strings.TrimSpace(string(body))
}

func eq(v string) string { return "eq." + v }

func (c *Client) GetDevice(ctx context.Context, deviceID string) (model.Device, bool, error) {
	f := c.fields
	q := url.Values{}
	q.Set(f.DeviceID, eq(deviceID))
	q.Set("select", strings.Join([]string{f.DeviceID, "status", f.UserID, "pair_code", "pair_expires_at", "last_seen_at", "is_recording"}, ","))
	q.Set("limit", "1")

	data, err := c.do(ctx, "get_device", http.MethodGet, f.DevicesTable, q, nil, "")
	if err != nil {
		return model.Device{}, false, err
	}

	rows, err := decodeRows(data)
	if err != nil {
		return model.Device{}, false, apperr.Store("get_device", err)
	}
	if len(rows) == 0 {
		return model.Device{}, false, nil
	}
	d, err := c.deviceFromRow(rows[0])
	if err != nil {
		return model.Device{}, false, apperr.Store("get_device", err)
	}
	return d, true, nil
}

func (c *Client) CreateDevice(ctx context.Context, d model.Device) error {
	f := c.fields
	body := map[string]any{
		f.DeviceID:        d.DeviceID,
		"status":          string(d.Status),
		"pair_code":       d.PairCode,
		"pair_expires_at": formatTimePtr(d.PairExpiresAt),
		"last_seen_at":    formatTime(d.LastSeenAt),
		"is_recording":    d.IsRecording,
	}
	_, err := c.do(ctx, "create_device", http.MethodPost, f.DevicesTable, nil, body, "return=minimal")
	return err
}

func (c *Client) UpdateDevice(ctx context.Context, deviceID string, patch model.DevicePatch) error {
	f := c.fields
	body := map[string]any{"last_seen_at": formatTime(patch.LastSeenAt)}
	if patch.PairCode != nil {
		body["pair_code"] = *patch.PairCode
	}
	if patch.PairExpiresAt != nil {
		body["pair_expires_at"] = formatTime(*patch.PairExpiresAt)
	}
	if patch.IsRecording != nil {
		body["is_recording"] = *patch.IsRecording
	}

	q := url.Values{}
	q.Set(f.DeviceID, eq(deviceID))
	_, err := c.do(ctx, "update_device", http.MethodPatch, f.DevicesTable, q, body, "return=minimal")
	return err
}

func (c *Client) ListOpenSessions(ctx context.Context, deviceID string) ([]model.Session, error) {
	f := c.fields
	q := url.Values{}
	q.Set(f.DeviceID, eq(deviceID))
	q.Set("ended_at", "is.null")
	q.Set("select", strings.Join([]string{"id", f.DeviceID, f.UserID, "started_at", "ended_at"}, ","))
	q.Set("order", "started_at.asc")

	data, err := c.do(ctx, "list_open_sessions", http.MethodGet, f.SessionsTable, q, nil, "")
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows(data)
	if err != nil {
		return nil, apperr.Store("list_open_sessions", err)
	}

	sessions := make([]model.Session, 0, len(rows))
	for _, r := range rows {
		s, err := c.sessionFromRow(r)
		if err != nil {
			return nil, apperr.Store("list_open_sessions", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func (c *Client) CreateSession(ctx context.Context, s model.Session) (string, error) {
	f := c.fields
	body := map[string]any{
		f.DeviceID:   s.DeviceID,
		f.UserID:     s.UserID,
		"started_at": formatTime(s.StartedAt),
	}
	q := url.Values{}
	q.Set("select", "id")

	data, err := c.do(ctx, "create_session", http.MethodPost, f.SessionsTable, q, body, "return=representation")
	if err != nil {
		return "", err
	}
	rows, err := decodeRows(data)
	if err != nil || len(rows) == 0 {
		return "", nil
	}
	id, _ := rows[0].id("id")
	return id, nil
}

func (c *Client) CloseSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	q := url.Values{}
	q.Set("id", eq(sessionID))
	body := map[string]any{"ended_at": formatTime(endedAt)}
	_, err := c.do(ctx, "close_session", http.MethodPatch, c.fields.SessionsTable, q, body, "return=minimal")
	return err
}

func (c *Client) InsertPoint(ctx context.Context, p model.GPSPoint) error {
	body := map[string]any{
		"session_id": p.SessionID,
		"latitude":   p.Latitude,
		"longitude":  p.Longitude,
		"altitude":   p.Altitude,
		"speed":      p.Speed,
	}
	_, err := c.do(ctx, "insert_point", http.MethodPost, c.fields.PointsTable, nil, body, "return=minimal")
	return err
}

func (c *Client) InsertRawPoint(ctx context.Context, p model.RawPoint) error {
	body := map[string]any{
		c.fields.DeviceID: p.DeviceID,
		"lat":             p.Latitude,
		"lon":             p.Longitude,
		"alt_m":           p.AltM,
		"spd_kmh":         p.SpdKmh,
		"course_deg":      p.CourseDeg,
		"t_ms":            p.TMs,
		"hour":            p.Hour,
		"min":             p.Min,
		"sec":             p.Sec,
		"received_at":     formatTime(p.ReceivedAt),
	}
	_, err := c.do(ctx, "insert_raw_point", http.MethodPost, c.fields.RawPointsTable, nil, body, "return=minimal")
	return err
}

func (c *Client) Ping(ctx context.Context) error {
	q := url.Values{}
	q.Set("select", c.fields.DeviceID)
	q.Set("limit", "1")
	_, err := c.do(ctx, "ping", http.MethodGet, c.fields.DevicesTable, q, nil, "")
	return err
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
