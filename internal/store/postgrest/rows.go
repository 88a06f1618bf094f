package postgrest

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"gps-relay/internal/model"
)

type row map[string]json.RawMessage

func decodeRows(data []byte) ([]row, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var rows []row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	return rows, nil
}

func (r row) isNull(key string) bool {
	raw, ok := r[key]
	return !ok || string(raw) == "null"
}

func (r row) str(key string) (*string, error) {
	if r.isNull(key) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(r[key], &s); err != nil {
		return nil, fmt.Errorf("column %s: %w", key, err)
	}
	return &s, nil
}

// id reads a key column that may be a uuid string or a bigint.
func (r row) id(key string) (string, error) {
	if r.isNull(key) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(r[key], &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(r[key], &n); err != nil {
		return "", fmt.Errorf("column %s: %w", key, err)
	}
	return n.String(), nil
}

func (r row) boolean(key string) (bool, error) {
	if r.isNull(key) {
		return false, nil
	}
	var b bool
	if err := json.Unmarshal(r[key], &b); err != nil {
		return false, fmt.Errorf("column %s: %w", key, err)
	}
	return b, nil
}

func (r row) timestamp(key string) (*time.Time, error) {
	s, err := r.str(key)
	if err != nil || s == nil {
		return nil, err
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", key, err)
	}
	return &t, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
}

// parseTime accepts both timestamptz and zone-less timestamp renderings;
// zone-less values are taken as UTC.
func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %s", strconv.Quote(s))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func (c *Client) deviceFromRow(r row) (model.Device, error) {
	f := c.fields
	var d model.Device

	id, err := r.str(f.DeviceID)
	if err != nil {
		return d, err
	}
	if id != nil {
		d.DeviceID = *id
	}
	status, err := r.str("status")
	if err != nil {
		return d, err
	}
	if status != nil {
		d.Status = model.DeviceStatus(*status)
	}
	if d.UserID, err = r.str(f.UserID); err != nil {
		return d, err
	}
	if d.PairCode, err = r.str("pair_code"); err != nil {
		return d, err
	}
	if d.PairExpiresAt, err = r.timestamp("pair_expires_at"); err != nil {
		return d, err
	}
	lastSeen, err := r.timestamp("last_seen_at")
	if err != nil {
		return d, err
	}
	if lastSeen != nil {
		d.LastSeenAt = *lastSeen
	}
	if d.IsRecording, err = r.boolean("is_recording"); err != nil {
		return d, err
	}
	return d, nil
}

func (c *Client) sessionFromRow(r row) (model.Session, error) {
	f := c.fields
	var s model.Session
	var err error

	if s.ID, err = r.id("id"); err != nil {
		return s, err
	}
	if s.DeviceID, err = r.id(f.DeviceID); err != nil {
		return s, err
	}
	if s.UserID, err = r.id(f.UserID); err != nil {
		return s, err
	}
	started, err := r.timestamp("started_at")
	if err != nil {
		return s, err
	}
	if started != nil {
		s.StartedAt = *started
	}
	if s.EndedAt, err = r.timestamp("ended_at"); err != nil {
		return s, err
	}
	return s, nil
}
