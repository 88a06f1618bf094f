package ingest

import (
	"bytes"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"gps-relay/internal/apperr"
	"gps-relay/internal/recording"
)

// Payload is the upload body sent by a tracker. Every field is optional at
// decode time; requirements are checked by Service.Handle.
type Payload struct {
	DeviceID  *string  `json:"device_id"`
	PairCode  *string  `json:"pair_code"`
	Lat       *float64 `json:"lat" validate:"omitempty,gte=-90,lte=90"`
	Lon       *float64 `json:"lon" validate:"omitempty,gte=-180,lte=180"`
	AltM      *float64 `json:"alt_m"`
	SpdKmh    *float64 `json:"spd_kmh" validate:"omitempty,gte=0"`
	CourseDeg *float64 `json:"course_deg" validate:"omitempty,gte=0,lte=360"`
	Recording *bool    `json:"recording"`
	Gravant   *bool    `json:"gravant"`
	TMs       *int64   `json:"t_ms"`
	Hour      *int     `json:"hour" validate:"omitempty,gte=0,lte=23"`
	Min       *int     `json:"min" validate:"omitempty,gte=0,lte=59"`
	Sec       *int     `json:"sec" validate:"omitempty,gte=0,lte=60"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		})
	})
	return validate
}

// isJSONObject reports whether body is a syntactically valid JSON object.
func isJSONObject(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}

// peekDeviceID reads only device_id, so the caller can attribute a body that
// fails full decoding. Anything but a string yields "".
func peekDeviceID(body []byte) string {
	var head struct {
		DeviceID json.RawMessage `json:"device_id"`
	}
	if err := json.Unmarshal(body, &head); err != nil || len(head.DeviceID) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(head.DeviceID, &id); err != nil {
		return ""
	}
	return id
}

func decodePayload(body []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Payload{}, apperr.Validation("malformed payload: %v", err)
	}
	if err := getValidator().Struct(p); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return Payload{}, apperr.Validation("%s is out of range (%s=%s)", fe.Field(), fe.Tag(), fe.Param())
		}
		return Payload{}, apperr.Validation("invalid payload: %v", err)
	}
	return p, nil
}

func (p Payload) deviceID() string {
	if p.DeviceID == nil {
		return ""
	}
	return *p.DeviceID
}

func (p Payload) pairCode() string {
	if p.PairCode == nil {
		return ""
	}
	return *p.PairCode
}

// recording prefers the "recording" flag and falls back to the older
// "gravant" spelling. Absent means not recording.
func (p Payload) recording() bool {
	if p.Recording != nil {
		return *p.Recording
	}
	if p.Gravant != nil {
		return *p.Gravant
	}
	return false
}

func (p Payload) point() *recording.Point {
	if p.Lat == nil || p.Lon == nil {
		return nil
	}
	return &recording.Point{
		Latitude:  *p.Lat,
		Longitude: *p.Lon,
		Altitude:  p.AltM,
		Speed:     p.SpdKmh,
	}
}
