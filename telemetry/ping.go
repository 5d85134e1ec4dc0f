package telemetry

import (
	"errors"
	"time"
)

// Ping is a single GPS measurement reported by a tag.
type Ping struct {
	TagID      string    `json:"tag_id"`
	OrgID      string    `json:"org_id"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	SpeedKmh   float64   `json:"speed_kmh"`
	Heading    float64   `json:"heading"`
	BatteryPct float64   `json:"battery_pct"`
	DeviceTime time.Time `json:"device_time"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// Valid returns an error if the Ping is invalid.
func (p Ping) Valid() error {
	if p.TagID == "" {
		return errors.New("tag_id required")
	}
	if p.OrgID == "" {
		return errors.New("org_id required")
	}
	if p.Lat < -90 || p.Lat > 90 {
		return errors.New("lat out of range")
	}
	if p.Lon < -180 || p.Lon > 180 {
		return errors.New("lon out of range")
	}
	if p.SpeedKmh < 0 {
		return errors.New("speed cannot be negative")
	}
	if p.Heading < 0 || p.Heading >= 360 {
		return errors.New("heading out of range")
	}
	if p.BatteryPct < 0 || p.BatteryPct > 100 {
		return errors.New("battery_pct out of range")
	}
	if p.DeviceTime.IsZero() {
		return errors.New("device_time required")
	}
	return nil
}
