package pipeline

import (
	"time"
)

// AlarmKind is the closed set of alarm types the evaluator can emit.
type AlarmKind string

const (
	AlarmGeofenceEnter AlarmKind = "GEOFENCE_ENTER"
	AlarmGeofenceExit  AlarmKind = "GEOFENCE_EXIT"
	AlarmLowBattery    AlarmKind = "LOW_BATTERY"
	AlarmExcessSpeed   AlarmKind = "EXCESS_SPEED"
	AlarmStationary    AlarmKind = "STATIONARY_TIMEOUT"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alarm is an immutable event produced by the evaluator. TriggeredAt is
// always the device-reported timestamp of the ping that fired it, so
// downstream consumers can deduplicate on (tag_id, kind, triggered_at).
type Alarm struct {
	ID          string            `json:"id"`
	OrgID       string            `json:"org_id"`
	TagID       string            `json:"tag_id"`
	Kind        AlarmKind         `json:"kind"`
	Severity    Severity          `json:"severity"`
	TriggeredAt time.Time         `json:"triggered_at"`
	Lat         float64           `json:"lat"`
	Lon         float64           `json:"lon"`
	Details     map[string]string `json:"details,omitempty"`
}

type SegmentStatus string

const (
	SegmentOpen   SegmentStatus = "OPEN"
	SegmentClosed SegmentStatus = "CLOSED"
)

// Waypoint is one position along a route segment.
type Waypoint struct {
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	SpeedKmh float64   `json:"speed_kmh"`
	Time     time.Time `json:"time"`
}

// RouteSegment is one contiguous trip. It is mutable while OPEN and frozen
// once CLOSED.
type RouteSegment struct {
	ID          string        `json:"id"`
	OrgID       string        `json:"org_id"`
	TagID       string        `json:"tag_id"`
	Status      SegmentStatus `json:"status"`
	Waypoints   []Waypoint    `json:"waypoints"`
	DistanceM   float64       `json:"distance_m"`
	DurationS   float64       `json:"duration_s"`
	MaxSpeedKmh float64       `json:"max_speed_kmh"`
	AvgSpeedKmh float64       `json:"avg_speed_kmh"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time"`
}

// SegmentDelta describes what one state transition did to route geometry.
// Closed is set when a segment was finalized by this transition; Open is the
// segment left open afterwards (freshly opened or extended). Persistence
// upserts by segment ID, so replaying a delta is harmless.
type SegmentDelta struct {
	Closed *RouteSegment `json:"closed,omitempty"`
	Open   *RouteSegment `json:"open,omitempty"`
}
