package pipeline

import (
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/MZRMRB/trakr/telemetry"
)

// Aggregator folds accepted pings into route segments. A segment opens when
// a tag starts moving, extends while pings keep arriving within the idle
// gap, and closes when the gap is exceeded. Statistics are accumulated
// incrementally; distance between consecutive waypoints is great-circle,
// never the straight-line chord.
type Aggregator struct{}

// Aggregate applies the transition to next.Segment and reports what changed.
// A nil return means route geometry is untouched (idle tag, no open
// segment). A closed segment with fewer than two waypoints is discarded
// rather than reported: a single isolated ping is noise, not a trip.
func (Aggregator) Aggregate(rules Rules, next *DeviceState, p telemetry.Ping) *SegmentDelta {
	seg := next.Segment

	if seg == nil {
		if p.SpeedKmh < rules.MovementFloorKmh {
			return nil
		}
		opened := openSegment(p)
		next.Segment = opened
		return &SegmentDelta{Open: snapshot(opened)}
	}

	gap := p.DeviceTime.Sub(seg.EndTime)
	if gap <= rules.IdleGap {
		extendSegment(seg, p)
		return &SegmentDelta{Open: snapshot(seg)}
	}

	// Gap exceeded: freeze the current segment without the new ping, then
	// re-evaluate opening rules as if none existed.
	delta := &SegmentDelta{}
	seg.Status = SegmentClosed
	if len(seg.Waypoints) >= 2 {
		delta.Closed = snapshot(seg)
	} else {
		segmentsDiscarded.Inc()
	}
	next.Segment = nil

	if p.SpeedKmh >= rules.MovementFloorKmh {
		opened := openSegment(p)
		next.Segment = opened
		delta.Open = snapshot(opened)
	}

	if delta.Closed == nil && delta.Open == nil {
		return nil
	}
	return delta
}

func openSegment(p telemetry.Ping) *RouteSegment {
	return &RouteSegment{
		ID:          uuid.NewString(),
		OrgID:       p.OrgID,
		TagID:       p.TagID,
		Status:      SegmentOpen,
		Waypoints:   []Waypoint{waypoint(p)},
		MaxSpeedKmh: p.SpeedKmh,
		StartTime:   p.DeviceTime,
		EndTime:     p.DeviceTime,
	}
}

func extendSegment(seg *RouteSegment, p telemetry.Ping) {
	prev := seg.Waypoints[len(seg.Waypoints)-1]
	seg.Waypoints = append(seg.Waypoints, waypoint(p))

	// orb points are (lon, lat).
	seg.DistanceM += geo.Distance(
		orb.Point{prev.Lon, prev.Lat},
		orb.Point{p.Lon, p.Lat},
	)
	seg.EndTime = p.DeviceTime
	seg.DurationS = seg.EndTime.Sub(seg.StartTime).Seconds()
	if p.SpeedKmh > seg.MaxSpeedKmh {
		seg.MaxSpeedKmh = p.SpeedKmh
	}
	if seg.DurationS > 0 {
		seg.AvgSpeedKmh = seg.DistanceM / seg.DurationS * 3.6
	}
}

func waypoint(p telemetry.Ping) Waypoint {
	return Waypoint{Lat: p.Lat, Lon: p.Lon, SpeedKmh: p.SpeedKmh, Time: p.DeviceTime}
}

// snapshot copies a segment so sink consumers never alias pipeline state.
func snapshot(seg *RouteSegment) *RouteSegment {
	cp := *seg
	cp.Waypoints = append([]Waypoint(nil), seg.Waypoints...)
	return &cp
}
