package pipeline

import (
	"testing"
	"time"

	"github.com/MZRMRB/trakr/telemetry"
)

func movingPing(offset time.Duration, lat, lon, speed float64) telemetry.Ping {
	p := pingAt(offset)
	p.Lat = lat
	p.Lon = lon
	p.SpeedKmh = speed
	return p
}

func TestAggregateOpensOnMovement(t *testing.T) {
	var agg Aggregator
	rules := testRules()
	state := newDeviceState("truck-001", "demo-org")

	// Idle pings open nothing.
	delta := agg.Aggregate(rules, state, movingPing(0, 52.52, 13.40, 0))
	if delta != nil {
		t.Fatalf("idle ping produced delta %+v", delta)
	}
	if state.Segment != nil {
		t.Fatal("idle ping opened a segment")
	}

	// First moving ping opens a one-waypoint segment.
	delta = agg.Aggregate(rules, state, movingPing(time.Minute, 52.52, 13.40, 30))
	if delta == nil || delta.Open == nil || delta.Closed != nil {
		t.Fatalf("delta = %+v, want open only", delta)
	}
	if len(delta.Open.Waypoints) != 1 {
		t.Fatalf("waypoints = %d, want 1", len(delta.Open.Waypoints))
	}
	if delta.Open.Status != SegmentOpen {
		t.Fatalf("status = %s, want OPEN", delta.Open.Status)
	}
}

func TestAggregateExtendAccumulatesStats(t *testing.T) {
	var agg Aggregator
	rules := testRules()
	state := newDeviceState("truck-001", "demo-org")

	agg.Aggregate(rules, state, movingPing(0, 52.50, 13.40, 30))
	// 0.01 degrees of latitude is roughly 1.11 km.
	agg.Aggregate(rules, state, movingPing(time.Minute, 52.51, 13.40, 50))
	delta := agg.Aggregate(rules, state, movingPing(2*time.Minute, 52.52, 13.40, 40))

	if delta == nil || delta.Open == nil {
		t.Fatalf("delta = %+v, want extended open segment", delta)
	}
	seg := delta.Open
	if len(seg.Waypoints) != 3 {
		t.Fatalf("waypoints = %d, want 3", len(seg.Waypoints))
	}
	if seg.DistanceM < 2100 || seg.DistanceM > 2350 {
		t.Errorf("distance = %.0f m, want ~2224 m over 0.02 degrees of latitude", seg.DistanceM)
	}
	if seg.DurationS != 120 {
		t.Errorf("duration = %.0f s, want 120", seg.DurationS)
	}
	if seg.MaxSpeedKmh != 50 {
		t.Errorf("max speed = %.0f, want 50", seg.MaxSpeedKmh)
	}
	wantAvg := seg.DistanceM / seg.DurationS * 3.6
	if seg.AvgSpeedKmh != wantAvg {
		t.Errorf("avg speed = %.2f, want %.2f", seg.AvgSpeedKmh, wantAvg)
	}
}

func TestAggregateClosesOnIdleGap(t *testing.T) {
	var agg Aggregator
	rules := testRules()
	rules.IdleGap = 5 * time.Minute
	state := newDeviceState("truck-001", "demo-org")

	agg.Aggregate(rules, state, movingPing(0, 52.50, 13.40, 30))
	agg.Aggregate(rules, state, movingPing(time.Minute, 52.51, 13.40, 30))

	// Next ping arrives well past the idle gap: the old segment closes
	// without it and a new one opens at the new position.
	delta := agg.Aggregate(rules, state, movingPing(10*time.Minute, 52.55, 13.40, 30))
	if delta == nil || delta.Closed == nil || delta.Open == nil {
		t.Fatalf("delta = %+v, want closed and open", delta)
	}
	if delta.Closed.Status != SegmentClosed {
		t.Fatalf("closed status = %s", delta.Closed.Status)
	}
	if len(delta.Closed.Waypoints) != 2 {
		t.Errorf("closed waypoints = %d, want 2 (late ping excluded)", len(delta.Closed.Waypoints))
	}
	if !delta.Closed.EndTime.Equal(t0.Add(time.Minute)) {
		t.Errorf("closed end = %v, want %v", delta.Closed.EndTime, t0.Add(time.Minute))
	}
	if len(delta.Open.Waypoints) != 1 {
		t.Errorf("new open waypoints = %d, want 1", len(delta.Open.Waypoints))
	}
	if delta.Open.ID == delta.Closed.ID {
		t.Error("new segment reused the closed segment's ID")
	}
}

func TestAggregateDiscardsSingleWaypointSegment(t *testing.T) {
	var agg Aggregator
	rules := testRules()
	state := newDeviceState("truck-001", "demo-org")

	agg.Aggregate(rules, state, movingPing(0, 52.50, 13.40, 30))

	// The lone-waypoint segment dies silently; the idle ping opens nothing.
	delta := agg.Aggregate(rules, state, movingPing(10*time.Minute, 52.50, 13.40, 0))
	if delta != nil {
		t.Fatalf("delta = %+v, want nil (discarded segment, no new one)", delta)
	}
	if state.Segment != nil {
		t.Fatal("segment still open after discard")
	}
}

func TestAggregateStopThenIdleGapCloses(t *testing.T) {
	var agg Aggregator
	rules := testRules()
	state := newDeviceState("truck-001", "demo-org")

	agg.Aggregate(rules, state, movingPing(0, 52.50, 13.40, 30))
	agg.Aggregate(rules, state, movingPing(time.Minute, 52.51, 13.40, 30))
	// A stop inside the gap still extends the segment.
	delta := agg.Aggregate(rules, state, movingPing(3*time.Minute, 52.515, 13.40, 0))
	if delta == nil || delta.Open == nil || delta.Closed != nil {
		t.Fatalf("stop within gap: delta = %+v, want extension", delta)
	}

	// Then the tag stays put past the gap: close, nothing reopens.
	delta = agg.Aggregate(rules, state, movingPing(20*time.Minute, 52.515, 13.40, 0))
	if delta == nil || delta.Closed == nil {
		t.Fatalf("delta = %+v, want closed segment", delta)
	}
	if delta.Open != nil {
		t.Errorf("idle ping reopened a segment: %+v", delta.Open)
	}
	if len(delta.Closed.Waypoints) != 3 {
		t.Errorf("closed waypoints = %d, want 3", len(delta.Closed.Waypoints))
	}
}

func TestSnapshotDoesNotAliasState(t *testing.T) {
	var agg Aggregator
	rules := testRules()
	state := newDeviceState("truck-001", "demo-org")

	delta := agg.Aggregate(rules, state, movingPing(0, 52.50, 13.40, 30))
	delta.Open.Waypoints[0].Lat = 99

	if state.Segment.Waypoints[0].Lat != 52.50 {
		t.Error("mutating the delta changed pipeline state")
	}
}
