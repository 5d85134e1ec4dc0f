package pipeline

import (
	"errors"
	"testing"
	"time"
)

func TestStateStoreFirstCommit(t *testing.T) {
	ss := NewStateStore()

	if _, ok := ss.Get("truck-001"); ok {
		t.Fatal("Get on empty store returned state")
	}

	next := newDeviceState("truck-001", "demo-org")
	next.Watermark = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if err := ss.CompareAndSwap("truck-001", 0, next); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}

	got, ok := ss.Get("truck-001")
	if !ok {
		t.Fatal("state missing after commit")
	}
	if got.Version() != 1 {
		t.Errorf("version = %d, want 1", got.Version())
	}
}

func TestStateStoreVersionMismatch(t *testing.T) {
	ss := NewStateStore()
	base := newDeviceState("truck-001", "demo-org")
	base.Watermark = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if err := ss.CompareAndSwap("truck-001", 0, base); err != nil {
		t.Fatal(err)
	}

	// Two writers read version 1; the second commit must fail.
	a, _ := ss.Get("truck-001")
	b, _ := ss.Get("truck-001")

	a.Watermark = a.Watermark.Add(time.Minute)
	if err := ss.CompareAndSwap("truck-001", a.Version(), a); err != nil {
		t.Fatalf("first writer failed: %v", err)
	}

	b.Watermark = b.Watermark.Add(2 * time.Minute)
	err := ss.CompareAndSwap("truck-001", b.Version(), b)
	if !errors.Is(err, ErrStaleState) {
		t.Fatalf("second writer: err = %v, want ErrStaleState", err)
	}
}

func TestStateStoreWatermarkNeverDecreases(t *testing.T) {
	ss := NewStateStore()
	base := newDeviceState("truck-001", "demo-org")
	base.Watermark = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if err := ss.CompareAndSwap("truck-001", 0, base); err != nil {
		t.Fatal(err)
	}

	cur, _ := ss.Get("truck-001")
	cur.Watermark = cur.Watermark.Add(-time.Second)
	err := ss.CompareAndSwap("truck-001", cur.Version(), cur)
	if !errors.Is(err, ErrStaleState) {
		t.Fatalf("backwards watermark: err = %v, want ErrStaleState", err)
	}
}

func TestStateStoreStaleExpectationOnEmpty(t *testing.T) {
	ss := NewStateStore()
	next := newDeviceState("truck-001", "demo-org")
	if err := ss.CompareAndSwap("truck-001", 3, next); !errors.Is(err, ErrStaleState) {
		t.Fatalf("err = %v, want ErrStaleState", err)
	}
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	ss := NewStateStore()
	base := newDeviceState("truck-001", "demo-org")
	base.Zones["zone-a"] = struct{}{}
	base.Segment = &RouteSegment{ID: "seg-1", Waypoints: []Waypoint{{Lat: 1, Lon: 2}}}
	if err := ss.CompareAndSwap("truck-001", 0, base); err != nil {
		t.Fatal(err)
	}

	snap, _ := ss.Get("truck-001")
	snap.Zones["zone-b"] = struct{}{}
	snap.Segment.Waypoints[0].Lat = 99
	snap.LastAlarmAt[AlarmExcessSpeed] = time.Now()

	fresh, _ := ss.Get("truck-001")
	if fresh.InZone("zone-b") {
		t.Error("zone mutation leaked into the store")
	}
	if fresh.Segment.Waypoints[0].Lat != 1 {
		t.Error("waypoint mutation leaked into the store")
	}
	if len(fresh.LastAlarmAt) != 0 {
		t.Error("alarm-time mutation leaked into the store")
	}
}
