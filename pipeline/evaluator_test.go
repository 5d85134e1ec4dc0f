package pipeline

import (
	"testing"
	"time"

	"github.com/MZRMRB/trakr/telemetry"
)

var t0 = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func testRules() Rules {
	return Rules{
		OrgID:             "demo-org",
		SpeedLimitKmh:     100,
		BatteryThreshold:  20,
		SpeedDebounce:     5 * time.Minute,
		StationaryTimeout: 15 * time.Minute,
		IdleGap:           5 * time.Minute,
		MovementFloorKmh:  2,
	}
}

func pingAt(offset time.Duration) telemetry.Ping {
	return telemetry.Ping{
		TagID:      "truck-001",
		OrgID:      "demo-org",
		Lat:        52.52,
		Lon:        13.40,
		BatteryPct: 80,
		DeviceTime: t0.Add(offset),
	}
}

// step runs one evaluation the way the gateway does: clone, advance the
// watermark, evaluate, and adopt the result as the new old state.
func step(t *testing.T, e Evaluator, rules Rules, zonesNow map[string]struct{}, old *DeviceState, p telemetry.Ping) (*DeviceState, []Alarm) {
	t.Helper()
	next := old.clone()
	next.LastPing = p
	next.Watermark = p.DeviceTime
	alarms := e.Evaluate(rules, zonesNow, old, next, p)
	return next, alarms
}

func kinds(alarms []Alarm) []AlarmKind {
	var out []AlarmKind
	for _, a := range alarms {
		out = append(out, a.Kind)
	}
	return out
}

func countKind(alarms []Alarm, kind AlarmKind) int {
	n := 0
	for _, a := range alarms {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

func TestGeofenceEdgeTriggered(t *testing.T) {
	var e Evaluator
	rules := testRules()
	state := newDeviceState("truck-001", "demo-org")

	inside := map[string]struct{}{"zone-depot": {}}
	outside := map[string]struct{}{}

	// Entering fires once.
	state, alarms := step(t, e, rules, inside, state, pingAt(0))
	if got := kinds(alarms); len(got) != 1 || got[0] != AlarmGeofenceEnter {
		t.Fatalf("enter: alarms = %v, want one GEOFENCE_ENTER", got)
	}

	// Staying inside fires nothing.
	state, alarms = step(t, e, rules, inside, state, pingAt(time.Minute))
	if len(alarms) != 0 {
		t.Fatalf("dwell: alarms = %v, want none", kinds(alarms))
	}

	// Leaving fires once.
	state, alarms = step(t, e, rules, outside, state, pingAt(2*time.Minute))
	if got := kinds(alarms); len(got) != 1 || got[0] != AlarmGeofenceExit {
		t.Fatalf("exit: alarms = %v, want one GEOFENCE_EXIT", got)
	}

	// Staying outside fires nothing.
	_, alarms = step(t, e, rules, outside, state, pingAt(3*time.Minute))
	if len(alarms) != 0 {
		t.Fatalf("away: alarms = %v, want none", kinds(alarms))
	}
}

func TestGeofenceSubscriptionFilter(t *testing.T) {
	var e Evaluator
	rules := testRules()
	rules.SubscribedZones = []string{"zone-depot"}
	state := newDeviceState("truck-001", "demo-org")

	both := map[string]struct{}{"zone-depot": {}, "zone-yard": {}}
	state, alarms := step(t, e, rules, both, state, pingAt(0))
	if got := kinds(alarms); len(got) != 1 || got[0] != AlarmGeofenceEnter {
		t.Fatalf("alarms = %v, want one GEOFENCE_ENTER for the subscribed zone only", got)
	}
	if alarms[0].Details["zone_id"] != "zone-depot" {
		t.Fatalf("zone_id = %q, want zone-depot", alarms[0].Details["zone_id"])
	}

	// Containment in the unsubscribed zone was still tracked: leaving it
	// later must stay silent too.
	only := map[string]struct{}{"zone-depot": {}}
	if !state.InZone("zone-yard") {
		t.Fatal("unsubscribed zone not tracked in state")
	}
	_, alarms = step(t, e, rules, only, state, pingAt(time.Minute))
	if len(alarms) != 0 {
		t.Fatalf("alarms = %v, want none for unsubscribed zone exit", kinds(alarms))
	}
}

func TestLowBatteryHysteresis(t *testing.T) {
	var e Evaluator
	rules := testRules()
	state := newDeviceState("truck-001", "demo-org")
	none := map[string]struct{}{}

	// Threshold 20, reset at 25. The dip and the partial recovery to 19 and
	// 22 stay inside one alarm episode.
	levels := []float64{25, 18, 17, 19, 22}
	total := 0
	for i, lvl := range levels {
		p := pingAt(time.Duration(i) * time.Minute)
		p.BatteryPct = lvl
		var alarms []Alarm
		state, alarms = step(t, e, rules, none, state, p)
		total += countKind(alarms, AlarmLowBattery)
	}
	if total != 1 {
		t.Fatalf("fired %d LOW_BATTERY alarms across %v, want exactly 1", total, levels)
	}

	// Full recovery re-arms the alarm.
	p := pingAt(10 * time.Minute)
	p.BatteryPct = 30
	state, _ = step(t, e, rules, none, state, p)

	p = pingAt(11 * time.Minute)
	p.BatteryPct = 15
	_, alarms := step(t, e, rules, none, state, p)
	if countKind(alarms, AlarmLowBattery) != 1 {
		t.Fatalf("alarms = %v, want LOW_BATTERY after recovery and new dip", kinds(alarms))
	}
}

func TestExcessSpeedDebounce(t *testing.T) {
	var e Evaluator
	rules := testRules()
	state := newDeviceState("truck-001", "demo-org")
	none := map[string]struct{}{}

	fire := func(offset time.Duration, speed float64) int {
		p := pingAt(offset)
		p.SpeedKmh = speed
		var alarms []Alarm
		state, alarms = step(t, e, rules, none, state, p)
		return countKind(alarms, AlarmExcessSpeed)
	}

	if got := fire(0, 120); got != 1 {
		t.Fatalf("first violation: fired %d, want 1", got)
	}
	if got := fire(time.Minute, 130); got != 0 {
		t.Fatalf("inside debounce window: fired %d, want 0", got)
	}
	if got := fire(4*time.Minute, 95); got != 0 {
		t.Fatalf("under the limit: fired %d, want 0", got)
	}
	if got := fire(6*time.Minute, 110); got != 1 {
		t.Fatalf("after debounce window: fired %d, want 1", got)
	}
}

func TestStationaryOncePerEpisode(t *testing.T) {
	var e Evaluator
	rules := testRules()
	state := newDeviceState("truck-001", "demo-org")
	none := map[string]struct{}{}

	fire := func(offset time.Duration, speed float64) int {
		p := pingAt(offset)
		p.SpeedKmh = speed
		var alarms []Alarm
		state, alarms = step(t, e, rules, none, state, p)
		return countKind(alarms, AlarmStationary)
	}

	if got := fire(0, 0); got != 0 {
		t.Fatalf("idle start: fired %d, want 0", got)
	}
	if got := fire(10*time.Minute, 0.5); got != 0 {
		t.Fatalf("below timeout: fired %d, want 0", got)
	}
	if got := fire(16*time.Minute, 0); got != 1 {
		t.Fatalf("timeout exceeded: fired %d, want 1", got)
	}
	if got := fire(30*time.Minute, 0); got != 0 {
		t.Fatalf("same episode: fired %d, want 0", got)
	}

	// Movement ends the episode; a fresh idle period must time out anew.
	if got := fire(31*time.Minute, 20); got != 0 {
		t.Fatalf("moving: fired %d, want 0", got)
	}
	if got := fire(32*time.Minute, 0); got != 0 {
		t.Fatalf("new episode start: fired %d, want 0", got)
	}
	if got := fire(48*time.Minute, 0); got != 1 {
		t.Fatalf("new episode timeout: fired %d, want 1", got)
	}
}

func TestAlarmTimestampIsDeviceTime(t *testing.T) {
	var e Evaluator
	rules := testRules()
	state := newDeviceState("truck-001", "demo-org")

	p := pingAt(0)
	p.SpeedKmh = 150
	p.ReceivedAt = t0.Add(time.Hour)
	_, alarms := step(t, e, rules, map[string]struct{}{}, state, p)
	if len(alarms) != 1 {
		t.Fatalf("alarms = %v, want one", kinds(alarms))
	}
	if !alarms[0].TriggeredAt.Equal(p.DeviceTime) {
		t.Errorf("TriggeredAt = %v, want device time %v", alarms[0].TriggeredAt, p.DeviceTime)
	}
}
