package pipeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/MZRMRB/trakr/telemetry"
)

// Evaluator turns one state transition into zero or more alarms. All checks
// are pure functions of (rules, old state, next state, ping); the only
// mutations are the debounce and hysteresis slots on the next state, which
// the caller commits together with the rest of the transition.
//
// Every alarm's TriggeredAt is the ping's device timestamp, so alarm order
// reflects device-reported event order even when ingestion lags.
type Evaluator struct{}

// Evaluate runs every alarm kind against the transition. zonesNow is the
// containment set for the new position; next.Zones is updated to it here.
func (Evaluator) Evaluate(rules Rules, zonesNow map[string]struct{}, old, next *DeviceState, p telemetry.Ping) []Alarm {
	var alarms []Alarm
	alarms = append(alarms, evalGeofence(rules, zonesNow, old, next, p)...)
	if a := evalLowBattery(rules, old, next, p); a != nil {
		alarms = append(alarms, *a)
	}
	if a := evalExcessSpeed(rules, old, next, p); a != nil {
		alarms = append(alarms, *a)
	}
	if a := evalStationary(rules, old, next, p); a != nil {
		alarms = append(alarms, *a)
	}
	return alarms
}

func newAlarm(p telemetry.Ping, kind AlarmKind, sev Severity, details map[string]string) Alarm {
	return Alarm{
		ID:          uuid.NewString(),
		OrgID:       p.OrgID,
		TagID:       p.TagID,
		Kind:        kind,
		Severity:    sev,
		TriggeredAt: p.DeviceTime,
		Lat:         p.Lat,
		Lon:         p.Lon,
		Details:     details,
	}
}

// evalGeofence diffs the old containment set against the new one and fires
// edge-triggered enter/exit alarms for zones the tag is subscribed to.
// Containment changes in irrelevant zones update state silently.
func evalGeofence(rules Rules, zonesNow map[string]struct{}, old, next *DeviceState, p telemetry.Ping) []Alarm {
	var alarms []Alarm

	var entered, exited []string
	for z := range zonesNow {
		if !old.InZone(z) {
			entered = append(entered, z)
		}
	}
	for z := range old.Zones {
		if _, still := zonesNow[z]; !still {
			exited = append(exited, z)
		}
	}
	// Map iteration order is random; keep alarm order stable per ping.
	sort.Strings(entered)
	sort.Strings(exited)

	for _, z := range entered {
		if rules.zoneRelevant(z) {
			alarms = append(alarms, newAlarm(p, AlarmGeofenceEnter, SeverityInfo,
				map[string]string{"zone_id": z}))
		}
	}
	for _, z := range exited {
		if rules.zoneRelevant(z) {
			alarms = append(alarms, newAlarm(p, AlarmGeofenceExit, SeverityWarning,
				map[string]string{"zone_id": z}))
		}
	}

	next.Zones = zonesNow
	return alarms
}

// evalLowBattery fires on the transition into the low range, not on every
// ping while the battery stays low. The run counter resets only once the
// battery climbs past threshold + BatteryResetMargin.
func evalLowBattery(rules Rules, old, next *DeviceState, p telemetry.Ping) *Alarm {
	switch {
	case p.BatteryPct < rules.BatteryThreshold:
		next.LowBatteryRuns = old.LowBatteryRuns + 1
		if old.LowBatteryRuns == 0 {
			a := newAlarm(p, AlarmLowBattery, SeverityWarning, map[string]string{
				"battery_pct": fmt.Sprintf("%.1f", p.BatteryPct),
				"threshold":   fmt.Sprintf("%.1f", rules.BatteryThreshold),
			})
			return &a
		}
	case p.BatteryPct >= rules.BatteryThreshold+BatteryResetMargin:
		next.LowBatteryRuns = 0
	default:
		// Inside the hysteresis band: neither alarmed nor reset.
		next.LowBatteryRuns = old.LowBatteryRuns
	}
	return nil
}

// evalExcessSpeed fires when speed crosses the limit, at most once per
// debounce window regardless of how many qualifying pings arrive in between.
func evalExcessSpeed(rules Rules, old, next *DeviceState, p telemetry.Ping) *Alarm {
	if p.SpeedKmh <= rules.SpeedLimitKmh {
		return nil
	}
	if last, ok := old.LastAlarmAt[AlarmExcessSpeed]; ok {
		if p.DeviceTime.Sub(last) < rules.SpeedDebounce {
			return nil
		}
	}
	next.LastAlarmAt[AlarmExcessSpeed] = p.DeviceTime
	a := newAlarm(p, AlarmExcessSpeed, SeverityWarning, map[string]string{
		"speed_kmh": fmt.Sprintf("%.1f", p.SpeedKmh),
		"limit_kmh": fmt.Sprintf("%.1f", rules.SpeedLimitKmh),
	})
	return &a
}

// evalStationary fires once per idle episode: a tag reporting near-zero
// speed for longer than the stationary timeout. Movement ends the episode
// and re-arms the alarm.
func evalStationary(rules Rules, old, next *DeviceState, p telemetry.Ping) *Alarm {
	if p.SpeedKmh >= rules.MovementFloorKmh {
		next.IdleSince = time.Time{}
		next.StationaryFired = false
		return nil
	}

	idleSince := old.IdleSince
	if idleSince.IsZero() {
		idleSince = p.DeviceTime
	}
	next.IdleSince = idleSince
	next.StationaryFired = old.StationaryFired

	if old.StationaryFired {
		return nil
	}
	if p.DeviceTime.Sub(idleSince) < rules.StationaryTimeout {
		return nil
	}

	next.StationaryFired = true
	a := newAlarm(p, AlarmStationary, SeverityInfo, map[string]string{
		"idle_since": idleSince.UTC().Format(time.RFC3339),
	})
	return &a
}
