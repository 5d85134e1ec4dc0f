package pipeline

import (
	"context"
	"time"
)

// BatteryResetMargin is added to the low-battery threshold before the
// consecutive-low counter resets, so a tag hovering at the boundary does not
// flap between alarmed and clear.
const BatteryResetMargin = 5.0

// Rules is the alarm and route configuration resolved for one tag: the
// organization's thresholds with any per-tag override already applied.
type Rules struct {
	OrgID string

	// Alarm thresholds.
	SpeedLimitKmh     float64
	BatteryThreshold  float64
	SpeedDebounce     time.Duration
	StationaryTimeout time.Duration

	// Route aggregation thresholds.
	IdleGap          time.Duration
	MovementFloorKmh float64

	// Zone IDs this tag is subscribed to for geofence alarms. Empty means
	// every zone of the organization is relevant.
	SubscribedZones []string
}

// DefaultRules are the system defaults used for route aggregation when an
// organization has no stored configuration. Alarm evaluation fails open in
// that case and these thresholds are not consulted for alarms.
var DefaultRules = Rules{
	SpeedLimitKmh:     100,
	BatteryThreshold:  20,
	SpeedDebounce:     5 * time.Minute,
	StationaryTimeout: 15 * time.Minute,
	IdleGap:           5 * time.Minute,
	MovementFloorKmh:  2,
}

// zoneRelevant reports whether a zone participates in geofence alarms for
// this tag. Containment changes in irrelevant zones still update state.
func (r Rules) zoneRelevant(zoneID string) bool {
	if len(r.SubscribedZones) == 0 {
		return true
	}
	for _, id := range r.SubscribedZones {
		if id == zoneID {
			return true
		}
	}
	return false
}

// RuleProvider resolves configuration for a tag. The second return is false
// when the organization has no configuration at all (CONFIGURATION_MISSING):
// the pipeline then skips alarm evaluation and aggregates routes with
// DefaultRules.
type RuleProvider interface {
	RulesFor(ctx context.Context, orgID, tagID string) (Rules, bool)
}

// Registry resolves a tag to its registered organization. ErrUnknownTag is
// returned for tags that were never provisioned.
type Registry interface {
	ResolveTag(ctx context.Context, tagID string) (orgID string, err error)
}
