package pipeline

import (
	"sync"
	"time"

	"github.com/MZRMRB/trakr/telemetry"
)

// DeviceState is the authoritative per-tag state owned by the pipeline. It
// is created lazily on the first ping for a tag and mutated only through the
// store's compare-and-swap. Watermark never decreases.
type DeviceState struct {
	TagID string
	OrgID string

	LastPing  telemetry.Ping
	Watermark time.Time

	// Zones currently containing the tag, relevant or not.
	Zones map[string]struct{}

	// Open route segment, nil while the tag is idle.
	Segment *RouteSegment

	// Debounce and hysteresis slots, one set per tag.
	LowBatteryRuns  int
	IdleSince       time.Time
	StationaryFired bool
	LastAlarmAt     map[AlarmKind]time.Time

	version uint64
}

// Version identifies the committed revision this state was read at. It is
// the expected-value token for CompareAndSwap.
func (s *DeviceState) Version() uint64 { return s.version }

// InZone reports whether the tag was inside the given zone at this state.
func (s *DeviceState) InZone(zoneID string) bool {
	_, ok := s.Zones[zoneID]
	return ok
}

// clone returns a deep copy safe to mutate while the original stays visible
// to concurrent readers.
func (s *DeviceState) clone() *DeviceState {
	next := &DeviceState{
		TagID:           s.TagID,
		OrgID:           s.OrgID,
		LastPing:        s.LastPing,
		Watermark:       s.Watermark,
		Zones:           make(map[string]struct{}, len(s.Zones)),
		LowBatteryRuns:  s.LowBatteryRuns,
		IdleSince:       s.IdleSince,
		StationaryFired: s.StationaryFired,
		LastAlarmAt:     make(map[AlarmKind]time.Time, len(s.LastAlarmAt)),
		version:         s.version,
	}
	for z := range s.Zones {
		next.Zones[z] = struct{}{}
	}
	for k, t := range s.LastAlarmAt {
		next.LastAlarmAt[k] = t
	}
	if s.Segment != nil {
		seg := *s.Segment
		seg.Waypoints = append([]Waypoint(nil), s.Segment.Waypoints...)
		next.Segment = &seg
	}
	return next
}

func newDeviceState(tagID, orgID string) *DeviceState {
	return &DeviceState{
		TagID:       tagID,
		OrgID:       orgID,
		Zones:       make(map[string]struct{}),
		LastAlarmAt: make(map[AlarmKind]time.Time),
	}
}

// StateStore is the keyed device-state store with optimistic commit. The
// gateway's per-tag serialization makes retries rare in practice, but the
// contract still defends against concurrent writers.
type StateStore struct {
	mu     sync.RWMutex
	states map[string]*DeviceState
}

func NewStateStore() *StateStore {
	return &StateStore{states: make(map[string]*DeviceState)}
}

// Get returns a snapshot of the state for tagID, or false if no ping has
// ever been accepted for it. The snapshot is a copy; mutate freely and
// commit with CompareAndSwap.
func (ss *StateStore) Get(tagID string) (*DeviceState, bool) {
	ss.mu.RLock()
	cur, ok := ss.states[tagID]
	ss.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return cur.clone(), true
}

// CompareAndSwap commits next if the stored state is still at the expected
// version. expected is 0 for a first-ever commit. Commits that would move
// the watermark backwards fail with ErrStaleState regardless of version.
func (ss *StateStore) CompareAndSwap(tagID string, expected uint64, next *DeviceState) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	cur, ok := ss.states[tagID]
	switch {
	case !ok && expected != 0:
		return ErrStaleState
	case ok && cur.version != expected:
		return ErrStaleState
	case ok && next.Watermark.Before(cur.Watermark):
		return ErrStaleState
	}

	next.version = expected + 1
	ss.states[tagID] = next
	return nil
}

// Len reports how many tags have state. Used by metrics.
func (ss *StateStore) Len() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.states)
}
