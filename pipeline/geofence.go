package pipeline

import (
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Zone is one geofence polygon owned by an organization.
type Zone struct {
	ID      string
	OrgID   string
	Name    string
	Polygon orb.Polygon
}

// GeofenceIndex answers point-in-polygon containment queries scoped to one
// organization. Zones are read-mostly configuration; Replace swaps the whole
// set on refresh.
type GeofenceIndex struct {
	mu    sync.RWMutex
	byOrg map[string][]Zone
}

func NewGeofenceIndex() *GeofenceIndex {
	return &GeofenceIndex{byOrg: make(map[string][]Zone)}
}

// Replace installs a new zone set, dropping the previous one.
func (g *GeofenceIndex) Replace(zones []Zone) {
	byOrg := make(map[string][]Zone)
	for _, z := range zones {
		byOrg[z.OrgID] = append(byOrg[z.OrgID], z)
	}
	g.mu.Lock()
	g.byOrg = byOrg
	g.mu.Unlock()
}

// ZonesContaining returns the IDs of the organization's zones containing the
// point. Only the organization's own zones are consulted, so a misrouted
// query can never observe another tenant's geofences. An unknown
// organization or a point inside no zone yields an empty set.
func (g *GeofenceIndex) ZonesContaining(orgID string, lat, lon float64) map[string]struct{} {
	// orb points are (lon, lat), not (lat, lon)
	pt := orb.Point{lon, lat}

	g.mu.RLock()
	zones := g.byOrg[orgID]
	g.mu.RUnlock()

	out := make(map[string]struct{})
	for _, z := range zones {
		if planar.PolygonContains(z.Polygon, pt) {
			out[z.ID] = struct{}{}
		}
	}
	return out
}
