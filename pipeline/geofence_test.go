package pipeline

import (
	"testing"

	"github.com/paulmach/orb"
)

// square returns a closed square ring from (lon, lat) to (lon+size, lat+size).
func square(lon, lat, size float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{lon, lat},
		{lon + size, lat},
		{lon + size, lat + size},
		{lon, lat + size},
		{lon, lat},
	}}
}

func testIndex() *GeofenceIndex {
	idx := NewGeofenceIndex()
	idx.Replace([]Zone{
		{ID: "zone-depot", OrgID: "org-a", Name: "Depot", Polygon: square(13.40, 52.51, 0.02)},
		{ID: "zone-yard", OrgID: "org-a", Name: "Yard", Polygon: square(13.41, 52.52, 0.02)},
		{ID: "zone-other", OrgID: "org-b", Name: "Other depot", Polygon: square(13.40, 52.51, 0.02)},
	})
	return idx
}

func TestZonesContaining(t *testing.T) {
	idx := testIndex()

	tests := []struct {
		name     string
		orgID    string
		lat, lon float64
		want     []string
	}{
		{"inside one zone", "org-a", 52.515, 13.405, []string{"zone-depot"}},
		{"inside overlap", "org-a", 52.525, 13.415, []string{"zone-depot", "zone-yard"}},
		{"outside all", "org-a", 52.60, 13.40, nil},
		{"unknown org", "org-zzz", 52.515, 13.405, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := idx.ZonesContaining(tt.orgID, tt.lat, tt.lon)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for _, id := range tt.want {
				if _, ok := got[id]; !ok {
					t.Errorf("missing zone %q in %v", id, got)
				}
			}
		})
	}
}

func TestZonesContainingTenantIsolation(t *testing.T) {
	idx := testIndex()

	// org-b's zone covers this point, but an org-a query must never see it.
	got := idx.ZonesContaining("org-a", 52.515, 13.405)
	if _, ok := got["zone-other"]; ok {
		t.Fatal("query for org-a returned a zone owned by org-b")
	}
}

func TestReplaceSwapsWholeSet(t *testing.T) {
	idx := testIndex()
	idx.Replace([]Zone{
		{ID: "zone-new", OrgID: "org-a", Polygon: square(0, 0, 1)},
	})

	if got := idx.ZonesContaining("org-a", 52.515, 13.405); len(got) != 0 {
		t.Errorf("old zones survived Replace: %v", got)
	}
	if got := idx.ZonesContaining("org-a", 0.5, 0.5); len(got) != 1 {
		t.Errorf("new zone not queryable: %v", got)
	}
}
