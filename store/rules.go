package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb"

	"github.com/MZRMRB/trakr/pipeline"
)

// ConfigStore loads per-organization alarm rules, per-tag overrides, zone
// subscriptions and geofence polygons, and serves them to the pipeline from
// an in-memory snapshot. RulesFor never queries Postgres: the hot path must
// stay bounded, so the snapshot is refreshed on a cadence instead.
type ConfigStore struct {
	pool *pgxpool.Pool

	mu        sync.RWMutex
	orgRules  map[string]pipeline.Rules            // orgID -> base rules
	overrides map[string]map[string]pipeline.Rules // orgID -> tagID -> override
	subs      map[string]map[string][]string       // orgID -> tagID -> zone IDs
}

func NewConfigStore(pool *pgxpool.Pool) *ConfigStore {
	return &ConfigStore{
		pool:      pool,
		orgRules:  make(map[string]pipeline.Rules),
		overrides: make(map[string]map[string]pipeline.Rules),
		subs:      make(map[string]map[string][]string),
	}
}

// RulesFor resolves the rule set for a tag from the current snapshot. The
// second return is false when the organization has no configuration at all.
func (c *ConfigStore) RulesFor(_ context.Context, orgID, tagID string) (pipeline.Rules, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rules, ok := c.orgRules[orgID]
	if override, found := c.overrides[orgID][tagID]; found {
		rules, ok = override, true
	}
	if !ok {
		return pipeline.Rules{}, false
	}
	rules.SubscribedZones = c.subs[orgID][tagID]
	return rules, true
}

// Refresh reloads rules, overrides and subscriptions from Postgres and
// swaps the snapshot.
func (c *ConfigStore) Refresh(ctx context.Context) error {
	rows, err := c.pool.Query(ctx, `
		SELECT org_id, COALESCE(tag_id, ''), speed_limit_kmh, battery_threshold,
		       speed_debounce_s, stationary_timeout_s, idle_gap_s, movement_floor_kmh
		FROM alarm_rules`)
	if err != nil {
		return fmt.Errorf("load alarm rules: %w", err)
	}
	defer rows.Close()

	orgRules := make(map[string]pipeline.Rules)
	overrides := make(map[string]map[string]pipeline.Rules)
	for rows.Next() {
		var (
			orgID, tagID                     string
			debounceS, stationaryS, idleGapS int64
			r                                pipeline.Rules
		)
		if err := rows.Scan(&orgID, &tagID, &r.SpeedLimitKmh, &r.BatteryThreshold,
			&debounceS, &stationaryS, &idleGapS, &r.MovementFloorKmh); err != nil {
			return fmt.Errorf("scan alarm rule: %w", err)
		}
		r.OrgID = orgID
		r.SpeedDebounce = time.Duration(debounceS) * time.Second
		r.StationaryTimeout = time.Duration(stationaryS) * time.Second
		r.IdleGap = time.Duration(idleGapS) * time.Second
		if tagID == "" {
			orgRules[orgID] = r
		} else {
			if overrides[orgID] == nil {
				overrides[orgID] = make(map[string]pipeline.Rules)
			}
			overrides[orgID][tagID] = r
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate alarm rules: %w", err)
	}

	subRows, err := c.pool.Query(ctx,
		`SELECT org_id, tag_id, zone_id FROM zone_subscriptions`)
	if err != nil {
		return fmt.Errorf("load zone subscriptions: %w", err)
	}
	defer subRows.Close()

	subs := make(map[string]map[string][]string)
	for subRows.Next() {
		var orgID, tagID, zoneID string
		if err := subRows.Scan(&orgID, &tagID, &zoneID); err != nil {
			return fmt.Errorf("scan zone subscription: %w", err)
		}
		if subs[orgID] == nil {
			subs[orgID] = make(map[string][]string)
		}
		subs[orgID][tagID] = append(subs[orgID][tagID], zoneID)
	}
	if err := subRows.Err(); err != nil {
		return fmt.Errorf("iterate zone subscriptions: %w", err)
	}

	c.mu.Lock()
	c.orgRules = orgRules
	c.overrides = overrides
	c.subs = subs
	c.mu.Unlock()

	return nil
}

// LoadZones reads every geofence polygon. Rings are stored as JSON arrays
// of [lon, lat] pairs and closed here if the stored ring is open.
func (c *ConfigStore) LoadZones(ctx context.Context) ([]pipeline.Zone, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT id, org_id, name, polygon FROM geofence_zones`)
	if err != nil {
		return nil, fmt.Errorf("load zones: %w", err)
	}
	defer rows.Close()

	var zones []pipeline.Zone
	for rows.Next() {
		var (
			z   pipeline.Zone
			raw []byte
		)
		if err := rows.Scan(&z.ID, &z.OrgID, &z.Name, &raw); err != nil {
			return nil, fmt.Errorf("scan zone: %w", err)
		}
		var coords [][]float64
		if err := json.Unmarshal(raw, &coords); err != nil {
			return nil, fmt.Errorf("zone %s polygon: %w", z.ID, err)
		}
		ring, ok := parseRing(coords)
		if !ok {
			slog.Warn("skipping degenerate zone polygon", "zone_id", z.ID, "points", len(coords))
			continue
		}
		z.Polygon = orb.Polygon{ring}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// parseRing converts stored [lon, lat] pairs into a closed ring. Reports
// false for anything that cannot form a polygon: fewer than three points or
// a pair with a missing coordinate. Bad rows must not take down the refresh
// loop.
func parseRing(coords [][]float64) (orb.Ring, bool) {
	if len(coords) < 3 {
		return nil, false
	}
	ring := make(orb.Ring, 0, len(coords)+1)
	for _, pt := range coords {
		if len(pt) < 2 {
			return nil, false
		}
		ring = append(ring, orb.Point{pt[0], pt[1]})
	}
	if ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	return ring, true
}

// RunRefresh periodically reloads configuration and swaps the zone index.
// Errors leave the previous snapshot in place.
func (c *ConfigStore) RunRefresh(ctx context.Context, interval time.Duration, index *pipeline.GeofenceIndex) {
	refresh := func() {
		if err := c.Refresh(ctx); err != nil {
			slog.Error("rule refresh failed", "error", err)
		}
		zones, err := c.LoadZones(ctx)
		if err != nil {
			slog.Error("zone refresh failed", "error", err)
			return
		}
		index.Replace(zones)
	}

	refresh()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}
