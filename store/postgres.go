package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MZRMRB/trakr/pipeline"
	"github.com/MZRMRB/trakr/telemetry"
)

// Store is the Postgres persistence collaborator behind the pipeline's
// sinks and the read-only query surface.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// PingRecord is one audited ping with the gateway's verdict on it. Applied
// and late pings are both stored; late ones are marked so derived-state
// queries can exclude them.
type PingRecord struct {
	Ping   telemetry.Ping
	Status pipeline.Status
}

// BulkInsertPings stores a batch of audited pings in location_pings in one
// round trip. Idempotent on (tag_id, device_time): Kafka redelivery replays
// whole batches, and a redelivered old ping arrives classified late, so a
// plain COPY would accrete one audit row per delivery.
func (s *Store) BulkInsertPings(ctx context.Context, recs []PingRecord) error {
	batch := &pgx.Batch{}
	for _, rec := range recs {
		p := rec.Ping
		batch.Queue(`
			INSERT INTO location_pings
				(device_time, received_at, tag_id, org_id, lat, lon, speed_kmh, heading, battery_pct, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (tag_id, device_time) DO NOTHING`,
			p.DeviceTime, p.ReceivedAt, p.TagID, p.OrgID, p.Lat, p.Lon,
			p.SpeedKmh, p.Heading, p.BatteryPct, string(rec.Status))
	}
	if batch.Len() == 0 {
		return nil
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

// SaveAlarms persists fired alarms. Idempotent on (tag_id, kind,
// triggered_at) so a redelivered ping cannot duplicate an alarm.
func (s *Store) SaveAlarms(ctx context.Context, alarms []pipeline.Alarm) error {
	batch := &pgx.Batch{}
	for _, a := range alarms {
		details, err := json.Marshal(a.Details)
		if err != nil {
			return fmt.Errorf("marshal alarm details: %w", err)
		}
		batch.Queue(`
			INSERT INTO alarms (id, org_id, tag_id, kind, severity, triggered_at, lat, lon, details)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (tag_id, kind, triggered_at) DO NOTHING`,
			a.ID, a.OrgID, a.TagID, string(a.Kind), string(a.Severity),
			a.TriggeredAt, a.Lat, a.Lon, details)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

// ApplySegmentDelta upserts the segments touched by one transition. Closed
// segments are written with their frozen stats; the open segment's row is
// replaced wholesale on every extension.
func (s *Store) ApplySegmentDelta(ctx context.Context, d pipeline.SegmentDelta) error {
	batch := &pgx.Batch{}
	for _, seg := range []*pipeline.RouteSegment{d.Closed, d.Open} {
		if seg == nil {
			continue
		}
		waypoints, err := json.Marshal(seg.Waypoints)
		if err != nil {
			return fmt.Errorf("marshal waypoints: %w", err)
		}
		batch.Queue(`
			INSERT INTO route_segments
				(id, org_id, tag_id, status, waypoints, distance_m, duration_s,
				 max_speed_kmh, avg_speed_kmh, start_time, end_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				waypoints = EXCLUDED.waypoints,
				distance_m = EXCLUDED.distance_m,
				duration_s = EXCLUDED.duration_s,
				max_speed_kmh = EXCLUDED.max_speed_kmh,
				avg_speed_kmh = EXCLUDED.avg_speed_kmh,
				end_time = EXCLUDED.end_time`,
			seg.ID, seg.OrgID, seg.TagID, string(seg.Status), waypoints,
			seg.DistanceM, seg.DurationS, seg.MaxSpeedKmh, seg.AvgSpeedKmh,
			seg.StartTime, seg.EndTime)
	}
	if batch.Len() == 0 {
		return nil
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

// RecordTenantMismatch writes a security audit row for a ping claiming the
// wrong organization.
func (s *Store) RecordTenantMismatch(ctx context.Context, p telemetry.Ping, registeredOrg string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_events (occurred_at, tag_id, claimed_org, registered_org, device_time, lat, lon, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'tenant_mismatch')`,
		time.Now().UTC(), p.TagID, p.OrgID, registeredOrg, p.DeviceTime, p.Lat, p.Lon)
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
