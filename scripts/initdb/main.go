// Command initdb creates the trakr schema and seeds a demo organization.
// Safe to re-run: every statement is idempotent.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MZRMRB/trakr/config"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS tags (
		tag_id     TEXT PRIMARY KEY,
		org_id     TEXT NOT NULL REFERENCES organizations(id),
		label      TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tags_org ON tags (org_id)`,

	`CREATE TABLE IF NOT EXISTS geofence_zones (
		id      TEXT PRIMARY KEY,
		org_id  TEXT NOT NULL REFERENCES organizations(id),
		name    TEXT NOT NULL,
		polygon JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_geofence_zones_org ON geofence_zones (org_id)`,

	`CREATE TABLE IF NOT EXISTS alarm_rules (
		org_id               TEXT NOT NULL REFERENCES organizations(id),
		tag_id               TEXT REFERENCES tags(tag_id),
		speed_limit_kmh      DOUBLE PRECISION NOT NULL,
		battery_threshold    DOUBLE PRECISION NOT NULL,
		speed_debounce_s     BIGINT NOT NULL,
		stationary_timeout_s BIGINT NOT NULL,
		idle_gap_s           BIGINT NOT NULL,
		movement_floor_kmh   DOUBLE PRECISION NOT NULL,
		UNIQUE NULLS NOT DISTINCT (org_id, tag_id)
	)`,

	`CREATE TABLE IF NOT EXISTS zone_subscriptions (
		org_id  TEXT NOT NULL REFERENCES organizations(id),
		tag_id  TEXT NOT NULL REFERENCES tags(tag_id),
		zone_id TEXT NOT NULL REFERENCES geofence_zones(id),
		UNIQUE (org_id, tag_id, zone_id)
	)`,

	`CREATE TABLE IF NOT EXISTS location_pings (
		id          BIGSERIAL PRIMARY KEY,
		device_time TIMESTAMPTZ NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		tag_id      TEXT NOT NULL,
		org_id      TEXT NOT NULL,
		lat         DOUBLE PRECISION NOT NULL,
		lon         DOUBLE PRECISION NOT NULL,
		speed_kmh   DOUBLE PRECISION NOT NULL,
		heading     DOUBLE PRECISION NOT NULL,
		battery_pct DOUBLE PRECISION NOT NULL,
		status      TEXT NOT NULL,
		UNIQUE (tag_id, device_time)
	)`,

	`CREATE TABLE IF NOT EXISTS alarms (
		id            TEXT PRIMARY KEY,
		org_id        TEXT NOT NULL,
		tag_id        TEXT NOT NULL,
		kind          TEXT NOT NULL,
		severity      TEXT NOT NULL,
		triggered_at  TIMESTAMPTZ NOT NULL,
		lat           DOUBLE PRECISION NOT NULL,
		lon           DOUBLE PRECISION NOT NULL,
		details       JSONB NOT NULL DEFAULT '{}',
		is_handled    BOOLEAN NOT NULL DEFAULT FALSE,
		handled_by    TEXT,
		handled_at    TIMESTAMPTZ,
		handle_reason TEXT,
		UNIQUE (tag_id, kind, triggered_at)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alarms_org_time ON alarms (org_id, triggered_at DESC)`,

	`CREATE TABLE IF NOT EXISTS route_segments (
		id            TEXT PRIMARY KEY,
		org_id        TEXT NOT NULL,
		tag_id        TEXT NOT NULL,
		status        TEXT NOT NULL,
		waypoints     JSONB NOT NULL,
		distance_m    DOUBLE PRECISION NOT NULL,
		duration_s    DOUBLE PRECISION NOT NULL,
		max_speed_kmh DOUBLE PRECISION NOT NULL,
		avg_speed_kmh DOUBLE PRECISION NOT NULL,
		start_time    TIMESTAMPTZ NOT NULL,
		end_time      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_route_segments_tag_time ON route_segments (tag_id, start_time)`,
	`CREATE INDEX IF NOT EXISTS idx_route_segments_org_time ON route_segments (org_id, start_time)`,

	`CREATE TABLE IF NOT EXISTS audit_events (
		id             BIGSERIAL PRIMARY KEY,
		occurred_at    TIMESTAMPTZ NOT NULL,
		tag_id         TEXT NOT NULL,
		claimed_org    TEXT NOT NULL,
		registered_org TEXT NOT NULL,
		device_time    TIMESTAMPTZ NOT NULL,
		lat            DOUBLE PRECISION NOT NULL,
		lon            DOUBLE PRECISION NOT NULL,
		reason         TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS notification_recipients (
		org_id TEXT NOT NULL REFERENCES organizations(id),
		email  TEXT NOT NULL,
		UNIQUE (org_id, email)
	)`,

	`CREATE TABLE IF NOT EXISTS sent_notifications (
		id              BIGSERIAL PRIMARY KEY,
		tag_id          TEXT NOT NULL,
		kind            TEXT NOT NULL,
		triggered_at    TIMESTAMPTZ NOT NULL,
		recipient_email TEXT NOT NULL,
		subject         TEXT NOT NULL,
		sent_at         TIMESTAMPTZ NOT NULL
	)`,
}

var seed = []string{
	`INSERT INTO organizations (id, name) VALUES ('demo-org', 'Demo Logistics')
	 ON CONFLICT (id) DO NOTHING`,

	`INSERT INTO tags (tag_id, org_id, label) VALUES
		('truck-001', 'demo-org', 'Demo truck 1'),
		('truck-002', 'demo-org', 'Demo truck 2')
	 ON CONFLICT (tag_id) DO NOTHING`,

	`INSERT INTO geofence_zones (id, org_id, name, polygon) VALUES
		('zone-depot', 'demo-org', 'Depot',
		 '[[13.40, 52.51], [13.42, 52.51], [13.42, 52.53], [13.40, 52.53]]')
	 ON CONFLICT (id) DO NOTHING`,

	`INSERT INTO alarm_rules
		(org_id, tag_id, speed_limit_kmh, battery_threshold,
		 speed_debounce_s, stationary_timeout_s, idle_gap_s, movement_floor_kmh)
	 VALUES ('demo-org', NULL, 100, 20, 300, 900, 300, 2)
	 ON CONFLICT (org_id, tag_id) DO NOTHING`,

	`INSERT INTO notification_recipients (org_id, email)
	 VALUES ('demo-org', 'ops@example.com')
	 ON CONFLICT (org_id, email) DO NOTHING`,
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			slog.Error("schema statement failed", "error", err, "stmt", stmt[:40])
			os.Exit(1)
		}
	}
	slog.Info("schema created")

	for _, stmt := range seed {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			slog.Error("seed statement failed", "error", err)
			os.Exit(1)
		}
	}
	slog.Info("demo data seeded")
}
