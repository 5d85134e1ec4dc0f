package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MZRMRB/trakr/pipeline"
	"github.com/MZRMRB/trakr/telemetry"
)

// RedisMirror keeps a live, TTL'd copy of each tag's latest position in
// Redis for dashboards, plus pub/sub fan-out of positions and alarms. It is
// a read-side convenience: the pipeline's state store stays authoritative.
type RedisMirror struct {
	client *redis.Client
}

func NewRedisMirror(ctx context.Context, addr, password string, db int) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 5,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisMirror{client: client}, nil
}

func (m *RedisMirror) Close() error {
	return m.client.Close()
}

// UpdateLiveState writes the tag's latest state hash, refreshes the org geo
// set, and publishes the position, all in one round trip.
func (m *RedisMirror) UpdateLiveState(ctx context.Context, p telemetry.Ping) error {
	stateData := map[string]interface{}{
		"tag_id":      p.TagID,
		"org_id":      p.OrgID,
		"lat":         p.Lat,
		"lon":         p.Lon,
		"speed_kmh":   p.SpeedKmh,
		"heading":     p.Heading,
		"battery_pct": p.BatteryPct,
		"device_time": p.DeviceTime.Unix(),
		"received_at": p.ReceivedAt.Unix(),
	}

	payload, err := json.Marshal(stateData)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	stateKey := fmt.Sprintf("tag:%s:state", p.TagID)
	geoKey := fmt.Sprintf("org:%s:geo", p.OrgID)
	channel := fmt.Sprintf("org:%s:telemetry", p.OrgID)

	pipe := m.client.Pipeline()
	pipe.HSet(ctx, stateKey, stateData)
	pipe.Expire(ctx, stateKey, 5*time.Minute)
	pipe.GeoAdd(ctx, geoKey, &redis.GeoLocation{
		Name:      p.TagID,
		Longitude: p.Lon,
		Latitude:  p.Lat,
	})
	pipe.Publish(ctx, channel, payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// PublishAlarm fans an alarm out on the organization's alarm channel.
func (m *RedisMirror) PublishAlarm(ctx context.Context, a pipeline.Alarm) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	channel := fmt.Sprintf("org:%s:alarms", a.OrgID)
	return m.client.Publish(ctx, channel, payload).Err()
}
