package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.TelemetryTopic != "tag.telemetry" {
		t.Errorf("TelemetryTopic = %q", cfg.TelemetryTopic)
	}
	if cfg.AlarmTopic != "tag.alarms" {
		t.Errorf("AlarmTopic = %q", cfg.AlarmTopic)
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "localhost:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if cfg.BatchSize != 100 {
		t.Errorf("BatchSize = %d", cfg.BatchSize)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("BATCH_SIZE", "500")
	t.Setenv("BATCH_TIMEOUT", "250ms")

	cfg := Load()

	if len(cfg.KafkaBrokers) != 2 {
		t.Errorf("KafkaBrokers = %v, want two brokers", cfg.KafkaBrokers)
	}
	if cfg.BatchSize != 500 {
		t.Errorf("BatchSize = %d, want 500", cfg.BatchSize)
	}
	if cfg.BatchTimeout != 250*time.Millisecond {
		t.Errorf("BatchTimeout = %v, want 250ms", cfg.BatchTimeout)
	}
}

func TestGetenvHelpersIgnoreMalformed(t *testing.T) {
	t.Setenv("SOME_INT", "not-a-number")
	t.Setenv("SOME_DUR", "not-a-duration")

	if got := getenvInt("SOME_INT", 7); got != 7 {
		t.Errorf("getenvInt = %d, want fallback 7", got)
	}
	if got := getenvDuration("SOME_DUR", time.Second); got != time.Second {
		t.Errorf("getenvDuration = %v, want fallback 1s", got)
	}
}
