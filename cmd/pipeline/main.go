package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MZRMRB/trakr/config"
	"github.com/MZRMRB/trakr/pipeline"
	"github.com/MZRMRB/trakr/store"
	"github.com/MZRMRB/trakr/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	st := store.New(pool)
	if err := st.Ping(ctx); err != nil {
		slog.Error("postgres ping failed", "error", err)
		os.Exit(1)
	}

	registry := store.NewRegistry(pool, cfg.ConfigRefresh)
	rules := store.NewConfigStore(pool)
	if err := rules.Refresh(ctx); err != nil {
		slog.Error("initial rules load failed", "error", err)
		os.Exit(1)
	}

	zones := pipeline.NewGeofenceIndex()
	loaded, err := rules.LoadZones(ctx)
	if err != nil {
		slog.Error("initial zone load failed", "error", err)
		os.Exit(1)
	}
	zones.Replace(loaded)
	slog.Info("geofence index loaded", "zones", len(loaded))

	go rules.RunRefresh(ctx, cfg.ConfigRefresh, zones)

	states := pipeline.NewStateStore()
	gw := pipeline.NewGateway(registry, rules, zones, states, st, st, st)

	// Redis is a live-view cache, not a source of truth. A failed connect
	// degrades the live map but must not stop ingestion.
	mirror, err := store.NewRedisMirror(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		slog.Warn("redis unavailable, live mirror disabled", "error", err)
		mirror = nil
	} else {
		defer mirror.Close()
	}

	alarmProducer := pipeline.NewAlarmProducer(cfg.KafkaBrokers, cfg.AlarmTopic)
	defer alarmProducer.Close()

	hub := pipeline.NewHub()
	defer hub.CloseAll()

	consumer := pipeline.NewKafkaConsumer(pipeline.KafkaConsumerConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.TelemetryTopic,
		GroupID:      cfg.KafkaGroup,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
	}, func(pings []telemetry.Ping) {
		batchCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		processBatch(batchCtx, gw, st, mirror, alarmProducer, hub, pings)
	})
	defer consumer.Close()

	go consumer.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/live/", hub.ServeWS)
	store.NewQueryAPI(st).Register(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		slog.Info("pipeline service listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	slog.Info("shutdown complete")
}

// processBatch drives one consumer batch through the gateway, then fans the
// accepted results out to the audit table, the live mirror, the alarm topic
// and connected WebSocket clients.
func processBatch(
	ctx context.Context,
	gw *pipeline.Gateway,
	st *store.Store,
	mirror *store.RedisMirror,
	alarms *pipeline.AlarmProducer,
	hub *pipeline.Hub,
	pings []telemetry.Ping,
) {
	outcomes := gw.IngestBatch(ctx, pings)

	var recs []store.PingRecord
	var fired []pipeline.Alarm
	for i, out := range outcomes {
		if out.Err != nil {
			slog.Warn("ping rejected", "tag_id", pings[i].TagID, "error", out.Err)
			continue
		}
		switch out.Result.Status {
		case pipeline.StatusApplied:
			recs = append(recs, store.PingRecord{Ping: pings[i], Status: out.Result.Status})
			fired = append(fired, out.Result.Alarms...)

			if mirror != nil {
				if err := mirror.UpdateLiveState(ctx, pings[i]); err != nil {
					slog.Warn("live mirror update failed", "tag_id", pings[i].TagID, "error", err)
				}
			}
			hub.Broadcast(pings[i].TagID, pipeline.WSMessage{Type: "position", Data: pings[i]})
			if out.Result.Delta != nil && out.Result.Delta.Closed != nil {
				hub.Broadcast(pings[i].TagID, pipeline.WSMessage{Type: "segment", Data: out.Result.Delta.Closed})
			}
		case pipeline.StatusLate:
			recs = append(recs, store.PingRecord{Ping: pings[i], Status: out.Result.Status})
		}
		// Duplicates leave no trace beyond the counter.
	}

	if len(recs) > 0 {
		if err := st.BulkInsertPings(ctx, recs); err != nil {
			slog.Error("ping audit insert failed", "count", len(recs), "error", err)
		}
	}

	if len(fired) > 0 {
		if err := alarms.Publish(ctx, fired); err != nil {
			slog.Error("alarm publish failed", "count", len(fired), "error", err)
		}
		for _, a := range fired {
			if mirror != nil {
				if err := mirror.PublishAlarm(ctx, a); err != nil {
					slog.Warn("alarm mirror publish failed", "alarm_id", a.ID, "error", err)
				}
			}
			hub.Broadcast(a.TagID, pipeline.WSMessage{Type: "alarm", Data: a})
		}
	}
}
