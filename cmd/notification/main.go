package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MZRMRB/trakr/config"
	"github.com/MZRMRB/trakr/notification"
	"github.com/MZRMRB/trakr/store"
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
	notifier := notification.NewNotifier(st, st,
		cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword)

	consumer := notification.NewKafkaConsumer(
		cfg.KafkaBrokers, cfg.AlarmTopic, "notification-service",
		cfg.BatchSize, cfg.BatchTimeout,
		func(events []notification.AlarmEvent) {
			batchCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			notifier.HandleBatch(batchCtx, events)
		})
	defer consumer.Close()

	slog.Info("notification service starting", "topic", cfg.AlarmTopic)
	consumer.Run(ctx)
	slog.Info("shutdown complete")
}
