package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/faredown/bargain-engine/internal/analytics"
	"github.com/faredown/bargain-engine/internal/bargain"
	"github.com/faredown/bargain-engine/internal/config"
	kafkax "github.com/faredown/bargain-engine/internal/kafka"
	"github.com/faredown/bargain-engine/internal/obs"
	"github.com/faredown/bargain-engine/internal/postgres"
	"github.com/faredown/bargain-engine/internal/redisx"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	obs.InitLogger(slog.LevelInfo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		obs.Logger.Error("db connect failed", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()
	if err := postgres.ApplySchema(ctx, db); err != nil {
		obs.Logger.Error("schema apply failed", "error", err.Error())
		os.Exit(1)
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &analytics.Service{
		Store: analytics.NewRepo(db),
		Redis: rdb,
	}

	group := getenv("ANALYTICS_GROUP", "bargain-analytics")
	workers := atoiOr(os.Getenv("ANALYTICS_WORKERS"), 8)
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, bargain.TopicBargainEvents, workers)

	go func() {
		obs.Logger.Info("analytics consumer started",
			"group", group, "topic", bargain.TopicBargainEvents, "workers", workers)
		if err := cons.Start(ctx, svc.HandleEvent); err != nil {
			obs.Logger.Error("consumer exit", "error", err.Error())
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	obs.Logger.Info("shutting down consumer")
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
