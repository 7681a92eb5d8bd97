package main

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/faredown/bargain-engine/internal/bargain"
	"github.com/faredown/bargain-engine/internal/capsule"
	"github.com/faredown/bargain-engine/internal/clock"
	"github.com/faredown/bargain-engine/internal/config"
	"github.com/faredown/bargain-engine/internal/holds"
	"github.com/faredown/bargain-engine/internal/httpx"
	"github.com/faredown/bargain-engine/internal/jobs"
	kafkax "github.com/faredown/bargain-engine/internal/kafka"
	"github.com/faredown/bargain-engine/internal/obs"
	"github.com/faredown/bargain-engine/internal/policy"
	"github.com/faredown/bargain-engine/internal/postgres"
	"github.com/faredown/bargain-engine/internal/pricing"
	"github.com/faredown/bargain-engine/internal/rates"
	"github.com/faredown/bargain-engine/internal/redisx"
	"github.com/faredown/bargain-engine/internal/session"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	obs.InitLogger(slog.LevelInfo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
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

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer + event sink
	prod := kafkax.NewProducer(cfg.KafkaBrokers, bargain.TopicBargainEvents, 1024)
	prod.Start(ctx)
	sink := &kafkax.EventSink{Producer: prod, Service: cfg.ServiceName}

	clk := clock.NewSystem()

	// Rate resolution behind a circuit breaker
	breaker := rates.NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown, clk)
	resolver := rates.NewResolver(
		&rates.RedisCache{RDB: rdb},
		&rates.Repo{DB: db},
		breaker, clk, sink,
		cfg.FallbackCostFrac, cfg.RateMaxStaleness, cfg.RateCacheTTL,
	)

	// Policy engine with TTL cache
	engine := policy.NewEngine(&policy.Repo{DB: db}, clk, cfg.PolicyCacheTTL)

	// Pricing model; fixed seed for reproducible environments, random otherwise
	seed := cfg.PricingSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	model := pricing.NewModel(rand.New(rand.NewSource(seed)), cfg.MinMarginPct)

	// Audit capsule signer
	signer, err := capsule.NewSigner(cfg.SigningKeySeed, capsule.NewRepo(db), clk)
	if err != nil {
		obs.Logger.Error("signer init failed", "error", err.Error())
		os.Exit(1)
	}

	sessRepo := session.NewRepo(db)
	sessSvc := session.NewService(sessRepo, session.NewRedisCache(rdb),
		resolver, engine, model, signer, sink, clk, cfg.SessionTTL)
	holdSvc := holds.NewService(holds.NewRepo(db), sessRepo, engine, sink, clk, cfg.HoldMinutes)

	// Background sweeps and policy refresh
	sched := jobs.NewScheduler(sessSvc, holdSvc, engine, cfg.SweepInterval)
	go sched.Run(ctx)

	router := httpx.NewRouter()
	h := &httpx.BargainHandler{
		Sessions:       sessSvc,
		Holds:          holdSvc,
		Audit:          signer,
		Limiter:        httpx.NewLimiter(rdb, clk),
		StartPerMinute: cfg.StartRateLimit,
		OfferPerMinute: cfg.OfferRateLimit,
	}
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		obs.Logger.Info("HTTP listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obs.Logger.Error("listen failed", "error", err.Error())
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	obs.Logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // close inbox, flush writer
	cancel()          // stop producer loop and scheduler
	prod.WaitClosed() // drain
}
