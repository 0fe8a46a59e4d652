package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/config"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/api"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/breaker"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/dispatch"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/evaluator"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/eventbus"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/indicator"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/logger"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/marketdata"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/metrics"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/notification"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/planner"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/registry"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/scheduler"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/store/memory"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/store/postgres"
	redisstore "github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/store/redis"
	sqlitestore "github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/store/sqlite"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/stream"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/subscription"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	configPath := flag.String("config", os.Getenv("CONDENGINE_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[condengine] %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[condengine] %v", err)
	}
	lg := logger.Init(cfg.Service.Name, logger.ParseLevel(cfg.Service.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		lg.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	// ---- Metrics & health ----
	prom := metrics.New(nil)
	health := metrics.NewHealthStatus(cfg.Evaluator.StaleAfter)

	// ---- SQLite (catalog, state, trigger log, candles) ----
	var sq *sqlitestore.Store
	if cfg.UsesSQLite() {
		if dir := filepath.Dir(cfg.Catalog.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				log.Fatalf("[condengine] create %s: %v", dir, err)
			}
		}
		sq, err = sqlitestore.Open(sqlitestore.Config{DBPath: cfg.Catalog.SQLitePath})
		if err != nil {
			log.Fatalf("[condengine] sqlite init failed: %v", err)
		}
		defer sq.Close()
	}

	// ---- Redis (state, bus, notify queue) ----
	var (
		rdb     *goredis.Client
		redisCB *breaker.Breaker
	)
	if cfg.UsesRedis() {
		rdb, err = redisstore.Connect(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			log.Fatalf("[condengine] redis init failed: %v", err)
		}
		defer rdb.Close()

		redisCB = breaker.New("redis", cfg.Redis.BreakerFailures, cfg.Redis.BreakerReset)
		redisCB.OnStateChange = func(name string, from, to breaker.State) {
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == breaker.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
			lg.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		}
	}

	var sqlDB *sql.DB
	if sq != nil {
		sqlDB = sq.DB()
	}
	health.StartLivenessChecker(ctx, rdb, sqlDB, 10*time.Second)

	// ---- Catalog & trigger log ----
	catalog, triggers := openCatalog(ctx, cfg, sq)
	if pg, ok := catalog.(*postgres.Catalog); ok {
		defer pg.Close()
	}

	// ---- Condition state ----
	var state model.StateStore
	switch cfg.State.Backend {
	case "redis":
		rs := redisstore.NewStateStore(rdb, redisCB, redisstore.Config{Prefix: cfg.Redis.Prefix})
		rs.OnBuffer = prom.StateWritesBuffered.Inc
		defer rs.Close()
		state = rs
	case "sqlite":
		state = sq
	default:
		state = memory.NewStateStore()
	}

	// ---- Market data ----
	var source model.CandleSource
	switch cfg.MarketData.Source {
	case "sqlite":
		source = sq
	default:
		cb := breaker.New("binance", 5, 30*time.Second)
		cb.OnStateChange = func(name string, from, to breaker.State) {
			lg.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		}
		source = marketdata.NewBinanceSource(cfg.MarketData.BaseURL, cfg.MarketData.Timeout, cb)
		if cfg.MarketData.Record {
			source = &marketdata.Recording{
				Source:  source,
				Sink:    sq,
				OnError: func(err error) { lg.Warn("record candles failed", "error", err) },
			}
		}
	}

	// ---- Event bus ----
	var bus eventbus.Multi
	redisBus := cfg.Bus.Backend == "redis" || cfg.Bus.Backend == "all"
	if redisBus {
		bus = append(bus, eventbus.NewRedisPublisher(rdb, redisCB, 0))
	}
	if cfg.Bus.Backend == "nats" || cfg.Bus.Backend == "all" {
		np, err := eventbus.NewNATSPublisher(ctx, eventbus.NATSConfig{
			URL:           cfg.NATS.URL,
			Stream:        cfg.NATS.Stream,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
		})
		if err != nil {
			log.Fatalf("[condengine] nats init failed: %v", err)
		}
		bus = append(bus, np)
	}
	var publisher model.TriggerPublisher
	if len(bus) > 0 {
		publisher = bus
		defer bus.Close()
	}

	// ---- Trigger stream ----
	hub := stream.NewHub(cfg.HTTP.ReplayCapacity)
	hub.OnClientCount = func(n int) { prom.WSClients.Set(float64(n)) }
	defer hub.Close()

	var broadcaster dispatch.Broadcaster = hub
	if redisBus {
		// every replica publishes to Redis, so dashboards see all of them
		broadcaster = nil
		events := make(chan model.TriggerEvent, 1024)
		go func() {
			err := eventbus.SubscribeRedis(ctx, rdb, func(ev model.TriggerEvent) {
				select {
				case events <- ev:
				default:
					prom.PublishErrors.WithLabelValues("stream").Inc()
				}
			})
			if err != nil && ctx.Err() == nil {
				lg.Error("trigger subscription ended", "error", err)
			}
		}()
		go hub.Feed(ctx, events)
	}

	// ---- Dispatcher ----
	disp := dispatch.New(dispatch.Options{
		Log:       triggers,
		Publisher: publisher,
		Stream:    broadcaster,
		Webhooks: notification.NewWebhookClient(cfg.Dispatch.WebhookTimeout, cfg.Dispatch.WebhookAttempts,
			cfg.Dispatch.WebhookBaseDelay, cfg.Dispatch.WebhookMaxDelay),
		DefaultChannel: cfg.Dispatch.DefaultChannel,
		Metrics:        prom,
		Logger:         lg,
	})
	disp.RegisterNotifier("log", notification.NewLogNotifier())
	if cfg.Dispatch.TelegramToken != "" {
		tg, err := notification.NewTelegramNotifier(cfg.Dispatch.TelegramToken, cfg.Dispatch.TelegramChatID)
		if err != nil {
			lg.Error("telegram notifier disabled", "error", err)
		} else {
			disp.RegisterNotifier("telegram", tg)
		}
	}
	if rdb != nil {
		disp.RegisterNotifier("queue", notification.NewQueueNotifier(rdb, cfg.Dispatch.QueueKey, 0))
	}

	// ---- Registry, subscriptions, evaluator ----
	lib := indicator.NewStandard()
	reg := registry.New(catalog, lg)
	subs := subscription.New(catalog, lg)
	engine := evaluator.New(evaluator.Config{
		Interval:     cfg.Evaluator.Interval,
		Workers:      cfg.Evaluator.Workers,
		FetchTimeout: cfg.Evaluator.FetchTimeout,
	}, evaluator.Deps{
		Plans:      planner.New(catalog, lib, cfg.Evaluator.WarmupBars, lg),
		Source:     source,
		Library:    lib,
		State:      state,
		Subs:       subs,
		Dispatcher: disp,
		Metrics:    prom,
		Health:     health,
		Log:        lg,
	})

	// ---- Housekeeping ----
	sched := scheduler.New(scheduler.Config{
		PruneSpec: cfg.Housekeeping.PruneSpec,
		StatsSpec: cfg.Housekeeping.StatsSpec,
		Retention: cfg.Housekeeping.Retention,
	}, triggers, reg, prom, lg)
	if err := sched.Start(); err != nil {
		log.Fatalf("[condengine] scheduler: %v", err)
	}
	defer sched.Stop()

	// ---- HTTP ----
	srv := api.NewServer(api.Config{Addr: cfg.HTTP.Addr, AllowOrigins: cfg.HTTP.AllowOrigins}, api.Deps{
		Registry:      reg,
		Subscriptions: subs,
		Triggers:      triggers,
		Stream:        hub,
		Auth:          api.NewAuth(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Health:        health,
		Gatherer:      prometheus.DefaultGatherer,
		Logger:        lg,
	})
	go func() {
		if err := srv.Start(); err != nil {
			lg.Error("api server failed", "error", err)
			cancel()
		}
	}()

	var metricsSrv *metrics.Server
	if cfg.HTTP.MetricsAddr != "" {
		metricsSrv = metrics.NewServer(cfg.HTTP.MetricsAddr, health, prometheus.DefaultGatherer)
		metricsSrv.Start()
	}

	lg.Info("condengine started",
		"catalog", cfg.Catalog.Backend, "state", cfg.State.Backend,
		"marketdata", cfg.MarketData.Source, "bus", cfg.Bus.Backend)

	if err := engine.Run(ctx); err != nil {
		lg.Error("evaluator stopped", "error", err)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Stop(shutdownCtx); err != nil {
		lg.Warn("api shutdown", "error", err)
	}
	if metricsSrv != nil {
		metricsSrv.Stop(shutdownCtx)
	}
	lg.Info("condengine stopped")
}

// openCatalog picks the catalog backend. The trigger log lives next to it
// when the backend can hold one.
func openCatalog(ctx context.Context, cfg *config.Config, sq *sqlitestore.Store) (model.Catalog, model.TriggerLog) {
	switch cfg.Catalog.Backend {
	case "postgres":
		pg, err := postgres.Connect(ctx, postgres.Config{DSN: cfg.Catalog.PostgresDSN, MaxConns: cfg.Catalog.MaxConns})
		if err != nil {
			log.Fatalf("[condengine] postgres init failed: %v", err)
		}
		return pg, pg
	case "sqlite":
		return sq, sq
	}
	slog.Warn("in-memory catalog: registrations are lost on restart")
	if sq != nil {
		return memory.NewCatalog(), sq
	}
	return memory.NewCatalog(), memory.NewTriggerLog()
}
