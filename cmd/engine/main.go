package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"portfolio-systemv1/config"
	"portfolio-systemv1/internal/execution"
	"portfolio-systemv1/internal/logger"
	"portfolio-systemv1/internal/metrics"
	"portfolio-systemv1/internal/model"
	"portfolio-systemv1/internal/money"
	"portfolio-systemv1/internal/orders"
	"portfolio-systemv1/internal/pricefeed"
	"portfolio-systemv1/internal/service"
	redisstore "portfolio-systemv1/internal/store/redis"
	sqlitestore "portfolio-systemv1/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[engine] starting...")

	cfg := config.Load()
	slogger := logger.Init("engine", logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- SQLite (authoritative) ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[engine] sqlite init failed: %v", err)
	}
	defer store.Close()
	store.OnCommit = func(d time.Duration) {
		prom.SQLiteCommitDur.Observe(d.Seconds())
	}
	health.SetSQLiteOK(true)
	log.Println("[engine] sqlite store ready")

	// ---- Redis (cache + pub/sub, non-authoritative) ----
	var (
		cacheIf model.AnalyticsCache
		pubIf   service.Publisher
	)
	cache, err := redisstore.NewCache(redisstore.CacheConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      cfg.CacheTTL,
	})
	if err != nil {
		log.Printf("[engine] WARNING: redis init failed: %v (continuing without redis)", err)
		health.SetRedisConnected(false)
	} else {
		defer cache.Close()
		health.SetRedisConnected(true)
		cacheIf = cache

		cache.OnBreakerChange = func(_, to redisstore.State) {
			prom.RedisBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisBreakerTrips.Inc()
			}
		}

		pub := redisstore.NewPublisher(ctx, cache, 0)
		pub.OnBuffer = func() { prom.PublisherBuffered.Inc() }
		pub.OnFlush = func(int) { prom.PublisherPendingLen.Set(0) }
		pubIf = pub
		log.Println("[engine] redis cache and publisher ready")
	}

	if cache != nil {
		health.StartLivenessChecker(ctx, cache.Client(), store.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, store.DB(), 10*time.Second)
	}

	// ---- Engine tunables ----
	tickCap, err := money.ParseQuantity(cfg.TickLiquidityCap)
	if err != nil {
		log.Fatalf("[engine] invalid TICK_LIQUIDITY_CAP: %v", err)
	}
	maxQty, err := money.ParseQuantity(cfg.MaxOrderQty)
	if err != nil {
		log.Fatalf("[engine] invalid MAX_ORDER_QTY: %v", err)
	}
	feeFlat, err := money.Parse(cfg.FeeFlat)
	if err != nil {
		log.Fatalf("[engine] invalid FEE_FLAT: %v", err)
	}

	core := service.New(service.Config{
		Shards: cfg.Shards,
		Orders: orders.Config{
			TickLiquidityCap: tickCap,
			TriggeredTTL:     cfg.TriggeredTTL,
		},
		MaxOrderQty: maxQty,
	}, store, cacheIf, pubIf,
		execution.FlatPlusBps{Flat: feeFlat, Bps: cfg.FeeBps},
		prom, slogger)

	if err := core.Start(ctx); err != nil {
		log.Fatalf("[engine] core start failed: %v", err)
	}

	// ---- Price pipeline: feed -> fanout -> {core, price log} ----
	feedCh := make(chan model.PriceUpdate, 10000)

	fanout := pricefeed.NewFanOut(5000)
	fanout.OnDrop = func(subscriberIdx int) {
		prom.FanoutDropsTotal.WithLabelValues(strconv.Itoa(subscriberIdx)).Inc()
	}
	coreCh := fanout.Subscribe()
	priceLogCh := fanout.Subscribe()
	go fanout.Run(ctx, feedCh)

	go store.RunPriceLog(ctx, priceLogCh)

	go func() {
		for u := range coreCh {
			core.ApplyPriceUpdate(u)
			health.SetLastPriceTime(u.TS)
		}
	}()

	switch cfg.FeedMode {
	case "ws":
		feed, err := pricefeed.NewWSFeed(pricefeed.WSConfig{URL: cfg.FeedURL})
		if err != nil {
			log.Fatalf("[engine] feed init failed: %v", err)
		}
		feed.OnReconnect = func() {
			prom.FeedReconnects.Inc()
			health.SetFeedConnected(false)
		}
		health.SetFeedConnected(true)
		go func() {
			if err := feed.Start(ctx, feedCh); err != nil && ctx.Err() == nil {
				log.Printf("[engine] feed stopped: %v", err)
			}
		}()
		log.Printf("[engine] ws feed connecting to %s", cfg.FeedURL)
	case "sim":
		assets := core.Assets()
		simAssets := make([]pricefeed.SimAsset, 0, len(assets))
		for _, a := range assets {
			start := a.CurrentPrice.Float()
			if start <= 0 {
				start = 100
			}
			simAssets = append(simAssets, pricefeed.SimAsset{AssetID: a.ID, Price: start})
		}
		if len(simAssets) == 0 {
			log.Println("[engine] WARNING: sim feed has no registered assets, feed idle")
		}
		sim := pricefeed.NewSim(pricefeed.SimConfig{Assets: simAssets, Interval: time.Second})
		health.SetFeedConnected(true)
		go sim.Start(ctx, feedCh)
		log.Printf("[engine] sim feed started with %d assets", len(simAssets))
	default:
		log.Fatalf("[engine] unknown FEED_MODE %q (want ws or sim)", cfg.FeedMode)
	}

	log.Println("[engine] running, ctrl-c to stop")
	<-sigCh
	log.Println("[engine] shutting down...")

	cancel()
	core.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	metricsSrv.Stop(shutdownCtx)
	shutdownCancel()

	log.Println("[engine] bye")
}
