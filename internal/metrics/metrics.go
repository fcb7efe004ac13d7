package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the order engine.
type Metrics struct {
	// Order lifecycle
	OrdersSubmitted prometheus.Counter
	OrdersRejected  *prometheus.CounterVec // labels: reason
	OrdersFilled    prometheus.Counter
	OrdersCancelled prometheus.Counter
	PartialFills    prometheus.Counter
	OpenOrders      prometheus.Gauge

	// Fill path
	FillDur         prometheus.Histogram // trigger evaluation to durable commit
	SQLiteCommitDur prometheus.Histogram

	// Price pipeline
	PriceUpdatesTotal prometheus.Counter
	TickEvalDur       prometheus.Histogram // one book walk per price update
	FeedReconnects    prometheus.Counter
	FanoutDropsTotal  *prometheus.CounterVec // labels: subscriber

	// Analytics cache
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	CacheInvalidations prometheus.Counter

	// Redis degradation
	RedisBreakerState   prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisBreakerTrips   prometheus.Counter
	PublisherBuffered   prometheus.Counter
	PublisherPendingLen prometheus.Gauge
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		OrdersSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_orders_submitted_total",
			Help: "Orders accepted into the book",
		}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_orders_rejected_total",
			Help: "Orders rejected (by reason)",
		}, []string{"reason"}),
		OrdersFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_orders_filled_total",
			Help: "Orders fully filled",
		}),
		OrdersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_orders_cancelled_total",
			Help: "Orders cancelled (user or TTL expiry)",
		}),
		PartialFills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_partial_fills_total",
			Help: "Fill events that left an order partially filled",
		}),
		OpenOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_open_orders",
			Help: "Orders currently resting in the books",
		}),

		FillDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_fill_duration_seconds",
			Help:    "Latency from trigger evaluation to durable fill commit",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_sqlite_commit_duration_seconds",
			Help:    "SQLite fill transaction commit latency",
			Buckets: prometheus.DefBuckets,
		}),

		PriceUpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_price_updates_total",
			Help: "Price updates applied to the asset table",
		}),
		TickEvalDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_tick_eval_duration_seconds",
			Help:    "Per-update order book evaluation latency",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_feed_reconnects_total",
			Help: "Price feed reconnection attempts",
		}),
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_fanout_drops_total",
			Help: "Price updates dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_analytics_cache_hits_total",
			Help: "Analytics requests served from cache",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_analytics_cache_misses_total",
			Help: "Analytics requests recomputed from the store",
		}),
		CacheInvalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_analytics_cache_invalidations_total",
			Help: "Cache generation bumps after fills",
		}),

		RedisBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		PublisherBuffered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_publisher_buffered_total",
			Help: "Pub/sub messages buffered locally during a Redis outage",
		}),
		PublisherPendingLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_publisher_pending",
			Help: "Buffered pub/sub messages awaiting replay",
		}),
	}

	prometheus.MustRegister(
		m.OrdersSubmitted,
		m.OrdersRejected,
		m.OrdersFilled,
		m.OrdersCancelled,
		m.PartialFills,
		m.OpenOrders,
		m.FillDur,
		m.SQLiteCommitDur,
		m.PriceUpdatesTotal,
		m.TickEvalDur,
		m.FeedReconnects,
		m.FanoutDropsTotal,
		m.CacheHits,
		m.CacheMisses,
		m.CacheInvalidations,
		m.RedisBreakerState,
		m.RedisBreakerTrips,
		m.PublisherBuffered,
		m.PublisherPendingLen,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastPriceTime  time.Time `json:"last_price_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastPriceTime(t time.Time) {
	h.mu.Lock()
	h.LastPriceTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint. SQLite is authoritative, so a
// broken store alone makes the engine unhealthy; feed or Redis trouble
// only degrades it.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.FeedConnected || !h.RedisConnected {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.SQLiteOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	priceAge := ""
	if !h.LastPriceTime.IsZero() {
		priceAge = time.Since(h.LastPriceTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		FeedConnected   bool    `json:"feed_connected"`
		LastPriceTime   string  `json:"last_price_time"`
		PriceAge        string  `json:"price_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		LastPriceTime:   h.LastPriceTime.Format(time.RFC3339),
		PriceAge:        priceAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
