package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Infrastructure
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MetricsAddr   string
	LogLevel      string

	// Price feed: "ws" connects to FeedURL, "sim" runs the random walk.
	FeedMode string
	FeedURL  string

	// Engine tunables
	Shards           int
	TickLiquidityCap string // quantity, "0" = unlimited
	TriggeredTTL     time.Duration
	MaxOrderQty      string // quantity, "0" = unlimited

	// Fee schedule: flat amount plus basis points of the gross
	FeeFlat string
	FeeBps  int64

	// Analytics cache TTL
	CacheTTL time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		SQLitePath:    getEnv("SQLITE_PATH", "data/portfolio.db"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		FeedMode: getEnv("FEED_MODE", "sim"),
		FeedURL:  getEnv("FEED_URL", "ws://localhost:8081/ws"),

		Shards:           getEnvInt("SHARDS", 4),
		TickLiquidityCap: getEnv("TICK_LIQUIDITY_CAP", "0"),
		TriggeredTTL:     getEnvDuration("TRIGGERED_ORDER_TTL", 0),
		MaxOrderQty:      getEnv("MAX_ORDER_QTY", "0"),

		FeeFlat: getEnv("FEE_FLAT", "0"),
		FeeBps:  int64(getEnvInt("FEE_BPS", 0)),

		CacheTTL: getEnvDuration("CACHE_TTL", 60*time.Second),
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid duration for %s: %q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
