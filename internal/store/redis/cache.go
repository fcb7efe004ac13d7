// Package redis holds the non-authoritative Redis layers: the versioned
// analytics cache and the pub/sub publisher for executed fills and order
// transitions. Redis being down degrades these to no-ops behind a circuit
// breaker; the engine itself never depends on Redis for correctness.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

const (
	versionKey      = "analytics:ver"
	defaultCacheTTL = 60 * time.Second
)

// CacheConfig configures the analytics cache.
type CacheConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	// TTL bounds staleness even if invalidation is missed. Default 60s.
	TTL time.Duration
}

// Cache implements model.AnalyticsCache: payloads stored under
// version-prefixed keys, invalidation bumps the version so every previously
// written key becomes unreachable at once.
type Cache struct {
	client *goredis.Client
	ttl    time.Duration
	cb     *CircuitBreaker

	// OnBreakerChange observes every breaker transition. Optional; wired
	// to the breaker state gauge and trip counter.
	OnBreakerChange func(from, to State)
}

// Client returns the underlying Redis client for health checks.
func (c *Cache) Client() *goredis.Client { return c.client }

// NewCache creates a Cache and pings the server.
func NewCache(cfg CacheConfig) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = defaultCacheTTL
	}

	log.Printf("[redis] connected to %s (cache ttl %s)", cfg.Addr, ttl)
	cache := &Cache{
		client: client,
		ttl:    ttl,
		cb:     NewCircuitBreaker(5, 10*time.Second),
	}
	cache.bindBreaker()
	return cache, nil
}

func (c *Cache) bindBreaker() {
	c.cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] cache breaker %s -> %s", from, to)
		if c.OnBreakerChange != nil {
			c.OnBreakerChange(from, to)
		}
	}
}

// Get returns the cached payload for the key, or false on miss. Redis
// errors and an open breaker count as misses: the caller recomputes.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	var payload []byte
	err := c.cb.Execute(func() error {
		data, err := c.client.Get(ctx, key).Bytes()
		if err == goredis.Nil {
			return nil // a miss is not a breaker failure
		}
		if err != nil {
			return err
		}
		payload = data
		return nil
	})
	if err != nil || payload == nil {
		return nil, false
	}
	return payload, true
}

// Set stores a payload under the key with the configured TTL. Best effort.
func (c *Cache) Set(ctx context.Context, key string, payload []byte) {
	err := c.cb.Execute(func() error {
		return c.client.Set(ctx, key, payload, c.ttl).Err()
	})
	if err != nil && err != ErrCircuitOpen {
		log.Printf("[redis] cache set %s: %v", key, err)
	}
}

// Invalidate bumps the cache generation, making every previously written
// key unreachable. Called after every fill.
func (c *Cache) Invalidate(ctx context.Context) {
	err := c.cb.Execute(func() error {
		return c.client.Incr(ctx, versionKey).Err()
	})
	if err != nil && err != ErrCircuitOpen {
		log.Printf("[redis] cache invalidate: %v", err)
	}
}

// Version returns the current cache generation. Zero when unavailable,
// which keeps key derivation deterministic while Redis is down.
func (c *Cache) Version(ctx context.Context) int64 {
	var v int64
	err := c.cb.Execute(func() error {
		n, err := c.client.Get(ctx, versionKey).Int64()
		if err == goredis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		v = n
		return nil
	})
	if err != nil {
		return 0
	}
	return v
}

// Close closes the Redis client.
func (c *Cache) Close() error { return c.client.Close() }
