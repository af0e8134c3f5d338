// Package cache provides the response cache used by the mapping caller.
// Production deployments back it with Redis; tests and single-node setups
// use the in-memory implementation. Both satisfy apicall.Cache.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/schemaflow/platform/internal/app/metrics"
	"github.com/schemaflow/platform/pkg/logger"
)

// Redis caches values in a shared Redis instance so every server replica
// sees the same entries.
type Redis struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedis connects to addr and verifies the connection with a ping. db
// selects the Redis logical database; password may be empty.
func NewRedis(ctx context.Context, addr, password string, db int, log *logger.Logger) (*Redis, error) {
	if log == nil {
		log = logger.NewDefault("cache")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Redis{client: client, log: log}, nil
}

// Get returns the cached value for key. Errors degrade to cache misses; a
// broken cache must never fail a mapping call.
func (c *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	blob, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warnf("cache get %s: %v", key, err)
		}
		metrics.RecordCacheLookup(false)
		return nil, false
	}
	metrics.RecordCacheLookup(true)
	return blob, true
}

// Set stores value under key for ttl. Failures are logged and dropped.
func (c *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.log.Warnf("cache set %s: %v", key, err)
	}
}

// Close releases the Redis connection.
func (c *Redis) Close() error {
	return c.client.Close()
}

// Memory is a process-local TTL cache. Expired entries are dropped lazily on
// read and swept whenever the entry count doubles past the last sweep.
type Memory struct {
	mu        sync.Mutex
	items     map[string]memoryItem
	sweepSize int
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// NewMemory returns an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]memoryItem), sweepSize: 64}
}

// Get returns the cached value for key if it has not expired.
func (c *Memory) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		metrics.RecordCacheLookup(false)
		return nil, false
	}
	if time.Now().After(item.expiresAt) {
		delete(c.items, key)
		metrics.RecordCacheLookup(false)
		return nil, false
	}
	metrics.RecordCacheLookup(true)
	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, true
}

// Set stores value under key for ttl.
func (c *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = memoryItem{value: stored, expiresAt: time.Now().Add(ttl)}
	if len(c.items) >= c.sweepSize {
		c.sweepLocked()
	}
}

func (c *Memory) sweepLocked() {
	now := time.Now()
	for key, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, key)
		}
	}
	c.sweepSize = len(c.items)*2 + 64
}
