// Package rediscache implements the L3 tiered-cache layer: a remote,
// TTL-native KV store with MessagePack envelopes, reached through a
// multiplexed go-redis/v8 client with per-call timeouts independent of the
// underlying connection's health.
package rediscache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/yatagarasu/yatagarasu/internal/apierr"
	"github.com/yatagarasu/yatagarasu/internal/cache"
	"github.com/yatagarasu/yatagarasu/internal/log"
)

const maxRedisKeyLen = 200

// Cache is the L3 layer.
type Cache struct {
	client     redis.UniversalClient
	prefix     string
	timeout    time.Duration
	maxTTL     time.Duration

	mu        sync.Mutex
	stats     cache.Stats
	statsByBk map[string]*cache.BucketStats
}

// Config carries the subset of redis connection settings this layer needs;
// kept separate from internal/config so this package has no import cycle
// back to config.
type Config struct {
	Addresses []string
	Password  string
	DB        int
	KeyPrefix string
	Timeout   time.Duration
	MaxTTL    time.Duration
}

// New constructs an L3 cache. A single address yields a *redis.Client; more
// than one yields a *redis.ClusterClient, both satisfying redis.UniversalClient.
func New(cfg Config) *Cache {
	var client redis.UniversalClient
	if len(cfg.Addresses) > 1 {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    cfg.Addresses,
			Password: cfg.Password,
		})
	} else {
		addr := "localhost:6379"
		if len(cfg.Addresses) == 1 {
			addr = cfg.Addresses[0]
		}
		client = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}
	return newWithClient(client, cfg)
}

// NewWithClient wraps an already-constructed client (used by tests against
// miniredis, and by alternate UniversalClient implementations).
func NewWithClient(client redis.UniversalClient, cfg Config) *Cache {
	return newWithClient(client, cfg)
}

func newWithClient(client redis.UniversalClient, cfg Config) *Cache {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "yatagarasu"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	maxTTL := cfg.MaxTTL
	if maxTTL <= 0 {
		maxTTL = 24 * time.Hour
	}
	return &Cache{
		client:    client,
		prefix:    prefix,
		timeout:   timeout,
		maxTTL:    maxTTL,
		statsByBk: make(map[string]*cache.BucketStats),
	}
}

func (c *Cache) Name() string { return cache.LayerRedis }

// redisKey builds "<prefix>:<bucket>:<percent-encoded-object-key>",
// substituting "<prefix>:hash:<sha256>" when that exceeds maxRedisKeyLen.
func (c *Cache) redisKey(key cache.Key) string {
	k := c.prefix + ":" + key.Bucket + ":" + url.QueryEscape(key.ObjectKey)
	if len(k) <= maxRedisKeyLen {
		return k
	}
	sum := sha256.Sum256([]byte(key.String()))
	return c.prefix + ":hash:" + hex.EncodeToString(sum[:])
}

func (c *Cache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Cache) bucketStats(bucket string) *cache.BucketStats {
	bs, ok := c.statsByBk[bucket]
	if !ok {
		bs = &cache.BucketStats{}
		c.statsByBk[bucket] = bs
	}
	return bs
}

// Get fetches and decodes the MessagePack envelope. Deserialization
// failures and unknown version bytes are logged and treated as a miss,
// never surfaced to the client (spec §4.6).
func (c *Cache) Get(ctx context.Context, key cache.Key) (*cache.Entry, bool) {
	rk := c.redisKey(key)

	cctx, cancel := c.withTimeout(ctx)
	defer cancel()
	b, err := c.client.Get(cctx, rk).Bytes()

	c.mu.Lock()
	bs := c.bucketStats(key.Bucket)
	defer c.mu.Unlock()

	if err == redis.Nil {
		c.stats.Misses++
		bs.Misses++
		return nil, false
	}
	if err != nil {
		log.Warn("redis cache: GET failed", log.Pairs{"key": rk, "error": err.Error()})
		c.stats.Misses++
		bs.Misses++
		return nil, false
	}

	e := &cache.Entry{}
	if _, err := e.UnmarshalMsg(b); err != nil {
		log.Warn("redis cache: malformed envelope, treating as miss", log.Pairs{"key": rk, "error": err.Error()})
		c.stats.Misses++
		bs.Misses++
		return nil, false
	}
	if e.Expired(time.Now()) {
		c.stats.Misses++
		bs.Misses++
		return nil, false
	}
	c.stats.Hits++
	bs.Hits++
	e.LastAccessedAt = time.Now()
	return e, true
}

// Set issues SET key value EX ttl, with TTL derived from expires_at-now,
// clamped to [1s, configured_max]; already-expired entries are not stored.
func (c *Cache) Set(ctx context.Context, key cache.Key, entry *cache.Entry) error {
	now := time.Now()
	var ttl time.Duration
	if entry.ExpiresAt.IsZero() {
		ttl = c.maxTTL
	} else {
		ttl = entry.ExpiresAt.Sub(now)
		if ttl <= 0 {
			return nil // already expired; spec §4.6 says do not store
		}
		if ttl < time.Second {
			ttl = time.Second
		}
		if ttl > c.maxTTL {
			ttl = c.maxTTL
		}
	}

	b, err := entry.MarshalMsg(nil)
	if err != nil {
		return apierr.Wrap(apierr.SerializationError, "encoding redis envelope", err)
	}

	rk := c.redisKey(key)
	cctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if err := c.client.Set(cctx, rk, b, ttl).Err(); err != nil {
		return apierr.Wrap(apierr.RedisError, "redis SET failed", err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key cache.Key) (bool, error) {
	rk := c.redisKey(key)
	cctx, cancel := c.withTimeout(ctx)
	defer cancel()
	n, err := c.client.Del(cctx, rk).Result()
	if err != nil {
		return false, apierr.Wrap(apierr.RedisError, "redis DEL failed", err)
	}
	return n > 0, nil
}

// Clear performs non-blocking cursor-based SCAN and batched deletion,
// never a blocking key-enumeration command (spec §4.6), optionally scoped
// to a bucket's key namespace.
func (c *Cache) Clear(ctx context.Context, bucket string) error {
	match := c.prefix + ":*"
	if bucket != "" {
		match = c.prefix + ":" + bucket + ":*"
	}

	var cursor uint64
	for {
		cctx, cancel := c.withTimeout(ctx)
		keys, next, err := c.client.Scan(cctx, cursor, match, 200).Result()
		cancel()
		if err != nil {
			return apierr.Wrap(apierr.RedisError, "redis SCAN failed", err)
		}
		if len(keys) > 0 {
			dctx, dcancel := c.withTimeout(ctx)
			err := c.client.Del(dctx, keys...).Err()
			dcancel()
			if err != nil {
				return apierr.Wrap(apierr.RedisError, "redis DEL failed during clear", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

func (c *Cache) Stats() cache.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.stats
	snap.Layer = cache.LayerRedis
	snap.ByBucket = make(map[string]*cache.BucketStats, len(c.statsByBk))
	for k, v := range c.statsByBk {
		cp := *v
		snap.ByBucket[k] = &cp
	}
	return snap
}
