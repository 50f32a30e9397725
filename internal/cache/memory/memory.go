// Package memory implements the L1 tiered-cache layer: a concurrent,
// size-weighted, TTL-expiring map with TinyLFU admission so a burst of
// one-shot large objects cannot evict hot small ones.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/yatagarasu/yatagarasu/internal/apierr"
	"github.com/yatagarasu/yatagarasu/internal/cache"
	"github.com/yatagarasu/yatagarasu/internal/log"
)

// Cache is the L1 layer. It shards its storage to keep writes independent
// across keys while reads stay lock-light.
type Cache struct {
	maxSizeBytes int64

	shards    []*shard
	sketch    *frequencySketch
	sizeBytes int64 // total across shards, guarded by mu

	mu        sync.Mutex // guards sizeBytes, stats and statsByBk
	stats     cache.Stats
	statsByBk map[string]*cache.BucketStats
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*item
}

type item struct {
	key       cache.Key
	entry     *cache.Entry
	sizeBytes int64
}

// New constructs an L1 cache with the given capacity and shard count.
// Expiration is entirely driven by each entry's own ExpiresAt, set by the
// caller before Set; this layer carries no separate default-TTL override.
func New(maxSizeBytes int64, shardCount int) *Cache {
	if shardCount <= 0 {
		shardCount = 16
	}
	c := &Cache{
		maxSizeBytes: maxSizeBytes,
		shards:       make([]*shard, shardCount),
		sketch:       newFrequencySketch(4096),
		statsByBk:    make(map[string]*cache.BucketStats),
	}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[string]*item)}
	}
	return c
}

func (c *Cache) Name() string { return cache.LayerMemory }

func (c *Cache) shardFor(s string) *shard {
	h := fnv32(s)
	return c.shards[h%uint32(len(c.shards))]
}

func (c *Cache) bucketStats(bucket string) *cache.BucketStats {
	bs, ok := c.statsByBk[bucket]
	if !ok {
		bs = &cache.BucketStats{}
		c.statsByBk[bucket] = bs
	}
	return bs
}

// Get returns the entry for key, treating expired entries as a miss.
func (c *Cache) Get(_ context.Context, key cache.Key) (*cache.Entry, bool) {
	ks := key.String()
	sh := c.shardFor(ks)

	sh.mu.Lock()
	it, ok := sh.entries[ks]
	if ok && it.entry.Expired(time.Now()) {
		delete(sh.entries, ks)
		c.addSize(-it.sizeBytes)
		ok = false
	}
	sh.mu.Unlock()

	c.sketch.increment(ks)

	c.mu.Lock()
	bs := c.bucketStats(key.Bucket)
	if ok {
		c.stats.Hits++
		bs.Hits++
	} else {
		c.stats.Misses++
		bs.Misses++
	}
	c.mu.Unlock()

	if !ok {
		return nil, false
	}
	it.entry.LastAccessedAt = time.Now()
	return it.entry, true
}

// Set rejects an entry larger than maxSizeBytes with StorageFull and
// otherwise stores it under key. When the cache is full, it evicts the
// lowest-frequency entries of key's shard for as long as TinyLFU admission
// favours the new key. If admission favours the incumbent, or the shard has
// nothing left to evict, the entry is still stored and the total size can
// exceed maxSizeBytes.
func (c *Cache) Set(_ context.Context, key cache.Key, entry *cache.Entry) error {
	size := entry.SizeBytes()
	if size > c.maxSizeBytes {
		return apierr.New(apierr.StorageFull, "entry exceeds memory cache capacity")
	}

	ks := key.String()
	sh := c.shardFor(ks)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	_, existed := sh.entries[ks]
	if !existed {
		for c.currentSize()+size > c.maxSizeBytes && len(sh.entries) > 0 {
			victimKey, victim := c.pickVictim(sh)
			if victim == nil {
				break
			}
			if !c.sketch.admit(ks, victimKey) {
				// new key loses to the incumbent's estimated frequency;
				// accept the bounded overcommit rather than thrash.
				break
			}
			delete(sh.entries, victimKey)
			c.addSize(-victim.sizeBytes)
			c.mu.Lock()
			c.stats.Evictions++
			c.stats.EvictionsSize++
			bs := c.bucketStats(victim.key.Bucket)
			bs.Evictions++
			bs.EvictionsSize++
			c.mu.Unlock()
		}
	} else {
		c.addSize(-sh.entries[ks].sizeBytes)
	}

	sh.entries[ks] = &item{key: key, entry: entry, sizeBytes: size}
	c.addSize(size)
	return nil
}

// pickVictim scans the shard for the lowest-estimated-frequency entry. This
// is a bounded linear scan over one shard, not the whole cache.
func (c *Cache) pickVictim(sh *shard) (string, *item) {
	var victimKey string
	var victim *item
	var lowest uint8 = 255
	for k, it := range sh.entries {
		f := c.sketch.estimate(k)
		if victim == nil || f < lowest {
			victimKey, victim, lowest = k, it, f
		}
	}
	return victimKey, victim
}

func (c *Cache) currentSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sizeBytes
}

func (c *Cache) addSize(delta int64) {
	c.mu.Lock()
	c.sizeBytes += delta
	c.stats.SizeBytes = c.sizeBytes
	c.mu.Unlock()
}

func (c *Cache) Delete(_ context.Context, key cache.Key) (bool, error) {
	ks := key.String()
	sh := c.shardFor(ks)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	it, ok := sh.entries[ks]
	if !ok {
		return false, nil
	}
	delete(sh.entries, ks)
	c.addSize(-it.sizeBytes)
	return true, nil
}

func (c *Cache) Clear(_ context.Context, bucket string) error {
	for _, sh := range c.shards {
		sh.mu.Lock()
		for k, it := range sh.entries {
			if bucket == "" || it.key.Bucket == bucket {
				delete(sh.entries, k)
				c.addSize(-it.sizeBytes)
			}
		}
		sh.mu.Unlock()
	}
	return nil
}

func (c *Cache) Stats() cache.Stats {
	// Shard locks are taken first, and c.mu is never held across one, to
	// match Set's acquisition order (shard lock, then c.mu via
	// addSize/currentSize) and avoid a lock-ordering deadlock between a
	// concurrent Set and Stats.
	var items int64
	for _, sh := range c.shards {
		sh.mu.Lock()
		items += int64(len(sh.entries))
		sh.mu.Unlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.stats
	snap.Layer = cache.LayerMemory
	snap.ItemCount = items
	snap.ByBucket = make(map[string]*cache.BucketStats, len(c.statsByBk))
	for k, v := range c.statsByBk {
		cp := *v
		snap.ByBucket[k] = &cp
	}
	return snap
}

// StartReaper runs periodic TTL maintenance until ctx is cancelled,
// sweeping expired entries so memory is reclaimed even for cold keys that
// are never looked up again.
func (c *Cache) StartReaper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.reapExpired()
			}
		}
	}()
}

func (c *Cache) reapExpired() {
	now := time.Now()
	for _, sh := range c.shards {
		sh.mu.Lock()
		for k, it := range sh.entries {
			if it.entry.Expired(now) {
				delete(sh.entries, k)
				c.addSize(-it.sizeBytes)
				c.mu.Lock()
				c.stats.Evictions++
				c.stats.EvictionsExpired++
				bs := c.bucketStats(it.key.Bucket)
				bs.Evictions++
				bs.EvictionsExpired++
				c.mu.Unlock()
				log.Debug("memory cache reaped expired entry", log.Pairs{"key": k})
			}
		}
		sh.mu.Unlock()
	}
}

func fnv32(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
