// Package tiered composes L1/L2/L3 cache.Cache layers in declared order,
// per spec §4.7 and the "tagged composition, not inheritance" note in §9:
// this is a value holding an ordered slice of layers behind the common
// capability set, not a base class any layer extends.
package tiered

import (
	"context"

	"github.com/yatagarasu/yatagarasu/internal/cache"
	"github.com/yatagarasu/yatagarasu/internal/log"
)

// Cache composes layers in probe order: Get tries them in order and, on the
// first hit, promotes into every faster layer asynchronously; Set writes
// through all of them.
type Cache struct {
	layers []cache.Cache
}

// New composes layers in the given probe order (fastest first).
func New(layers ...cache.Cache) *Cache {
	return &Cache{layers: layers}
}

// Get probes layers in order. On a hit at layer i > 0, it promotes the
// entry into layers 0..i-1 asynchronously — promotion latency must never
// block the response (spec §4.7 invariant).
func (c *Cache) Get(ctx context.Context, key cache.Key) (*cache.Entry, string, bool) {
	for i, layer := range c.layers {
		entry, ok := layer.Get(ctx, key)
		if !ok {
			continue
		}
		if i > 0 {
			c.promote(key, entry, c.layers[:i])
		}
		return entry, layer.Name(), true
	}
	return nil, "", false
}

func (c *Cache) promote(key cache.Key, entry *cache.Entry, faster []cache.Cache) {
	if len(faster) == 0 {
		return
	}
	go func() {
		// Detached from the request's context deliberately: the request may
		// already be finishing a response by the time promotion runs.
		ctx := context.Background()
		for _, layer := range faster {
			if err := layer.Set(ctx, key, entry); err != nil {
				log.Debug("cache promotion failed", log.Pairs{
					"layer": layer.Name(), "key": key.String(), "error": err.Error(),
				})
			}
		}
	}()
}

// Set writes through to every layer. Per-layer errors are logged but do not
// fail the operation as long as the fastest configured layer succeeded.
func (c *Cache) Set(ctx context.Context, key cache.Key, entry *cache.Entry) error {
	if len(c.layers) == 0 {
		return nil
	}
	fastErr := c.layers[0].Set(ctx, key, entry)
	if fastErr != nil {
		log.Warn("cache set failed on fastest layer", log.Pairs{
			"layer": c.layers[0].Name(), "key": key.String(), "error": fastErr.Error(),
		})
	}
	for _, layer := range c.layers[1:] {
		if err := layer.Set(ctx, key, entry); err != nil {
			log.Debug("cache set failed on layer", log.Pairs{
				"layer": layer.Name(), "key": key.String(), "error": err.Error(),
			})
		}
	}
	return fastErr
}

// Delete fans out to all layers, returning true if any layer had the key.
func (c *Cache) Delete(ctx context.Context, key cache.Key) (bool, error) {
	var any bool
	var firstErr error
	for _, layer := range c.layers {
		ok, err := layer.Delete(ctx, key)
		any = any || ok
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return any, firstErr
}

// Clear fans out to all layers, aggregating errors.
func (c *Cache) Clear(ctx context.Context, bucket string) error {
	var firstErr error
	for _, layer := range c.layers {
		if err := layer.Clear(ctx, bucket); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stats returns per-layer snapshots plus an aggregate across all layers.
func (c *Cache) Stats() (perLayer []cache.Stats, aggregate cache.Stats) {
	aggregate.ByBucket = make(map[string]*cache.BucketStats)
	for _, layer := range c.layers {
		s := layer.Stats()
		perLayer = append(perLayer, s)
		aggregate.Hits += s.Hits
		aggregate.Misses += s.Misses
		aggregate.Evictions += s.Evictions
		aggregate.EvictionsSize += s.EvictionsSize
		aggregate.EvictionsExpired += s.EvictionsExpired
		aggregate.SizeBytes += s.SizeBytes
		aggregate.ItemCount += s.ItemCount
		for bucket, bs := range s.ByBucket {
			agg, ok := aggregate.ByBucket[bucket]
			if !ok {
				agg = &cache.BucketStats{}
				aggregate.ByBucket[bucket] = agg
			}
			agg.Hits += bs.Hits
			agg.Misses += bs.Misses
			agg.Evictions += bs.Evictions
			agg.EvictionsSize += bs.EvictionsSize
			agg.EvictionsExpired += bs.EvictionsExpired
		}
	}
	return perLayer, aggregate
}

// Layers exposes the underlying ordered layer list, used by admin handlers
// that report per-layer names alongside stats.
func (c *Cache) Layers() []cache.Cache { return c.layers }
