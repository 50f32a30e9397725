package cache

import "context"

// Layer names used in config and stats.
const (
	LayerMemory = "memory"
	LayerDisk   = "disk"
	LayerRedis  = "redis"
)

// Cache is the capability set every layer and the tiered composer implement,
// per spec §9's "tagged composition, not inheritance" note: a layer is a
// value satisfying this interface, not a base class.
type Cache interface {
	// Get returns the entry for key, or (nil, false) on miss (including
	// expired entries and deserialization failures, which are logged and
	// treated as misses, never surfaced to the caller as errors).
	Get(ctx context.Context, key Key) (*Entry, bool)
	// Set stores entry under key. A zero TTL in the entry's ExpiresAt means
	// "never expire". Returns StorageFull (via apierr) if the entry exceeds
	// a layer-specific size limit; callers treat that as "skip this layer".
	Set(ctx context.Context, key Key, entry *Entry) error
	// Delete removes key, reporting whether it was present.
	Delete(ctx context.Context, key Key) (bool, error)
	// Clear removes every entry, optionally scoped to one bucket when
	// bucket != "".
	Clear(ctx context.Context, bucket string) error
	// Stats returns a snapshot of this layer's counters.
	Stats() Stats
	// Name identifies the layer for logs, metrics, and admin stats output.
	Name() string
}

// Stats is a per-layer (and, aggregated, whole-tier) counter snapshot.
// Evictions is the total of EvictionsSize (capacity pressure) and
// EvictionsExpired (TTL reaping); layers that can't tell the two apart
// (e.g. a backend with its own native TTL sweep) may leave EvictionsExpired
// at zero and report everything under EvictionsSize.
type Stats struct {
	Layer            string                  `json:"layer"`
	Hits             int64                   `json:"hits"`
	Misses           int64                   `json:"misses"`
	Evictions        int64                   `json:"evictions"`
	EvictionsSize    int64                   `json:"evictions_size"`
	EvictionsExpired int64                   `json:"evictions_expired"`
	SizeBytes        int64                   `json:"size_bytes"`
	ItemCount        int64                   `json:"item_count"`
	ByBucket         map[string]*BucketStats `json:"by_bucket,omitempty"`
}

// BucketStats is the per-bucket scoping supplement (SPEC_FULL.md §4.15).
type BucketStats struct {
	Hits             int64 `json:"hits"`
	Misses           int64 `json:"misses"`
	Evictions        int64 `json:"evictions"`
	EvictionsSize    int64 `json:"evictions_size"`
	EvictionsExpired int64 `json:"evictions_expired"`
}

// HitRate returns hits / (hits + misses), or 0 when there have been no
// lookups yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
