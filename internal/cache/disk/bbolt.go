package disk

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "github.com/coreos/bbolt"

	"github.com/yatagarasu/yatagarasu/internal/apierr"
	"github.com/yatagarasu/yatagarasu/internal/cache"
)

var bucketName = []byte("yatagarasu")

// BBoltCache is an alternate L2 backend over a single bbolt file, for
// deployments that prefer one embedded database file over loose
// content-addressed files.
type BBoltCache struct {
	db      *bolt.DB
	maxSize int64

	mu        sync.Mutex
	stats     cache.Stats
	statsByBk map[string]*cache.BucketStats
}

type bboltRecord struct {
	Bucket string `json:"bucket"`
	cache.Entry
}

// NewBBolt opens (creating if absent) a bbolt database at path.
func NewBBolt(path string, maxSize int64) (*BBoltCache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bbolt cache: opening %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("bbolt cache: creating bucket: %w", err)
	}
	return &BBoltCache{db: db, maxSize: maxSize, statsByBk: make(map[string]*cache.BucketStats)}, nil
}

func (c *BBoltCache) Name() string { return "disk-bbolt" }

func (c *BBoltCache) bucketStats(bucket string) *cache.BucketStats {
	bs, ok := c.statsByBk[bucket]
	if !ok {
		bs = &cache.BucketStats{}
		c.statsByBk[bucket] = bs
	}
	return bs
}

func (c *BBoltCache) Get(_ context.Context, key cache.Key) (*cache.Entry, bool) {
	ks := key.String()
	var rec *bboltRecord
	_ = c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName).Get([]byte(ks))
		if b == nil {
			return nil
		}
		r := &bboltRecord{}
		if err := json.Unmarshal(b, r); err != nil {
			return nil
		}
		rec = r
		return nil
	})

	c.mu.Lock()
	bs := c.bucketStats(key.Bucket)
	found := rec != nil && !rec.Entry.Expired(time.Now())
	if found {
		c.stats.Hits++
		bs.Hits++
	} else {
		c.stats.Misses++
		bs.Misses++
	}
	c.mu.Unlock()

	if !found {
		if rec != nil {
			_, _ = c.Delete(context.Background(), key)
		}
		return nil, false
	}
	e := rec.Entry
	e.LastAccessedAt = time.Now()
	return &e, true
}

func (c *BBoltCache) Set(_ context.Context, key cache.Key, entry *cache.Entry) error {
	if entry.SizeBytes() > c.maxSize {
		return apierr.New(apierr.StorageFull, "entry exceeds bbolt cache capacity")
	}
	rec := &bboltRecord{Bucket: key.Bucket, Entry: *entry}
	b, err := json.Marshal(rec)
	if err != nil {
		return apierr.Wrap(apierr.SerializationError, "encoding bbolt record", err)
	}
	err = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key.String()), b)
	})
	if err != nil {
		return apierr.Wrap(apierr.IoError, "writing bbolt record", err)
	}
	return nil
}

func (c *BBoltCache) Delete(_ context.Context, key cache.Key) (bool, error) {
	ks := []byte(key.String())
	var existed bool
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		existed = b.Get(ks) != nil
		return b.Delete(ks)
	})
	return existed, err
}

func (c *BBoltCache) Clear(_ context.Context, bucket string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		cur := b.Cursor()
		var toDelete [][]byte
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			if bucket == "" {
				toDelete = append(toDelete, append([]byte(nil), k...))
				continue
			}
			r := &bboltRecord{}
			if json.Unmarshal(v, r) == nil && r.Bucket == bucket {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *BBoltCache) Stats() cache.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.stats
	snap.Layer = "disk-bbolt"
	snap.ByBucket = make(map[string]*cache.BucketStats, len(c.statsByBk))
	for k, v := range c.statsByBk {
		cp := *v
		snap.ByBucket[k] = &cp
	}
	return snap
}

// Close releases the underlying bbolt file handle.
func (c *BBoltCache) Close() error { return c.db.Close() }
