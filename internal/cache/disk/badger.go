package disk

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger"

	"github.com/yatagarasu/yatagarasu/internal/apierr"
	"github.com/yatagarasu/yatagarasu/internal/cache"
)

// BadgerCache is an alternate L2 backend over a badger LSM-tree store, for
// deployments with write-heavy cache population patterns where badger's
// log-structured design outperforms the content-addressed files backend.
type BadgerCache struct {
	db      *badger.DB
	maxSize int64

	mu        sync.Mutex
	stats     cache.Stats
	statsByBk map[string]*cache.BucketStats
}

// NewBadger opens (creating if absent) a badger database rooted at dir.
func NewBadger(dir string, maxSize int64) (*BadgerCache, error) {
	opts := badger.DefaultOptions(dir)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger cache: opening %s: %w", dir, err)
	}
	return &BadgerCache{db: db, maxSize: maxSize, statsByBk: make(map[string]*cache.BucketStats)}, nil
}

func (c *BadgerCache) Name() string { return "disk-badger" }

func (c *BadgerCache) bucketStats(bucket string) *cache.BucketStats {
	bs, ok := c.statsByBk[bucket]
	if !ok {
		bs = &cache.BucketStats{}
		c.statsByBk[bucket] = bs
	}
	return bs
}

func (c *BadgerCache) Get(_ context.Context, key cache.Key) (*cache.Entry, bool) {
	ks := []byte(key.String())
	var rec *bboltRecord
	_ = c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(ks)
		if err != nil {
			return nil
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return nil
		}
		r := &bboltRecord{}
		if err := json.Unmarshal(val, r); err != nil {
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

func (c *BadgerCache) Set(_ context.Context, key cache.Key, entry *cache.Entry) error {
	if entry.SizeBytes() > c.maxSize {
		return apierr.New(apierr.StorageFull, "entry exceeds badger cache capacity")
	}
	rec := &bboltRecord{Bucket: key.Bucket, Entry: *entry}
	b, err := json.Marshal(rec)
	if err != nil {
		return apierr.Wrap(apierr.SerializationError, "encoding badger record", err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key.String()), b)
		if !entry.ExpiresAt.IsZero() {
			if ttl := time.Until(entry.ExpiresAt); ttl > 0 {
				e = e.WithTTL(ttl)
			}
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return apierr.Wrap(apierr.IoError, "writing badger record", err)
	}
	return nil
}

func (c *BadgerCache) Delete(_ context.Context, key cache.Key) (bool, error) {
	ks := []byte(key.String())
	existed := false
	err := c.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(ks); err == nil {
			existed = true
		}
		return txn.Delete(ks)
	})
	return existed, err
}

func (c *BadgerCache) Clear(_ context.Context, bucket string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		var toDelete [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if bucket != "" {
				val, err := item.ValueCopy(nil)
				if err != nil {
					continue
				}
				r := &bboltRecord{}
				if json.Unmarshal(val, r) != nil || r.Bucket != bucket {
					continue
				}
			}
			toDelete = append(toDelete, append([]byte(nil), item.Key()...))
		}
		for _, k := range toDelete {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *BadgerCache) Stats() cache.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.stats
	snap.Layer = "disk-badger"
	snap.ByBucket = make(map[string]*cache.BucketStats, len(c.statsByBk))
	for k, v := range c.statsByBk {
		cp := *v
		snap.ByBucket[k] = &cp
	}
	return snap
}

// Close releases the underlying badger file handles.
func (c *BadgerCache) Close() error { return c.db.Close() }
