// Package disk implements the L2 tiered-cache layer: a content-addressed
// file store with a persistent JSON index and LRU eviction, plus two
// alternate single-process KV backends (bbolt, badger) behind the same
// cache.Cache interface for deployments that prefer an embedded database
// over loose files.
package disk

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/yatagarasu/yatagarasu/internal/apierr"
	"github.com/yatagarasu/yatagarasu/internal/cache"
	"github.com/yatagarasu/yatagarasu/internal/log"
)

// FileCache is the content-addressed files backend described in spec §4.5:
//
//	<dir>/index.json
//	<dir>/entries/<sha256(key)>.data
//	<dir>/entries/<sha256(key)>.meta
type FileCache struct {
	dir          string
	entriesDir   string
	maxSize      int64
	lowWaterMark int64

	mu        sync.RWMutex
	index     map[string]*indexRecord // keyed by CacheKey.String()
	totalSize int64
	stats     cache.Stats
	statsByBk map[string]*cache.BucketStats
}

type indexRecord struct {
	Bucket    string `json:"bucket"`
	ObjectKey string `json:"object_key"`
	ETag      string `json:"etag"`
	Hash      string `json:"hash"`
	*cache.EntryMetadata
}

func (r *indexRecord) key() cache.Key {
	return cache.Key{Bucket: r.Bucket, ObjectKey: r.ObjectKey, ETag: r.ETag}
}

// New constructs a FileCache rooted at dir, running startup repair
// (orphan cleanup, expired-entry eviction, size-counter recomputation)
// before returning.
func New(dir string, maxSize, lowWaterMark int64) (*FileCache, error) {
	entriesDir := filepath.Join(dir, "entries")
	if err := os.MkdirAll(entriesDir, 0o755); err != nil {
		return nil, fmt.Errorf("disk cache: creating entries dir: %w", err)
	}
	c := &FileCache{
		dir:          dir,
		entriesDir:   entriesDir,
		maxSize:      maxSize,
		lowWaterMark: lowWaterMark,
		index:        make(map[string]*indexRecord),
		statsByBk:    make(map[string]*cache.BucketStats),
	}
	if err := c.repair(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *FileCache) Name() string { return cache.LayerDisk }

func (c *FileCache) indexPath() string { return filepath.Join(c.dir, "index.json") }

func (c *FileCache) dataPath(hash string) string { return filepath.Join(c.entriesDir, hash+".data") }
func (c *FileCache) metaPath(hash string) string { return filepath.Join(c.entriesDir, hash+".meta") }

// repair loads the index (starting empty and rebuilding from sidecars if the
// JSON is corrupt), scans entries/, removes orphaned files and dangling
// index entries, drops expired entries, deletes leftover .tmp files, and
// recomputes the total-size counter. Spec §4.5 "Startup repair".
func (c *FileCache) repair() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	loaded, err := c.loadIndexLocked()
	if err != nil {
		log.Warn("disk cache index corrupt, rebuilding from sidecars", log.Pairs{"error": err.Error()})
		loaded = nil
	}
	if loaded != nil {
		c.index = loaded
	}

	entries, err := os.ReadDir(c.entriesDir)
	if err != nil {
		return fmt.Errorf("disk cache: reading entries dir: %w", err)
	}

	haveData := make(map[string]bool)
	for _, de := range entries {
		name := de.Name()
		switch {
		case filepath.Ext(name) == ".tmp":
			_ = os.Remove(filepath.Join(c.entriesDir, name))
		case filepath.Ext(name) == ".data":
			haveData[name[:len(name)-len(".data")]] = true
		}
	}

	now := time.Now()
	rebuilt := loaded == nil
	if rebuilt {
		c.index = make(map[string]*indexRecord)
		for hash := range haveData {
			meta, err := c.readMeta(hash)
			if err != nil {
				_ = os.Remove(c.dataPath(hash))
				continue
			}
			rec := &indexRecord{Hash: hash, EntryMetadata: meta}
			c.index[hash] = rec // bucket/object_key unknown on rebuild; hash-keyed only
		}
	}

	var total int64
	for ks, rec := range c.index {
		if !haveData[rec.Hash] {
			delete(c.index, ks)
			continue
		}
		if rec.Expired(now) {
			delete(c.index, ks)
			_ = os.Remove(c.dataPath(rec.Hash))
			_ = os.Remove(c.metaPath(rec.Hash))
			continue
		}
		total += rec.SizeBytes
	}
	c.totalSize = total
	c.stats.SizeBytes = total
	c.stats.ItemCount = int64(len(c.index))

	return c.persistIndexLocked()
}

func (c *FileCache) readMeta(hash string) (*cache.EntryMetadata, error) {
	b, err := os.ReadFile(c.metaPath(hash))
	if err != nil {
		return nil, err
	}
	m := &cache.EntryMetadata{}
	if err := json.Unmarshal(b, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *FileCache) loadIndexLocked() (map[string]*indexRecord, error) {
	b, err := os.ReadFile(c.indexPath())
	if os.IsNotExist(err) {
		return make(map[string]*indexRecord), nil
	}
	if err != nil {
		return nil, err
	}
	var records []*indexRecord
	if err := json.Unmarshal(b, &records); err != nil {
		return nil, err
	}
	m := make(map[string]*indexRecord, len(records))
	for _, r := range records {
		m[r.key().String()] = r
	}
	return m, nil
}

// persistIndexLocked writes index.json atomically (tmp then rename). Caller
// must hold c.mu.
func (c *FileCache) persistIndexLocked() error {
	records := make([]*indexRecord, 0, len(c.index))
	for _, r := range c.index {
		records = append(records, r)
	}
	b, err := json.Marshal(records)
	if err != nil {
		return err
	}
	tmp := c.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.indexPath())
}

func (c *FileCache) bucketStatsLocked(bucket string) *cache.BucketStats {
	bs, ok := c.statsByBk[bucket]
	if !ok {
		bs = &cache.BucketStats{}
		c.statsByBk[bucket] = bs
	}
	return bs
}

// Get consults the index; on hit it loads data and metadata from disk and
// touches last_accessed_at.
func (c *FileCache) Get(_ context.Context, key cache.Key) (*cache.Entry, bool) {
	ks := key.String()

	c.mu.Lock()
	rec, ok := c.index[ks]
	if ok && rec.Expired(time.Now()) {
		c.removeLocked(ks, rec)
		ok = false
	}
	bs := c.bucketStatsLocked(key.Bucket)
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

	data, err := os.ReadFile(c.dataPath(rec.Hash))
	if err != nil {
		log.Warn("disk cache: data file missing for indexed entry", log.Pairs{"key": ks, "error": err.Error()})
		return nil, false
	}
	meta, err := c.readMeta(rec.Hash)
	if err != nil {
		log.Warn("disk cache: metadata file unreadable for indexed entry", log.Pairs{"key": ks, "error": err.Error()})
		return nil, false
	}

	now := time.Now()
	c.mu.Lock()
	rec.LastAccessedAt = now
	_ = c.persistIndexLocked()
	c.mu.Unlock()

	return &cache.Entry{
		Data:           data,
		ContentType:    meta.ContentType,
		ContentLength:  meta.ContentLength,
		ETag:           meta.ETag,
		CreatedAt:      meta.CreatedAt,
		ExpiresAt:      meta.ExpiresAt,
		LastAccessedAt: now,
	}, true
}

// Set writes .data.tmp/.meta.tmp, fsyncs, and renames both into place
// (rename is the commit point), then runs LRU eviction if over capacity.
func (c *FileCache) Set(_ context.Context, key cache.Key, entry *cache.Entry) error {
	if entry.SizeBytes() > c.maxSize {
		return apierr.New(apierr.StorageFull, "entry exceeds disk cache capacity")
	}

	hash := key.Hash()
	if err := writeAtomic(c.dataPath(hash), entry.Data); err != nil {
		return apierr.Wrap(apierr.IoError, "writing cache data file", err)
	}
	meta := entry.Metadata()
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return apierr.Wrap(apierr.SerializationError, "encoding cache metadata", err)
	}
	if err := writeAtomic(c.metaPath(hash), metaJSON); err != nil {
		_ = os.Remove(c.dataPath(hash))
		return apierr.Wrap(apierr.IoError, "writing cache metadata file", err)
	}

	ks := key.String()
	c.mu.Lock()
	if old, existed := c.index[ks]; existed {
		c.totalSize -= old.SizeBytes
	}
	rec := &indexRecord{Bucket: key.Bucket, ObjectKey: key.ObjectKey, ETag: key.ETag, Hash: hash, EntryMetadata: meta}
	c.index[ks] = rec
	c.totalSize += meta.SizeBytes
	c.stats.SizeBytes = c.totalSize
	c.stats.ItemCount = int64(len(c.index))
	_ = c.persistIndexLocked()
	c.mu.Unlock()

	c.evictIfOverCapacity()
	return nil
}

// writeAtomic writes data to a .tmp sibling of path, fsyncs it, then renames
// it into place; rename is the commit point per spec §4.5.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (c *FileCache) evictIfOverCapacity() {
	c.mu.Lock()
	if c.totalSize <= c.maxSize {
		c.mu.Unlock()
		return
	}
	type victim struct {
		ks  string
		rec *indexRecord
	}
	victims := make([]victim, 0, len(c.index))
	for ks, rec := range c.index {
		victims = append(victims, victim{ks, rec})
	}
	sort.Slice(victims, func(i, j int) bool {
		return victims[i].rec.LastAccessedAt.Before(victims[j].rec.LastAccessedAt)
	})

	for _, v := range victims {
		if c.totalSize <= c.lowWaterMark {
			break
		}
		c.removeLocked(v.ks, v.rec)
		c.stats.Evictions++
		c.stats.EvictionsSize++
		bs := c.bucketStatsLocked(v.rec.Bucket)
		bs.Evictions++
		bs.EvictionsSize++
	}
	_ = c.persistIndexLocked()
	c.mu.Unlock()
}

// removeLocked deletes the sidecar files and index entry for rec. Caller
// must hold c.mu.
func (c *FileCache) removeLocked(ks string, rec *indexRecord) {
	_ = os.Remove(c.dataPath(rec.Hash))
	_ = os.Remove(c.metaPath(rec.Hash))
	delete(c.index, ks)
	c.totalSize -= rec.SizeBytes
	c.stats.SizeBytes = c.totalSize
	c.stats.ItemCount = int64(len(c.index))
}

func (c *FileCache) Delete(_ context.Context, key cache.Key) (bool, error) {
	ks := key.String()
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.index[ks]
	if !ok {
		return false, nil
	}
	c.removeLocked(ks, rec)
	return true, c.persistIndexLocked()
}

func (c *FileCache) Clear(_ context.Context, bucket string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ks, rec := range c.index {
		if bucket == "" || rec.Bucket == bucket {
			c.removeLocked(ks, rec)
		}
	}
	return c.persistIndexLocked()
}

func (c *FileCache) Stats() cache.Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := c.stats
	snap.Layer = cache.LayerDisk
	snap.ByBucket = make(map[string]*cache.BucketStats, len(c.statsByBk))
	for k, v := range c.statsByBk {
		cp := *v
		snap.ByBucket[k] = &cp
	}
	return snap
}
