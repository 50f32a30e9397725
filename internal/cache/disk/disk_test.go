package disk

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/yatagarasu/yatagarasu/internal/cache"
)

func entry(data string) *cache.Entry {
	now := time.Now()
	return &cache.Entry{
		Data:           []byte(data),
		ContentLength:  int64(len(data)),
		ContentType:    "text/plain",
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(time.Hour),
	}
}

func TestFileCacheSetGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 1<<20, 1<<19)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	key := cache.Key{Bucket: "b", ObjectKey: "o"}

	if err := c.Set(ctx, key, entry("hello")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := c.Get(ctx, key)
	if !ok {
		t.Fatal("expected hit")
	}
	if string(got.Data) != "hello" {
		t.Errorf("data = %q, want hello", got.Data)
	}
}

func TestFileCacheSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	c1, err := New(dir, 1<<20, 1<<19)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	key := cache.Key{Bucket: "b", ObjectKey: "o"}
	if err := c1.Set(ctx, key, entry("persisted")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	c2, err := New(dir, 1<<20, 1<<19)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	got, ok := c2.Get(ctx, key)
	if !ok {
		t.Fatal("expected hit after reopen")
	}
	if string(got.Data) != "persisted" {
		t.Errorf("data = %q, want persisted", got.Data)
	}
}

func TestFileCacheEvictsUnderCapacityPressure(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 250, 100)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	_ = c.Set(ctx, cache.Key{Bucket: "b", ObjectKey: "o1"}, entry(strings.Repeat("a", 100)))
	time.Sleep(2 * time.Millisecond)
	_ = c.Set(ctx, cache.Key{Bucket: "b", ObjectKey: "o2"}, entry(strings.Repeat("b", 100)))
	time.Sleep(2 * time.Millisecond)
	_ = c.Set(ctx, cache.Key{Bucket: "b", ObjectKey: "o3"}, entry(strings.Repeat("c", 100)))

	if _, ok := c.Get(ctx, cache.Key{Bucket: "b", ObjectKey: "o1"}); ok {
		t.Error("expected oldest entry to be evicted under capacity pressure")
	}
	if _, ok := c.Get(ctx, cache.Key{Bucket: "b", ObjectKey: "o3"}); !ok {
		t.Error("expected newest entry to survive eviction")
	}
}

func TestFileCacheClearScopedToBucket(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 1<<20, 1<<19)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	_ = c.Set(ctx, cache.Key{Bucket: "a", ObjectKey: "x"}, entry("1"))
	_ = c.Set(ctx, cache.Key{Bucket: "b", ObjectKey: "y"}, entry("2"))

	if err := c.Clear(ctx, "a"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok := c.Get(ctx, cache.Key{Bucket: "a", ObjectKey: "x"}); ok {
		t.Error("expected bucket a entry to be cleared")
	}
	if _, ok := c.Get(ctx, cache.Key{Bucket: "b", ObjectKey: "y"}); !ok {
		t.Error("expected bucket b entry to survive scoped clear")
	}
}
