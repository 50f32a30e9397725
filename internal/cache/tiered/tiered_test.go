package tiered

import (
	"context"
	"testing"
	"time"

	"github.com/yatagarasu/yatagarasu/internal/cache"
	"github.com/yatagarasu/yatagarasu/internal/cache/disk"
	"github.com/yatagarasu/yatagarasu/internal/cache/memory"
)

func sampleEntry() *cache.Entry {
	now := time.Now()
	return &cache.Entry{
		Data:           []byte("tiered-payload"),
		ContentLength:  14,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(time.Hour),
	}
}

func TestGetPromotesFromSlowerToFasterLayer(t *testing.T) {
	l1 := memory.New(1<<20, 4)
	l2dir := t.TempDir()
	l2, err := disk.New(l2dir, 1<<20, 1<<19)
	if err != nil {
		t.Fatalf("disk.New: %v", err)
	}
	tc := New(l1, l2)

	ctx := context.Background()
	key := cache.Key{Bucket: "b", ObjectKey: "o"}
	if err := l2.Set(ctx, key, sampleEntry()); err != nil {
		t.Fatalf("seeding L2: %v", err)
	}

	_, layer, ok := tc.Get(ctx, key)
	if !ok || layer != "disk" {
		t.Fatalf("expected L2 hit, got layer=%q ok=%v", layer, ok)
	}

	// promotion runs in a goroutine; poll briefly instead of blocking the request.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := l1.Get(ctx, key); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("expected entry to be promoted into L1 after an L2 hit")
}

func TestSetWritesThroughAllLayers(t *testing.T) {
	l1 := memory.New(1<<20, 4)
	l2dir := t.TempDir()
	l2, err := disk.New(l2dir, 1<<20, 1<<19)
	if err != nil {
		t.Fatalf("disk.New: %v", err)
	}
	tc := New(l1, l2)

	ctx := context.Background()
	key := cache.Key{Bucket: "b", ObjectKey: "o"}
	if err := tc.Set(ctx, key, sampleEntry()); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, ok := l1.Get(ctx, key); !ok {
		t.Error("expected write-through to L1")
	}
	if _, ok := l2.Get(ctx, key); !ok {
		t.Error("expected write-through to L2")
	}
}

func TestStatsAggregatesAcrossLayers(t *testing.T) {
	l1 := memory.New(1<<20, 4)
	l2dir := t.TempDir()
	l2, err := disk.New(l2dir, 1<<20, 1<<19)
	if err != nil {
		t.Fatalf("disk.New: %v", err)
	}
	tc := New(l1, l2)

	ctx := context.Background()
	tc.Get(ctx, cache.Key{Bucket: "b", ObjectKey: "missing"})

	_, agg := tc.Stats()
	if agg.Misses != 2 {
		t.Errorf("aggregate misses = %d, want 2 (one per layer)", agg.Misses)
	}
}
