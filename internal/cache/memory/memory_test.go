package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/yatagarasu/yatagarasu/internal/apierr"
	"github.com/yatagarasu/yatagarasu/internal/cache"
)

func entryOfSize(n int) *cache.Entry {
	now := time.Now()
	data := make([]byte, n)
	return &cache.Entry{
		Data:           data,
		ContentLength:  int64(n),
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(time.Hour),
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	c := New(1<<20, 4)
	ctx := context.Background()
	key := cache.Key{Bucket: "b", ObjectKey: "o"}
	e := entryOfSize(10)

	if err := c.Set(ctx, key, e); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := c.Get(ctx, key)
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if len(got.Data) != 10 {
		t.Errorf("data length = %d, want 10", len(got.Data))
	}
}

func TestGetMissIncrementsCounters(t *testing.T) {
	c := New(1<<20, 4)
	ctx := context.Background()
	_, ok := c.Get(ctx, cache.Key{Bucket: "b", ObjectKey: "missing"})
	if ok {
		t.Fatal("expected miss")
	}
	if c.Stats().Misses != 1 {
		t.Errorf("misses = %d, want 1", c.Stats().Misses)
	}
}

func TestSetRejectsOversizedEntry(t *testing.T) {
	c := New(100, 4)
	ctx := context.Background()
	err := c.Set(ctx, cache.Key{Bucket: "b", ObjectKey: "big"}, entryOfSize(1000))
	if err == nil {
		t.Fatal("expected StorageFull error")
	}
	ae, ok := err.(*apierr.Error)
	if !ok || ae.Kind != apierr.StorageFull {
		t.Errorf("expected apierr.StorageFull, got %v", err)
	}
}

func TestExpiredEntryIsTreatedAsMiss(t *testing.T) {
	c := New(1<<20, 4)
	ctx := context.Background()
	key := cache.Key{Bucket: "b", ObjectKey: "o"}
	e := entryOfSize(5)
	e.ExpiresAt = time.Now().Add(-time.Second)

	_ = c.Set(ctx, key, e)
	_, ok := c.Get(ctx, key)
	if ok {
		t.Fatal("expected expired entry to behave as a miss")
	}
}

func TestDeleteAndClear(t *testing.T) {
	c := New(1<<20, 4)
	ctx := context.Background()
	k1 := cache.Key{Bucket: "b1", ObjectKey: "o1"}
	k2 := cache.Key{Bucket: "b2", ObjectKey: "o2"}
	_ = c.Set(ctx, k1, entryOfSize(5))
	_ = c.Set(ctx, k2, entryOfSize(5))

	ok, _ := c.Delete(ctx, k1)
	if !ok {
		t.Fatal("expected Delete to report present")
	}
	if _, ok := c.Get(ctx, k1); ok {
		t.Fatal("expected miss after Delete")
	}

	_ = c.Clear(ctx, "")
	if _, ok := c.Get(ctx, k2); ok {
		t.Fatal("expected miss after Clear")
	}
}

// TestConcurrentSetAndStatsDoNotDeadlock guards against the shard-lock /
// cache-lock acquisition order in Set and Stats diverging again: Set takes a
// shard lock then c.mu, so Stats must never hold c.mu across a shard lock
// acquisition either.
func TestConcurrentSetAndStatsDoNotDeadlock(t *testing.T) {
	c := New(1<<20, 8)
	ctx := context.Background()

	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			key := cache.Key{Bucket: "b", ObjectKey: fmt.Sprintf("o%d", i%32)}
			_ = c.Set(ctx, key, entryOfSize(10))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = c.Stats()
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Set and Stats deadlocked")
	}
}
