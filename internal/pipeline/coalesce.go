package pipeline

import (
	"context"
	"sync"
)

// coalescer implements the single-flight request coalescing named in
// SPEC_FULL.md §4.16: concurrent cache misses for the same key should not
// all stampede the same replica. Unlike golang.org/x/sync/singleflight,
// followers here do not share the leader's exact return value — they wait
// for the leader to finish, then re-run CacheLookup themselves. That keeps
// the leader's response streaming directly to its own client untouched by
// follower bookkeeping, at the cost of one extra cache probe per follower.
type coalescer struct {
	mu    sync.Mutex
	calls map[string]*inflightCall
}

type inflightCall struct {
	done chan struct{}
}

func newCoalescer() *coalescer {
	return &coalescer{calls: make(map[string]*inflightCall)}
}

// acquire reports whether the caller is the leader for key. A leader must
// call the returned release func exactly once when it finishes (whether or
// not it actually populated the cache). A follower receives a wait func
// that blocks until the leader releases or ctx is done.
func (c *coalescer) acquire(key string) (leader bool, release func(), wait func(ctx context.Context)) {
	c.mu.Lock()
	if existing, ok := c.calls[key]; ok {
		c.mu.Unlock()
		return false, nil, func(ctx context.Context) {
			select {
			case <-existing.done:
			case <-ctx.Done():
			}
		}
	}
	call := &inflightCall{done: make(chan struct{})}
	c.calls[key] = call
	c.mu.Unlock()

	var once sync.Once
	release = func() {
		once.Do(func() {
			c.mu.Lock()
			if c.calls[key] == call {
				delete(c.calls, key)
			}
			c.mu.Unlock()
			close(call.done)
		})
	}
	return true, release, nil
}
