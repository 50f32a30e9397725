package admin

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/yatagarasu/yatagarasu/internal/cache"
	"github.com/yatagarasu/yatagarasu/internal/config"
)

type fakePipeline struct {
	buckets       []string
	purged        map[string]string
	purgeErr      error
	rebuildCalls  int
	replicaStates map[string]map[string]string
}

func (f *fakePipeline) BucketNames() []string { return f.buckets }

func (f *fakePipeline) CacheLayers(bucket string) ([]cache.Stats, cache.Stats, bool) {
	for _, b := range f.buckets {
		if b == bucket {
			return []cache.Stats{{Layer: "memory", Hits: 1}}, cache.Stats{Hits: 1}, true
		}
	}
	return nil, cache.Stats{}, false
}

func (f *fakePipeline) PurgeCache(bucket, path string) error {
	if f.purgeErr != nil {
		return f.purgeErr
	}
	if f.purged == nil {
		f.purged = make(map[string]string)
	}
	f.purged[bucket] = path
	return nil
}

func (f *fakePipeline) Rebuild(cfg *config.GatewayConfig) error {
	f.rebuildCalls++
	return nil
}

func (f *fakePipeline) ReplicaStates() map[string]map[string]string {
	if f.replicaStates != nil {
		return f.replicaStates
	}
	out := make(map[string]map[string]string, len(f.buckets))
	for _, b := range f.buckets {
		out[b] = map[string]string{"primary": "closed"}
	}
	return out
}

func newTestServer(t *testing.T, p PipelineHandle) *Server {
	t.Helper()
	s, err := New(p, nil, "/nonexistent.yaml", func() bool { return true })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestHealthAlwaysOK(t *testing.T) {
	s := newTestServer(t, &fakePipeline{})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestReadyReflectsReadyFunc(t *testing.T) {
	s, err := New(&fakePipeline{}, nil, "/nonexistent.yaml", func() bool { return false })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestReadyReflectsOpenBreakerAsUnavailable(t *testing.T) {
	p := &fakePipeline{
		buckets:       []string{"docs"},
		replicaStates: map[string]map[string]string{"docs": {"primary": "open"}},
	}
	s := newTestServer(t, p)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when a bucket's only replica is open", rec.Code)
	}
}

func TestReadyOKWhenAtLeastOneReplicaNotOpen(t *testing.T) {
	p := &fakePipeline{
		buckets:       []string{"docs"},
		replicaStates: map[string]map[string]string{"docs": {"primary": "open", "secondary": "closed"}},
	}
	s := newTestServer(t, p)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 when one replica is still closed", rec.Code)
	}
}

func TestPurgeBucketDelegatesToPipeline(t *testing.T) {
	p := &fakePipeline{buckets: []string{"docs"}}
	s := newTestServer(t, p)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/cache/purge/docs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if path, ok := p.purged["docs"]; !ok || path != "" {
		t.Fatalf("expected docs to be purged whole-bucket, got %v", p.purged)
	}
}

func TestPurgeUnknownBucketReturnsNotFound(t *testing.T) {
	p := &fakePipeline{purgeErr: errors.New("unknown bucket")}
	s := newTestServer(t, p)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/cache/purge/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestStatsBucketReturnsJSON(t *testing.T) {
	p := &fakePipeline{buckets: []string{"docs"}}
	s := newTestServer(t, p)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/cache/stats/docs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}
}

func TestReloadLoadFailureSkipsRebuild(t *testing.T) {
	// Reload will fail to load a nonexistent config file; this test only
	// checks the admin-gating and routing wiring, not a real reload.
	p := &fakePipeline{}
	s := newTestServer(t, p)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/reload", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for a missing config path", rec.Code)
	}
	if p.rebuildCalls != 0 {
		t.Fatal("Rebuild should not be called when Load fails")
	}
}
