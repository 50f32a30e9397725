package pipeline

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/yatagarasu/yatagarasu/internal/config"
)

func testConfig(upstream string) *config.GatewayConfig {
	return &config.GatewayConfig{
		Server: &config.ServerConfig{
			StreamBufferBytes:  4096,
			MaxReplicaRetries:  1,
			CorsAllowedOrigins: []string{"https://example.com"},
		},
		Buckets: []*config.BucketConfig{
			{
				Name:       "docs",
				PathPrefix: "/docs",
				Bucket:     "docs-bucket",
				Cache: &config.CacheConfig{
					Layers: []string{"memory"},
					Memory: &config.MemoryCacheConfig{MaxSizeBytes: 1 << 20, ShardCount: 1},
				},
				Replicas: []*config.ReplicaConfig{
					{Name: "primary", Endpoint: upstream, Region: "us-east-1", Priority: 0, TimeoutSecs: 5},
				},
			},
		},
	}
}

func newTestPipeline(t *testing.T, upstream string) *Pipeline {
	t.Helper()
	p, err := New(testConfig(upstream), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestServeHTTPRejectsUnsafeMethod(t *testing.T) {
	p := newTestPipeline(t, "http://127.0.0.1:0")
	req := httptest.NewRequest(http.MethodPost, "/docs/a.txt", nil)
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	if got := rec.Header().Get("Allow"); got != "GET, HEAD, OPTIONS" {
		t.Fatalf("Allow header = %q", got)
	}
}

func TestServeHTTPReturnsNotFoundForUnmatchedPath(t *testing.T) {
	p := newTestPipeline(t, "http://127.0.0.1:0")
	req := httptest.NewRequest(http.MethodGet, "/unknown/a.txt", nil)
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestServeHTTPOptionsReflectsAllowedOrigin(t *testing.T) {
	p := newTestPipeline(t, "http://127.0.0.1:0")
	req := httptest.NewRequest(http.MethodOptions, "/docs/a.txt", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestServeHTTPOptionsOmitsCORSHeadersForDisallowedOrigin(t *testing.T) {
	p := newTestPipeline(t, "http://127.0.0.1:0")
	req := httptest.NewRequest(http.MethodOptions, "/docs/a.txt", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no CORS header for disallowed origin, got %q", got)
	}
}

func TestServeHTTPServesFromUpstreamOnCacheMiss(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello world"))
	}))
	defer upstream.Close()

	p := newTestPipeline(t, upstream.URL)
	req := httptest.NewRequest(http.MethodGet, "/docs/a.txt", nil)
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "hello world" {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("X-Correlation-Id") == "" {
		t.Fatal("expected a correlation id header on every response")
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected a request id header on every response")
	}
}

func TestServeHTTPSecondRequestHitsCache(t *testing.T) {
	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("ETag", `"v1"`)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("cached body"))
	}))
	defer upstream.Close()

	p := newTestPipeline(t, upstream.URL)

	req := httptest.NewRequest(http.MethodGet, "/docs/a.txt", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", rec.Code)
	}

	// Cache population happens on a background goroutine; poll briefly for
	// it to land before asserting the second request is served from cache.
	deadline := time.Now().Add(time.Second)
	for {
		req := httptest.NewRequest(http.MethodGet, "/docs/a.txt", nil)
		rec := httptest.NewRecorder()
		p.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("second request: status = %d", rec.Code)
		}
		if calls == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected the second request to be served from cache, upstream was called %d times", calls)
		}
		time.Sleep(time.Millisecond)
	}
}
