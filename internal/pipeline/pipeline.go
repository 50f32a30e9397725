// Package pipeline orchestrates the per-request state machine of spec
// §4.10: rate limit, IP filter, route, authenticate, authorize, cache
// lookup, replica selection with failover, SigV4 signing, streaming,
// conditional cache population, and audit.
package pipeline

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yatagarasu/yatagarasu/internal/apierr"
	"github.com/yatagarasu/yatagarasu/internal/audit"
	"github.com/yatagarasu/yatagarasu/internal/authz"
	"github.com/yatagarasu/yatagarasu/internal/cache"
	"github.com/yatagarasu/yatagarasu/internal/config"
	"github.com/yatagarasu/yatagarasu/internal/headers"
	"github.com/yatagarasu/yatagarasu/internal/log"
	"github.com/yatagarasu/yatagarasu/internal/metrics"
	"github.com/yatagarasu/yatagarasu/internal/reqcontext"
	"github.com/yatagarasu/yatagarasu/internal/router"
	"github.com/yatagarasu/yatagarasu/internal/sigv4"
	"github.com/yatagarasu/yatagarasu/internal/tracing"
)

// tracerName is the span-producing tracer this pipeline registers under,
// independent of TracingConfig.ServiceName (which only labels the exporter).
const tracerName = "yatagarasu-pipeline"

// Pipeline is the stateless (per-request) orchestrator over a compiled
// config snapshot. A reload swaps the snapshot via Rebuild; in-flight
// requests keep using the snapshot they started with.
type Pipeline struct {
	mu sync.RWMutex

	cfg               *config.GatewayConfig
	router            *router.Router
	buckets           map[string]*bucketRuntime
	signer            *sigv4.Signer
	auditQueue        *audit.Queue
	httpClient        *http.Client
	corsOrigins       []string
	maxReplicaRetries int
	streamBufferBytes int

	singleflight *coalescer
}

// New builds a Pipeline from cfg, wiring one bucketRuntime per binding.
func New(cfg *config.GatewayConfig, auditQueue *audit.Queue) (*Pipeline, error) {
	p := &Pipeline{
		signer:       sigv4.New(),
		auditQueue:   auditQueue,
		httpClient:   &http.Client{},
		singleflight: newCoalescer(),
	}
	if err := p.Rebuild(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// Rebuild recompiles every bucket binding from cfg and atomically swaps it
// in. An error leaves the previously active snapshot untouched.
func (p *Pipeline) Rebuild(cfg *config.GatewayConfig) error {
	buckets := make(map[string]*bucketRuntime, len(cfg.Buckets))
	bucketConfigs := make([]*config.BucketConfig, 0, len(cfg.Buckets))
	for _, b := range cfg.Buckets {
		rt, err := buildBucketRuntime(cfg, b)
		if err != nil {
			return fmt.Errorf("pipeline: build bucket %q: %w", b.Name, err)
		}
		buckets[b.Name] = rt
		bucketConfigs = append(bucketConfigs, b)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	p.router = router.New(bucketConfigs)
	p.buckets = buckets
	p.corsOrigins = cfg.Server.CorsAllowedOrigins
	p.maxReplicaRetries = cfg.Server.MaxReplicaRetries
	if p.maxReplicaRetries <= 0 {
		p.maxReplicaRetries = 2
	}
	p.streamBufferBytes = cfg.Server.StreamBufferBytes
	if p.streamBufferBytes <= 0 {
		p.streamBufferBytes = 64 * 1024
	}
	return nil
}

func (p *Pipeline) snapshot() (*router.Router, map[string]*bucketRuntime, []string, int, int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.router, p.buckets, p.corsOrigins, p.maxReplicaRetries, p.streamBufferBytes
}

// CacheLayers returns one bucket binding's per-layer and aggregate cache
// stats, for the admin /admin/cache/stats handlers.
func (p *Pipeline) CacheLayers(bucket string) (perLayer []cache.Stats, aggregate cache.Stats, ok bool) {
	p.mu.RLock()
	rt, found := p.buckets[bucket]
	p.mu.RUnlock()
	if !found {
		return nil, cache.Stats{}, false
	}
	perLayer, aggregate = rt.cache.Stats()
	return perLayer, aggregate, true
}

// PurgeCache clears bucket's cache, scoped to path when non-empty (a single
// object key) or the whole bucket when path is empty, for the admin
// /admin/cache/purge handlers.
func (p *Pipeline) PurgeCache(bucket, path string) error {
	p.mu.RLock()
	rt, found := p.buckets[bucket]
	p.mu.RUnlock()
	if !found {
		return fmt.Errorf("pipeline: unknown bucket %q", bucket)
	}
	ctx := context.Background()
	if path == "" {
		return rt.cache.Clear(ctx, rt.bucketName())
	}
	key := cache.Key{Bucket: rt.bucketName(), ObjectKey: path}
	_, err := rt.cache.Delete(ctx, key)
	return err
}

// ReplicaStates returns, per bucket, each replica's circuit breaker state
// ("closed"/"open"/"half_open"), for the admin /ready handler's per-bucket
// availability view (spec §4.14).
func (p *Pipeline) ReplicaStates() map[string]map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]map[string]string, len(p.buckets))
	for name, rt := range p.buckets {
		states := make(map[string]string, len(rt.replicas.All()))
		for _, rep := range rt.replicas.All() {
			states[rep.Name] = string(rep.Breaker.State())
		}
		out[name] = states
	}
	return out
}

// BucketNames returns every configured bucket binding name, in no
// particular order, for admin handlers that aggregate across all of them.
func (p *Pipeline) BucketNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.buckets))
	for name := range p.buckets {
		names = append(names, name)
	}
	return names
}

// ServeHTTP implements the full pipeline state machine of spec §4.10.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt, buckets, corsOrigins, maxRetries, streamBuf := p.snapshot()

	clientIP := clientIPFromRequest(r)
	rc := reqcontext.New(r.Method, r.URL.Path, clientIP, r.Header.Get(headers.UserAgent), r.Header.Get(headers.Referer), r.Header.Get(headers.CorrelationID))
	w.Header().Set(headers.CorrelationID, rc.CorrelationID)
	w.Header().Set(headers.RequestID, rc.RequestID)

	r, span := tracing.PrepareRequest(r, tracerName, "gateway.request")
	defer func() {
		span.End()
		p.finalize(rc, w)
	}()

	// 1. Received: read-only method check.
	if r.Method == http.MethodOptions {
		p.handleOptions(w, r, corsOrigins)
		rc.ResponseStatus = http.StatusNoContent
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set(headers.Allow, "GET, HEAD, OPTIONS")
		p.writeError(w, rc, apierr.New(apierr.MethodNotAllowed, "method not allowed"))
		return
	}

	// 4. Route. It runs before RateCheck and IpCheck because the rate
	// limiter and IP filter belong to the matched bucket binding; a path no
	// binding matches is answered 404 without rate limiting or IP filtering.
	binding, objectKey, err := rt.Route(r.URL.Path)
	if err != nil {
		p.writeError(w, rc, apierr.New(apierr.NotFound, "no bucket binding matches this path"))
		return
	}
	rc.Bucket = binding
	rc.ObjectKey = objectKey
	bucket := buckets[binding.Name]

	// 2. RateCheck
	var userID string
	if ok, scope := bucket.limiter.Allow(clientIP, binding.Name, userID); !ok {
		metrics.RateLimitRejectionsTotal.WithLabelValues(string(scope)).Inc()
		p.writeError(w, rc, apierr.New(apierr.RateLimited, "rate limit exceeded"))
		return
	}

	// 3. IpCheck
	if !bucket.ipFilter.Allowed(net.ParseIP(clientIP)) {
		p.writeError(w, rc, apierr.New(apierr.IpBlocked, "client IP is blocked"))
		return
	}

	// 5. Authenticate
	if bucket.authenticator != nil {
		claims, err := bucket.authenticator.Authenticate(r)
		if err != nil {
			p.writeError(w, rc, err)
			return
		}
		rc.Claims = claims
		if sub, ok := claims.Get("sub"); ok {
			if s, ok := sub.(string); ok {
				userID = s
				if ok2, scope := bucket.limiter.AllowUser(userID); !ok2 {
					metrics.RateLimitRejectionsTotal.WithLabelValues(string(scope)).Inc()
					p.writeError(w, rc, apierr.New(apierr.RateLimited, "rate limit exceeded"))
					return
				}
			}
		}
	}

	// 6. Authorize
	if bucket.authorizer != nil {
		input := buildPolicyInput(rc, binding)
		if err := bucket.authorizer.Authorize(r.Context(), input); err != nil {
			p.writeError(w, rc, err)
			return
		}
	}

	isRange := r.Header.Get(headers.Range) != ""
	cacheKey := cache.Key{Bucket: bucket.bucketName(), ObjectKey: objectKey}

	// 7. CacheLookup
	if r.Method == http.MethodGet && !isRange {
		if entry, layer, ok := bucket.cache.Get(r.Context(), cacheKey); ok {
			if ifNoneMatch := r.Header.Get(headers.IfNoneMatch); ifNoneMatch != "" && ifNoneMatch == entry.ETag {
				rc.CacheStatus = cacheStatusForLayer(layer)
				w.WriteHeader(http.StatusNotModified)
				rc.ResponseStatus = http.StatusNotModified
				return
			}
			rc.CacheStatus = cacheStatusForLayer(layer)
			p.writeCachedEntry(w, rc, entry)
			return
		}
	}
	rc.CacheStatus = reqcontext.CacheMiss
	if isRange {
		rc.CacheStatus = reqcontext.CacheBypass
	}

	if bucket.coalesceRequests && r.Method == http.MethodGet && !isRange {
		leader, release, wait := p.singleflight.acquire(cacheKey.String())
		if !leader {
			wait(r.Context())
			if entry, layer, ok := bucket.cache.Get(r.Context(), cacheKey); ok {
				rc.CacheStatus = cacheStatusForLayer(layer)
				p.writeCachedEntry(w, rc, entry)
				return
			}
			// Leader's response wasn't cacheable (too large, non-200, etc);
			// fall through and forward this request too.
		} else {
			defer release()
		}
	}

	// 8-10: SelectReplica -> SignAndConnect -> Stream, with failover.
	p.forwardToReplica(w, r, rc, bucket, objectKey, maxRetries, streamBuf)
}

func cacheStatusForLayer(layer string) reqcontext.CacheStatus {
	switch layer {
	case cache.LayerMemory:
		return reqcontext.CacheHitL1
	case cache.LayerDisk:
		return reqcontext.CacheHitL2
	case cache.LayerRedis:
		return reqcontext.CacheHitL3
	default:
		return reqcontext.CacheHitL1
	}
}

func (p *Pipeline) writeCachedEntry(w http.ResponseWriter, rc *reqcontext.RequestContext, entry *cache.Entry) {
	if entry.ContentType != "" {
		w.Header().Set(headers.ContentType, entry.ContentType)
	}
	w.Header().Set(headers.ContentLength, strconv.FormatInt(entry.ContentLength, 10))
	if entry.ETag != "" {
		w.Header().Set(headers.ETag, entry.ETag)
	}
	w.Header().Set(headers.AcceptRanges, "bytes")
	w.WriteHeader(http.StatusOK)
	rc.ResponseStatus = http.StatusOK
	if rc.Method == http.MethodHead {
		return
	}
	n, _ := w.Write(entry.Data)
	rc.ResponseBytes = int64(n)
}

func (p *Pipeline) handleOptions(w http.ResponseWriter, r *http.Request, corsOrigins []string) {
	origin := r.Header.Get("Origin")
	if origin != "" && originAllowed(origin, corsOrigins) {
		w.Header().Set(headers.AccessControlAllowOrigin, origin)
		w.Header().Set(headers.AccessControlAllowMethods, "GET, HEAD, OPTIONS")
		w.Header().Set(headers.AccessControlAllowHeaders, "Authorization, If-None-Match, Range")
	}
	w.WriteHeader(http.StatusNoContent)
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func clientIPFromRequest(r *http.Request) string {
	if fwd := r.Header.Get(headers.XForwardedFor); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func buildPolicyInput(rc *reqcontext.RequestContext, binding *config.BucketConfig) authz.PolicyInput {
	return authz.PolicyInput{
		JWTClaims: map[string]interface{}(rc.Claims),
		Bucket:    binding.Name,
		Path:      rc.Path,
		Method:    rc.Method,
		ClientIP:  rc.ClientIP,
	}
}

func (p *Pipeline) writeError(w http.ResponseWriter, rc *reqcontext.RequestContext, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	if ae, ok := err.(*apierr.Error); ok {
		status = apierr.HTTPStatus(ae.Kind)
		msg = apierr.ClientMessage(ae.Kind)
	}
	rc.ResponseStatus = status
	http.Error(w, msg, status)
}

func (p *Pipeline) finalize(rc *reqcontext.RequestContext, w http.ResponseWriter) {
	metrics.RequestsTotal.WithLabelValues(bucketLabel(rc), strconv.Itoa(rc.ResponseStatus)).Inc()
	metrics.RequestDuration.WithLabelValues(bucketLabel(rc), string(rc.CacheStatus)).Observe(time.Since(rc.StartedAt).Seconds())

	record := audit.Record{
		Timestamp:         time.Now(),
		RequestID:         rc.RequestID,
		CorrelationID:     rc.CorrelationID,
		ClientIP:          rc.ClientIP,
		User:              rc.User(),
		Bucket:            bucketLabel(rc),
		ObjectKey:         rc.ObjectKey,
		Method:            rc.Method,
		Path:              audit.RedactQuery(rc.Path),
		Status:            rc.ResponseStatus,
		ResponseSizeBytes: rc.ResponseBytes,
		DurationMs:        rc.DurationMs(),
		CacheStatus:       string(rc.CacheStatus),
		ReplicaUsed:       rc.ReplicaUsed,
		UserAgent:         rc.UserAgent,
		Referer:           rc.Referer,
	}
	if p.auditQueue != nil {
		p.auditQueue.Enqueue(record)
	}
	log.Debug("request complete", log.Pairs{
		"request_id": rc.RequestID, "status": rc.ResponseStatus, "bucket": bucketLabel(rc),
		"cache_status": rc.CacheStatus, "duration_ms": rc.DurationMs(),
	})
}

func bucketLabel(rc *reqcontext.RequestContext) string {
	if rc.Bucket == nil {
		return "unmatched"
	}
	return rc.Bucket.Name
}
