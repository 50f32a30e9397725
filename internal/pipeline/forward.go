package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yatagarasu/yatagarasu/internal/apierr"
	"github.com/yatagarasu/yatagarasu/internal/cache"
	"github.com/yatagarasu/yatagarasu/internal/headers"
	"github.com/yatagarasu/yatagarasu/internal/log"
	"github.com/yatagarasu/yatagarasu/internal/metrics"
	"github.com/yatagarasu/yatagarasu/internal/reqcontext"
	"github.com/yatagarasu/yatagarasu/internal/replica"
	"github.com/yatagarasu/yatagarasu/internal/sigv4"
	"github.com/yatagarasu/yatagarasu/internal/tracing"
)

// forwardToReplica implements SelectReplica -> SignAndConnect -> Stream,
// retrying the next priority-ordered replica (up to maxRetries additional
// attempts) when a replica fails outright, per spec §4.8/§4.10. Once an
// attempt has failed and no further replica can be tried, the request is
// answered 502; if no replica was available to begin with, it is 503.
func (p *Pipeline) forwardToReplica(w http.ResponseWriter, r *http.Request, rc *reqcontext.RequestContext, bucket *bucketRuntime, objectKey string, maxRetries, streamBuf int) {
	exclude := make(map[string]bool)
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		rep, err := bucket.replicas.Select(exclude)
		if err != nil {
			if lastErr != nil {
				break
			}
			p.writeError(w, rc, apierr.Wrap(apierr.AllReplicasUnavailable, "no healthy replica available", err))
			return
		}
		exclude[rep.Name] = true

		upstreamResp, err := p.doUpstreamRequest(r, rc, bucket, rep, objectKey)
		if err != nil {
			lastErr = err
			log.Warn("upstream replica request failed", log.Pairs{
				"replica": rep.Name, "bucket": bucket.cfg.Name, "error": err.Error(),
			})
			continue
		}

		rc.ReplicaUsed = rep.Name
		p.streamResponse(w, r, rc, bucket, objectKey, upstreamResp, streamBuf)
		return
	}

	p.writeError(w, rc, apierr.Wrap(apierr.UpstreamError, "all replicas failed", lastErr))
}

// doUpstreamRequest signs and sends one request to rep, recording the
// outcome against rep's breaker. The breaker's guarded region ends at
// response-headers-received, per circuit.Breaker.Try's contract.
func (p *Pipeline) doUpstreamRequest(r *http.Request, rc *reqcontext.RequestContext, bucket *bucketRuntime, rep *replica.Replica, objectKey string) (*http.Response, error) {
	var resp *http.Response

	spanCtx, span := tracing.SpanFromContext(r.Context(), "upstream.request")
	defer span.End()
	r = r.WithContext(spanCtx)

	breakerErr := rep.Breaker.Try(func() error {
		req, err := p.buildUpstreamRequest(r, rep, objectKey)
		if err != nil {
			return err
		}

		ctx := r.Context()
		if rep.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, rep.Timeout)
			defer cancel()
		}
		req = req.WithContext(ctx)

		if err := p.signer.Sign(ctx, req, sigv4.EmptyPayloadHash, sigv4.Credentials{
			AccessKeyID:     rep.AccessKey,
			SecretAccessKey: rep.SecretKey,
		}, rep.Region, time.Now()); err != nil {
			return fmt.Errorf("sign request: %w", err)
		}

		start := time.Now()
		upstreamResp, err := p.httpClient.Do(req)
		metrics.UpstreamRequestDuration.WithLabelValues(rep.Name).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.UpstreamRequestsTotal.WithLabelValues(rep.Name, "transport_error").Inc()
			return err
		}

		if isBreakerFailure(upstreamResp.StatusCode) {
			metrics.UpstreamRequestsTotal.WithLabelValues(rep.Name, "server_error").Inc()
			upstreamResp.Body.Close()
			return fmt.Errorf("upstream %s returned status %d", rep.Name, upstreamResp.StatusCode)
		}

		metrics.UpstreamRequestsTotal.WithLabelValues(rep.Name, "ok").Inc()
		resp = upstreamResp
		return nil
	})

	if breakerErr != nil {
		return nil, breakerErr
	}
	return resp, nil
}

// isBreakerFailure reports whether status counts against the breaker, per
// spec §4.8: 5xx excluding 501 (Not Implemented, a permanent protocol
// mismatch rather than a transient upstream condition) counts as failure;
// everything else, including 404, is a success from the breaker's
// perspective.
func isBreakerFailure(status int) bool {
	return status >= 500 && status != http.StatusNotImplemented
}

func (p *Pipeline) buildUpstreamRequest(r *http.Request, rep *replica.Replica, objectKey string) (*http.Request, error) {
	url := rep.Endpoint + "/" + rep.Bucket + "/" + objectKey
	req, err := http.NewRequest(r.Method, url, nil)
	if err != nil {
		return nil, err
	}
	if rng := r.Header.Get(headers.Range); rng != "" {
		req.Header.Set(headers.Range, rng)
	}
	if inm := r.Header.Get(headers.IfNoneMatch); inm != "" {
		req.Header.Set(headers.IfNoneMatch, inm)
	}
	return req, nil
}

// streamResponse copies the upstream response to the client through a
// bounded buffer, buffering the full body separately for cache population
// only when the response qualifies (spec §4.10's CachePopulate guard).
func (p *Pipeline) streamResponse(w http.ResponseWriter, r *http.Request, rc *reqcontext.RequestContext, bucket *bucketRuntime, objectKey string, upstreamResp *http.Response, streamBuf int) {
	defer upstreamResp.Body.Close()

	for name, values := range upstreamResp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set(headers.AcceptRanges, "bytes")
	w.WriteHeader(upstreamResp.StatusCode)
	rc.ResponseStatus = upstreamResp.StatusCode

	isRange := r.Header.Get(headers.Range) != ""
	eligibleForCache := r.Method == http.MethodGet &&
		upstreamResp.StatusCode == http.StatusOK &&
		!isRange &&
		withinCacheItemLimit(upstreamResp, bucket.maxItemSizeBytes)

	buf := make([]byte, streamBuf)
	if !eligibleForCache {
		n, _ := io.CopyBuffer(w, upstreamResp.Body, buf)
		rc.ResponseBytes = n
		return
	}

	var captured []byte
	mw := io.MultiWriter(w, &byteSink{dst: &captured, limit: bucket.maxItemSizeBytes})
	n, err := io.CopyBuffer(mw, upstreamResp.Body, buf)
	rc.ResponseBytes = n
	if err != nil {
		return
	}
	if int64(len(captured)) != n {
		// Exceeded the cache size limit mid-stream; already served to the
		// client in full, just skip population.
		return
	}

	entry := &cache.Entry{
		Data:           captured,
		ContentType:    upstreamResp.Header.Get(headers.ContentType),
		ContentLength:  n,
		ETag:           upstreamResp.Header.Get(headers.ETag),
		CreatedAt:      time.Now(),
		LastAccessedAt: time.Now(),
	}
	if bucket.cacheTTLSecs > 0 {
		entry.ExpiresAt = entry.CreatedAt.Add(time.Duration(bucket.cacheTTLSecs) * time.Second)
	}

	bucketName := bucket.bucketName()
	// ETag deliberately omitted: CacheLookup and the admin purge-by-object
	// path key on {bucket, object_key} alone, so population must agree or it
	// would write under a key lookups never probe.
	key := cache.Key{Bucket: bucketName, ObjectKey: objectKey}
	go func() {
		ctx := context.Background()
		if err := bucket.cache.Set(ctx, key, entry); err != nil {
			log.Debug("cache populate failed", log.Pairs{"bucket": bucketName, "object_key": objectKey, "error": err.Error()})
		}
	}()
}

func withinCacheItemLimit(resp *http.Response, maxBytes int64) bool {
	if maxBytes <= 0 {
		return true
	}
	if resp.ContentLength < 0 {
		return true // unknown length; byteSink enforces the real cap during copy
	}
	return resp.ContentLength <= maxBytes
}

// byteSink accumulates bytes into *dst up to limit, then silently discards
// further writes (io.Writer contract requires returning n=len(p), not an
// error, so the mismatch between captured length and total bytes copied is
// how the caller detects the overflow).
type byteSink struct {
	dst   *[]byte
	limit int64
}

func (b *byteSink) Write(p []byte) (int, error) {
	if b.limit > 0 {
		room := b.limit - int64(len(*b.dst))
		if room <= 0 {
			return len(p), nil
		}
		if int64(len(p)) > room {
			*b.dst = append(*b.dst, p[:room]...)
			return len(p), nil
		}
	}
	*b.dst = append(*b.dst, p...)
	return len(p), nil
}
