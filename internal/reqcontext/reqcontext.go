// Package reqcontext defines RequestContext, the per-request state spec §3
// describes as "created at request entry, destroyed on response
// completion", owned exclusively by the pipeline task handling the request.
package reqcontext

import (
	"time"

	"github.com/google/uuid"

	"github.com/yatagarasu/yatagarasu/internal/auth"
	"github.com/yatagarasu/yatagarasu/internal/config"
)

// CacheStatus is the outcome of the pipeline's CacheLookup state.
type CacheStatus string

const (
	CacheHitL1  CacheStatus = "hit_l1"
	CacheHitL2  CacheStatus = "hit_l2"
	CacheHitL3  CacheStatus = "hit_l3"
	CacheMiss   CacheStatus = "miss"
	CacheBypass CacheStatus = "bypass"
)

// RequestContext is mutated only by the owning pipeline task; logging and
// metrics only read it.
type RequestContext struct {
	RequestID     string
	CorrelationID string
	StartedAt     time.Time
	Method        string
	Path          string
	ClientIP      string
	UserAgent     string
	Referer       string

	Bucket    *config.BucketConfig
	ObjectKey string

	Claims auth.Claims

	ReplicaUsed string
	CacheStatus CacheStatus

	ResponseStatus int
	ResponseBytes  int64
}

// New creates a RequestContext for one incoming request. correlationID is
// read from an inbound header when the caller supplied one, otherwise a
// fresh UUID is generated — either way a value is always present for the
// response header and audit record.
func New(method, path, clientIP, userAgent, referer, correlationID string) *RequestContext {
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	return &RequestContext{
		RequestID:     uuid.New().String(),
		CorrelationID: correlationID,
		StartedAt:     time.Now(),
		Method:        method,
		Path:          path,
		ClientIP:      clientIP,
		UserAgent:     userAgent,
		Referer:       referer,
		CacheStatus:   CacheMiss,
	}
}

// DurationMs returns elapsed time since StartedAt, rounded to milliseconds,
// for the audit record and latency metrics.
func (rc *RequestContext) DurationMs() int64 {
	return time.Since(rc.StartedAt).Milliseconds()
}

// User returns the subject claim as a pointer so AuditRecord.User can
// legitimately be JSON `null` for anonymous requests, per spec's worked
// example "missing token ... audit record with user=null".
func (rc *RequestContext) User() *string {
	if rc.Claims == nil {
		return nil
	}
	v, ok := rc.Claims.Get("sub")
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}
