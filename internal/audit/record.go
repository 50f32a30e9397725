package audit

import (
	"net/http"
	"net/url"
	"time"
)

// Record is spec §3/§4.12's AuditRecord: a materialized, redacted view of
// one request's RequestContext, serialized as one JSON object per line.
type Record struct {
	Timestamp         time.Time `json:"timestamp"`
	RequestID         string    `json:"request_id"`
	CorrelationID     string    `json:"correlation_id"`
	ClientIP          string    `json:"client_ip"`
	User              *string   `json:"user"`
	Bucket            string    `json:"bucket"`
	ObjectKey         string    `json:"object_key"`
	Method            string    `json:"method"`
	Path              string    `json:"path"`
	Status            int       `json:"status"`
	ResponseSizeBytes int64     `json:"response_size_bytes"`
	DurationMs        int64     `json:"duration_ms"`
	CacheStatus       string    `json:"cache_status"`
	ReplicaUsed       string    `json:"replica_used"`
	UserAgent         string    `json:"user_agent"`
	Referer           string    `json:"referer"`
}

// RedactHeaders replaces the Authorization header and any header named in
// sensitive with "[REDACTED]", returning a copy so the caller's original
// headers (still needed to actually serve the request) are untouched.
func RedactHeaders(h http.Header, sensitive []string) http.Header {
	redacted := h.Clone()
	redactNames := map[string]bool{"Authorization": true}
	for _, name := range sensitive {
		redactNames[http.CanonicalHeaderKey(name)] = true
	}
	for name := range redacted {
		if redactNames[http.CanonicalHeaderKey(name)] {
			redacted[name] = []string{"[REDACTED]"}
		}
	}
	return redacted
}

// RedactQuery replaces the "token" query parameter's value with
// "[REDACTED]" in a path+query string, leaving every other parameter and
// the path itself untouched. Used for the Path field so a bearer token
// passed via ?token=... never reaches a log line.
func RedactQuery(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "[REDACTED]")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
