// Package headers names the HTTP header constants the pipeline reads and
// sets, so call sites never repeat string literals.
package headers

const (
	Authorization             = "Authorization"
	ContentType               = "Content-Type"
	ContentLength             = "Content-Length"
	ETag                      = "ETag"
	IfNoneMatch               = "If-None-Match"
	Range                     = "Range"
	ContentRange              = "Content-Range"
	AcceptRanges              = "Accept-Ranges"
	Allow                     = "Allow"
	CorrelationID             = "X-Correlation-Id"
	RequestID                 = "X-Request-Id"
	CacheStatus               = "X-Cache-Status"
	UserAgent                 = "User-Agent"
	Referer                   = "Referer"
	AccessControlAllowOrigin  = "Access-Control-Allow-Origin"
	AccessControlAllowMethods = "Access-Control-Allow-Methods"
	AccessControlAllowHeaders = "Access-Control-Allow-Headers"
	XForwardedFor             = "X-Forwarded-For"
)
