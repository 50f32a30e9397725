// Package router matches an incoming request path to exactly one configured
// bucket binding by longest-prefix match and extracts the object key, per
// spec §4.1.
package router

import (
	"errors"
	"strings"

	"github.com/yatagarasu/yatagarasu/internal/config"
)

// ErrNoMatch is returned when no configured binding's path_prefix matches.
var ErrNoMatch = errors.New("router: no bucket binding matches path")

// ErrPathTraversal is returned for any path containing a ".." segment,
// checked before matching per spec §4.1's path-traversal defense.
var ErrPathTraversal = errors.New("router: path contains a parent-directory segment")

// Router holds the compiled set of bucket bindings for one config snapshot.
type Router struct {
	buckets []*config.BucketConfig
}

// New builds a Router over buckets. Bindings are tried longest-prefix-first
// regardless of configured order.
func New(buckets []*config.BucketConfig) *Router {
	return &Router{buckets: buckets}
}

// Route matches path against the longest binding path_prefix and returns
// the binding plus the extracted object key (the remainder of path, without
// a leading slash).
func (r *Router) Route(path string) (*config.BucketConfig, string, error) {
	if hasParentSegment(path) {
		return nil, "", ErrPathTraversal
	}

	var best *config.BucketConfig
	for _, b := range r.buckets {
		if !matchesPrefix(path, b.PathPrefix) {
			continue
		}
		if best == nil || len(b.PathPrefix) > len(best.PathPrefix) {
			best = b
		}
	}
	if best == nil {
		return nil, "", ErrNoMatch
	}
	objectKey := strings.TrimPrefix(path, best.PathPrefix)
	objectKey = strings.TrimPrefix(objectKey, "/")
	return best, objectKey, nil
}

// matchesPrefix reports whether path starts with prefix at a boundary: the
// prefix itself, or the prefix followed by "/" or end-of-string. This
// prevents "/data-private" from matching a "/data" prefix.
func matchesPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) {
		return true
	}
	return path[len(prefix)] == '/'
}

func hasParentSegment(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}
