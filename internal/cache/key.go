// Package cache defines the canonical cache identity and envelope types
// shared by every layer (memory, disk, redis) and the tiered composer.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// maxKeyStringLen is the backend-agnostic threshold past which a CacheKey's
// string form is substituted by its hash, per spec §3.
const maxKeyStringLen = 200

// Key is the canonical identity of a cacheable response: { bucket,
// object_key, etag }, total-ordered by (bucket, object_key, etag).
type Key struct {
	Bucket    string
	ObjectKey string
	ETag      string
}

// Less implements the total order over CacheKeys.
func (k Key) Less(o Key) bool {
	if k.Bucket != o.Bucket {
		return k.Bucket < o.Bucket
	}
	if k.ObjectKey != o.ObjectKey {
		return k.ObjectKey < o.ObjectKey
	}
	return k.ETag < o.ETag
}

// String returns "bucket:object_key" with object_key percent-escaped, or,
// when that exceeds maxKeyStringLen, "prefix:hash:<sha256>" where prefix is
// the bucket name. QueryEscape (not PathEscape) is used so that a literal
// colon in the object key cannot be confused with a field separator.
func (k Key) String() string {
	escaped := url.QueryEscape(k.ObjectKey)
	s := k.Bucket + ":" + escaped
	if k.ETag != "" {
		s += ":" + url.QueryEscape(k.ETag)
	}
	if len(s) <= maxKeyStringLen {
		return s
	}
	return fmt.Sprintf("%s:hash:%s", k.Bucket, k.Hash())
}

// Hash returns the hex SHA-256 of the key's canonical (unescaped) form, used
// for long-key substitution and for content-addressed disk paths.
func (k Key) Hash() string {
	canon := k.Bucket + "\x00" + k.ObjectKey + "\x00" + k.ETag
	sum := sha256.Sum256([]byte(canon))
	return hex.EncodeToString(sum[:])
}

// ParseKey parses the string form produced by Key.String back into a Key.
// Hashed forms ("bucket:hash:<sha256>") cannot be reversed and return an
// error — callers that round-trip must avoid the hashed branch, which is
// exactly what spec §8's round-trip property tests against (short keys).
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return Key{}, fmt.Errorf("cache: malformed key string %q", s)
	}
	if len(parts) == 3 && parts[1] == "hash" {
		return Key{}, fmt.Errorf("cache: key string %q is a hashed form and cannot be parsed back", s)
	}
	bucket := parts[0]
	objectKey, err := url.QueryUnescape(parts[1])
	if err != nil {
		return Key{}, fmt.Errorf("cache: invalid percent-encoding in key %q: %w", s, err)
	}
	etag := ""
	if len(parts) == 3 {
		etag, err = url.QueryUnescape(parts[2])
		if err != nil {
			return Key{}, fmt.Errorf("cache: invalid percent-encoding in etag %q: %w", s, err)
		}
	}
	return Key{Bucket: bucket, ObjectKey: objectKey, ETag: etag}, nil
}
