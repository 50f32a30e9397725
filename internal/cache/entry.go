package cache

import (
	"fmt"
	"time"

	"github.com/tinylib/msgp/msgp"
)

// envelopeVersion is the one-byte format marker prefixed to every
// serialized Entry. Unknown versions are rejected rather than guessed at.
const envelopeVersion byte = 1

// Entry is the cache envelope: the cached bytes plus enough metadata to
// serve conditional requests and drive eviction.
type Entry struct {
	Data           []byte
	ContentType    string
	ContentLength  int64
	ETag           string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time
}

// Valid checks the envelope invariants from spec §3.
func (e *Entry) Valid() error {
	if e.ContentLength != int64(len(e.Data)) {
		return fmt.Errorf("cache: content_length %d != len(data) %d", e.ContentLength, len(e.Data))
	}
	if !e.ExpiresAt.IsZero() && e.ExpiresAt.Before(e.CreatedAt) {
		return fmt.Errorf("cache: expires_at before created_at")
	}
	if e.LastAccessedAt.Before(e.CreatedAt) {
		return fmt.Errorf("cache: last_accessed_at before created_at")
	}
	return nil
}

// Expired reports whether the entry's TTL has elapsed as of now. A zero
// ExpiresAt means "never expire".
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// SizeBytes is the weight this entry contributes to a capacity-bounded layer.
func (e *Entry) SizeBytes() int64 {
	return int64(len(e.Data)) + int64(len(e.ContentType)) + int64(len(e.ETag)) + 64
}

// Metadata strips Data, leaving the L2 on-disk sidecar record plus the size
// of the companion data file.
func (e *Entry) Metadata() *EntryMetadata {
	return &EntryMetadata{
		ContentType:    e.ContentType,
		ContentLength:  e.ContentLength,
		ETag:           e.ETag,
		CreatedAt:      e.CreatedAt,
		ExpiresAt:      e.ExpiresAt,
		LastAccessedAt: e.LastAccessedAt,
		SizeBytes:      int64(len(e.Data)),
	}
}

// EntryMetadata is the L2 on-disk sidecar: the envelope minus Data, plus
// the size of the data file, serialized as JSON (per spec §3).
type EntryMetadata struct {
	ContentType    string    `json:"content_type"`
	ContentLength  int64     `json:"content_length"`
	ETag           string    `json:"etag"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	SizeBytes      int64     `json:"size_bytes"`
}

// Expired reports whether the sidecar's TTL has elapsed as of now.
func (m *EntryMetadata) Expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && now.After(m.ExpiresAt)
}

// MarshalMsg encodes the entry as a versioned MessagePack array, written by
// hand against tinylib/msgp's Append helpers (no go:generate codegen is
// available in this build). The wire shape is:
// [version byte][array header][data][content_type][content_length][etag]
// [created_at][expires_at][last_accessed_at].
func (e *Entry) MarshalMsg(b []byte) ([]byte, error) {
	b = append(b, envelopeVersion)
	b = msgp.AppendArrayHeader(b, 7)
	b = msgp.AppendBytes(b, e.Data)
	b = msgp.AppendString(b, e.ContentType)
	b = msgp.AppendInt64(b, e.ContentLength)
	b = msgp.AppendString(b, e.ETag)
	b = msgp.AppendTime(b, e.CreatedAt)
	b = msgp.AppendTime(b, e.ExpiresAt)
	b = msgp.AppendTime(b, e.LastAccessedAt)
	return b, nil
}

// UnmarshalMsg decodes bytes produced by MarshalMsg. An unrecognized
// version byte returns an error the caller must treat as a miss,
// never surfaced to the client (spec §4.6).
func (e *Entry) UnmarshalMsg(b []byte) ([]byte, error) {
	if len(b) < 1 {
		return b, fmt.Errorf("cache: empty envelope")
	}
	version, b := b[0], b[1:]
	if version != envelopeVersion {
		return b, fmt.Errorf("cache: unsupported envelope version %d", version)
	}

	var sz uint32
	var err error
	sz, b, err = msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return b, err
	}
	if sz != 7 {
		return b, fmt.Errorf("cache: unexpected envelope array size %d", sz)
	}

	if e.Data, b, err = msgp.ReadBytesBytes(b, nil); err != nil {
		return b, err
	}
	if e.ContentType, b, err = msgp.ReadStringBytes(b); err != nil {
		return b, err
	}
	if e.ContentLength, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return b, err
	}
	if e.ETag, b, err = msgp.ReadStringBytes(b); err != nil {
		return b, err
	}
	if e.CreatedAt, b, err = msgp.ReadTimeBytes(b); err != nil {
		return b, err
	}
	if e.ExpiresAt, b, err = msgp.ReadTimeBytes(b); err != nil {
		return b, err
	}
	if e.LastAccessedAt, b, err = msgp.ReadTimeBytes(b); err != nil {
		return b, err
	}
	return b, nil
}
