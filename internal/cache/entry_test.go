package cache

import (
	"testing"
	"time"
)

func sampleEntry() *Entry {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	data := []byte("hello, world")
	return &Entry{
		Data:           data,
		ContentType:    "text/plain",
		ContentLength:  int64(len(data)),
		ETag:           `"abc123"`,
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
		LastAccessedAt: now,
	}
}

func TestEntryMessagePackRoundTrip(t *testing.T) {
	e := sampleEntry()
	b, err := e.MarshalMsg(nil)
	if err != nil {
		t.Fatalf("MarshalMsg: %v", err)
	}

	got := &Entry{}
	rest, err := got.UnmarshalMsg(b)
	if err != nil {
		t.Fatalf("UnmarshalMsg: %v", err)
	}
	if len(rest) != 0 {
		t.Errorf("expected no trailing bytes, got %d", len(rest))
	}

	if string(got.Data) != string(e.Data) ||
		got.ContentType != e.ContentType ||
		got.ContentLength != e.ContentLength ||
		got.ETag != e.ETag ||
		!got.CreatedAt.Equal(e.CreatedAt) ||
		!got.ExpiresAt.Equal(e.ExpiresAt) ||
		!got.LastAccessedAt.Equal(e.LastAccessedAt) {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, e)
	}
}

func TestEntryUnmarshalRejectsUnknownVersion(t *testing.T) {
	e := sampleEntry()
	b, _ := e.MarshalMsg(nil)
	b[0] = 0xFF

	got := &Entry{}
	if _, err := got.UnmarshalMsg(b); err == nil {
		t.Fatal("expected error for unknown envelope version")
	}
}

func TestEntryValid(t *testing.T) {
	e := sampleEntry()
	if err := e.Valid(); err != nil {
		t.Fatalf("expected valid entry, got %v", err)
	}

	bad := sampleEntry()
	bad.ContentLength = 999
	if err := bad.Valid(); err == nil {
		t.Fatal("expected content_length mismatch to be invalid")
	}
}
