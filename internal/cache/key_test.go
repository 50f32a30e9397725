package cache

import (
	"strings"
	"testing"
)

func TestKeyStringRoundTrip(t *testing.T) {
	cases := []Key{
		{Bucket: "assets", ObjectKey: "a/b c.txt"},
		{Bucket: "assets", ObjectKey: "a/b:c.txt", ETag: `"abc123"`},
		{Bucket: "private", ObjectKey: "nested/path/to/object.json"},
	}
	for _, k := range cases {
		s := k.String()
		got, err := ParseKey(s)
		if err != nil {
			t.Fatalf("ParseKey(%q): %v", s, err)
		}
		if got != k {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, k)
		}
	}
}

func TestKeyStringSubstitutesHashWhenTooLong(t *testing.T) {
	k := Key{Bucket: "assets", ObjectKey: strings.Repeat("x", 400)}
	s := k.String()
	if !strings.HasPrefix(s, "assets:hash:") {
		t.Fatalf("expected hashed form, got %q", s)
	}
	if _, err := ParseKey(s); err == nil {
		t.Fatal("expected ParseKey to reject a hashed form")
	}
}

func TestKeyLessTotalOrder(t *testing.T) {
	a := Key{Bucket: "a", ObjectKey: "x"}
	b := Key{Bucket: "a", ObjectKey: "y"}
	c := Key{Bucket: "b", ObjectKey: "a"}
	if !a.Less(b) {
		t.Error("a should sort before b by object key")
	}
	if !b.Less(c) {
		t.Error("b should sort before c by bucket")
	}
}
