package audit

import (
	"net/http"
	"testing"
)

func TestRedactHeadersRedactsAuthorizationAndConfiguredNames(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer secret")
	h.Set("X-Api-Key", "sensitive-value")
	h.Set("Accept", "application/json")

	redacted := RedactHeaders(h, []string{"X-Api-Key"})

	if redacted.Get("Authorization") != "[REDACTED]" {
		t.Errorf("Authorization = %q, want [REDACTED]", redacted.Get("Authorization"))
	}
	if redacted.Get("X-Api-Key") != "[REDACTED]" {
		t.Errorf("X-Api-Key = %q, want [REDACTED]", redacted.Get("X-Api-Key"))
	}
	if redacted.Get("Accept") != "application/json" {
		t.Errorf("Accept should be untouched, got %q", redacted.Get("Accept"))
	}
	// original must be unmodified
	if h.Get("Authorization") != "Bearer secret" {
		t.Error("RedactHeaders must not mutate the original header set")
	}
}

func TestRedactQueryRedactsTokenParam(t *testing.T) {
	got := RedactQuery("/private/data.json?token=abc123&other=keep")
	if got == "" {
		t.Fatal("expected non-empty result")
	}
	if containsSubstring(got, "abc123") {
		t.Errorf("expected token value to be redacted, got %q", got)
	}
	if !containsSubstring(got, "other=keep") {
		t.Errorf("expected unrelated query params to survive, got %q", got)
	}
}

func TestRedactQueryNoTokenParamUnchanged(t *testing.T) {
	got := RedactQuery("/public/file.txt?x=1")
	if got != "/public/file.txt?x=1" {
		t.Errorf("got %q, want unchanged", got)
	}
}

func containsSubstring(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
