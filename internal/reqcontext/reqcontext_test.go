package reqcontext

import (
	"testing"

	"github.com/yatagarasu/yatagarasu/internal/auth"
)

func TestNewGeneratesCorrelationIDWhenAbsent(t *testing.T) {
	rc := New("GET", "/x", "1.1.1.1", "ua", "ref", "")
	if rc.CorrelationID == "" {
		t.Fatal("expected a generated correlation id")
	}
	if rc.RequestID == "" {
		t.Fatal("expected a generated request id")
	}
}

func TestNewPreservesSuppliedCorrelationID(t *testing.T) {
	rc := New("GET", "/x", "1.1.1.1", "ua", "ref", "existing-id")
	if rc.CorrelationID != "existing-id" {
		t.Fatalf("CorrelationID = %q, want existing-id", rc.CorrelationID)
	}
}

func TestUserNilWhenUnauthenticated(t *testing.T) {
	rc := New("GET", "/x", "1.1.1.1", "ua", "ref", "")
	if rc.User() != nil {
		t.Fatal("expected nil user for anonymous request")
	}
}

func TestUserReturnsSubClaim(t *testing.T) {
	rc := New("GET", "/x", "1.1.1.1", "ua", "ref", "")
	rc.Claims = auth.Claims{"sub": "alice"}
	u := rc.User()
	if u == nil || *u != "alice" {
		t.Fatalf("User() = %v, want alice", u)
	}
}
