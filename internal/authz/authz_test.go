package authz

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/yatagarasu/yatagarasu/internal/apierr"
	"github.com/yatagarasu/yatagarasu/internal/config"
)

func policyServer(t *testing.T, allow bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in PolicyInput
		_ = json.NewDecoder(r.Body).Decode(&in)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(policyResponse{Allow: allow})
	}))
}

func TestAuthorizeAllow(t *testing.T) {
	srv := policyServer(t, true)
	defer srv.Close()

	a := New(&config.AuthzConfig{Enabled: true, PolicyURL: srv.URL, TimeoutMs: 1000, FailMode: "fail_closed"})
	err := a.Authorize(context.Background(), PolicyInput{Bucket: "b", Path: "/x", Method: "GET"})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
}

func TestAuthorizeDeny(t *testing.T) {
	srv := policyServer(t, false)
	defer srv.Close()

	a := New(&config.AuthzConfig{Enabled: true, PolicyURL: srv.URL, TimeoutMs: 1000, FailMode: "fail_closed"})
	err := a.Authorize(context.Background(), PolicyInput{Bucket: "b", Path: "/x", Method: "GET"})
	apiErr, ok := err.(*apierr.Error)
	if !ok || apiErr.Kind != apierr.PolicyDeny {
		t.Fatalf("expected PolicyDeny, got %v", err)
	}
}

func TestAuthorizeFailClosedOnTransportError(t *testing.T) {
	a := New(&config.AuthzConfig{Enabled: true, PolicyURL: "http://127.0.0.1:0", TimeoutMs: 100, FailMode: "fail_closed"})
	err := a.Authorize(context.Background(), PolicyInput{Bucket: "b", Path: "/x", Method: "GET"})
	apiErr, ok := err.(*apierr.Error)
	if !ok || apiErr.Kind != apierr.PolicyError {
		t.Fatalf("expected PolicyError, got %v", err)
	}
}

func TestAuthorizeFailOpenOnTransportError(t *testing.T) {
	a := New(&config.AuthzConfig{Enabled: true, PolicyURL: "http://127.0.0.1:0", TimeoutMs: 100, FailMode: "fail_open"})
	err := a.Authorize(context.Background(), PolicyInput{Bucket: "b", Path: "/x", Method: "GET"})
	if err != nil {
		t.Fatalf("expected nil error under fail_open, got %v", err)
	}
}

func TestAuthorizeCachesDecision(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(policyResponse{Allow: true})
	}))
	defer srv.Close()

	a := New(&config.AuthzConfig{Enabled: true, PolicyURL: srv.URL, TimeoutMs: 1000, FailMode: "fail_closed", DecisionCacheTTLSecs: 60})
	input := PolicyInput{Bucket: "b", Path: "/x", Method: "GET"}
	for i := 0; i < 3; i++ {
		if err := a.Authorize(context.Background(), input); err != nil {
			t.Fatalf("Authorize: %v", err)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("policy endpoint called %d times, want 1 (cached after first)", got)
	}
}

func TestAuthorizeDisabledAlwaysAllows(t *testing.T) {
	a := New(&config.AuthzConfig{Enabled: false})
	if err := a.Authorize(context.Background(), PolicyInput{}); err != nil {
		t.Fatalf("expected nil error when disabled, got %v", err)
	}
}
