package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/yatagarasu/yatagarasu/internal/apierr"
	"github.com/yatagarasu/yatagarasu/internal/config"
)

func hsAuthConfig() *config.AuthConfig {
	return &config.AuthConfig{
		Enabled:      true,
		Sources:      []config.TokenSourceConfig{{Kind: "bearer"}},
		Algorithm:    "HS256",
		SharedSecret: "test-secret",
		LeewaySecs:   5,
	}
}

func signHS(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestAuthenticateAcceptsValidToken(t *testing.T) {
	cfg := hsAuthConfig()
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	claims := jwt.MapClaims{"role": "admin", "exp": time.Now().Add(time.Hour).Unix()}
	tok := signHS(t, claims, "test-secret")

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	got, err := a.Authenticate(req)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if v, _ := got.Get("role"); v != "admin" {
		t.Errorf("role = %v, want admin", v)
	}
}

func TestAuthenticateMissingTokenReturnsMissingTokenKind(t *testing.T) {
	a, err := New(hsAuthConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/x", nil)

	_, err = a.Authenticate(req)
	apiErr, ok := err.(*apierr.Error)
	if !ok {
		t.Fatalf("expected *apierr.Error, got %T", err)
	}
	if apiErr.Kind != apierr.MissingToken {
		t.Fatalf("Kind = %v, want MissingToken", apiErr.Kind)
	}
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	a, err := New(hsAuthConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tok := signHS(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}, "wrong-secret")
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	_, err = a.Authenticate(req)
	apiErr, ok := err.(*apierr.Error)
	if !ok || apiErr.Kind != apierr.InvalidToken {
		t.Fatalf("expected InvalidToken, got %v", err)
	}
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	a, err := New(hsAuthConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tok := signHS(t, jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()}, "test-secret")
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	_, err = a.Authenticate(req)
	apiErr, ok := err.(*apierr.Error)
	if !ok || apiErr.Kind != apierr.InvalidToken {
		t.Fatalf("expected InvalidToken, got %v", err)
	}
}

func TestAuthenticateRejectsAlgorithmConfusion(t *testing.T) {
	a, err := New(hsAuthConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// alg "none" must never validate regardless of configured family.
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	tok, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	_, err = a.Authenticate(req)
	if err == nil {
		t.Fatal("expected alg=none token to be rejected")
	}
}

func TestAuthenticateEnforcesClaimRules(t *testing.T) {
	cfg := hsAuthConfig()
	cfg.ClaimRules = []config.ClaimRuleConfig{{Claim: "role", Operator: "equals", Value: "admin"}}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tok := signHS(t, jwt.MapClaims{"role": "viewer", "exp": time.Now().Add(time.Hour).Unix()}, "test-secret")
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	_, err = a.Authenticate(req)
	apiErr, ok := err.(*apierr.Error)
	if !ok || apiErr.Kind != apierr.ClaimMismatch {
		t.Fatalf("expected ClaimMismatch, got %v", err)
	}
}

func TestAuthenticateDisabledSkipsValidation(t *testing.T) {
	cfg := hsAuthConfig()
	cfg.Enabled = false
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	claims, err := a.Authenticate(req)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if len(claims) != 0 {
		t.Errorf("expected empty claims when auth disabled, got %v", claims)
	}
}

func TestEvaluateRulesOperators(t *testing.T) {
	claims := Claims{"role": "admin", "level": float64(5), "tags": []interface{}{"a", "b"}}
	cases := []struct {
		rule config.ClaimRuleConfig
		want bool
	}{
		{config.ClaimRuleConfig{Claim: "role", Operator: "equals", Value: "admin"}, true},
		{config.ClaimRuleConfig{Claim: "role", Operator: "in", Value: []interface{}{"admin", "root"}}, true},
		{config.ClaimRuleConfig{Claim: "tags", Operator: "contains", Value: "b"}, true},
		{config.ClaimRuleConfig{Claim: "level", Operator: "gte", Value: float64(5)}, true},
		{config.ClaimRuleConfig{Claim: "level", Operator: "lt", Value: float64(5)}, false},
		{config.ClaimRuleConfig{Claim: "missing", Operator: "equals", Value: "x"}, false},
	}
	for _, c := range cases {
		ok, _ := EvaluateRules(claims, []config.ClaimRuleConfig{c.rule})
		if ok != c.want {
			t.Errorf("rule %+v: got %v, want %v", c.rule, ok, c.want)
		}
	}
}

func TestIsAdmin(t *testing.T) {
	claims := Claims{"role": "admin"}
	if !IsAdmin(claims, "role", "admin") {
		t.Error("expected IsAdmin true")
	}
	if IsAdmin(claims, "role", "viewer") {
		t.Error("expected IsAdmin false")
	}
	if IsAdmin(claims, "", "admin") {
		t.Error("expected IsAdmin false when adminClaim unset")
	}
}
