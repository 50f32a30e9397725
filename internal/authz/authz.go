// Package authz calls an external policy engine to authorize a request
// after authentication, per spec §4.3: serialize a PolicyInput, cache
// decisions by a hash of that input, and apply the configured fail mode on
// transport error.
package authz

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/yatagarasu/yatagarasu/internal/apierr"
	"github.com/yatagarasu/yatagarasu/internal/config"
	"github.com/yatagarasu/yatagarasu/internal/log"
)

// PolicyInput is the record sent to the policy endpoint for one decision.
type PolicyInput struct {
	JWTClaims map[string]interface{} `json:"jwt_claims"`
	Bucket    string                 `json:"bucket"`
	Path      string                 `json:"path"`
	Method    string                 `json:"method"`
	ClientIP  string                 `json:"client_ip"`
}

// policyResponse is the expected shape of the policy endpoint's reply.
type policyResponse struct {
	Allow bool `json:"allow"`
}

type cacheEntry struct {
	allow     bool
	expiresAt time.Time
}

// Authorizer evaluates PolicyInput records against a configured policy
// endpoint, with a decision cache and a fail mode for transport errors.
type Authorizer struct {
	cfg    *config.AuthzConfig
	client *http.Client

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New builds an Authorizer from its bucket binding's AuthzConfig.
func New(cfg *config.AuthzConfig) *Authorizer {
	return &Authorizer{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond},
		cache:  make(map[string]cacheEntry),
	}
}

// Authorize evaluates input against the policy engine, consulting and
// populating the decision cache first. Returns nil on allow, or an
// *apierr.Error with Kind PolicyDeny or PolicyError otherwise.
func (a *Authorizer) Authorize(ctx context.Context, input PolicyInput) error {
	if !a.cfg.Enabled {
		return nil
	}
	key := hashInput(input)

	if allow, ok := a.cachedDecision(key); ok {
		if allow {
			return nil
		}
		return apierr.New(apierr.PolicyDeny, "policy engine denied the request")
	}

	allow, err := a.call(ctx, input)
	if err != nil {
		failMode := a.cfg.FailMode
		if failMode == "" {
			failMode = "fail_closed"
		}
		if failMode == "fail_open" {
			log.Warn("policy engine call failed, allowing under fail_open", log.Pairs{"err": err.Error()})
			return nil
		}
		return apierr.Wrap(apierr.PolicyError, "policy engine call failed under fail_closed", err)
	}

	a.storeDecision(key, allow)
	if !allow {
		return apierr.New(apierr.PolicyDeny, "policy engine denied the request")
	}
	return nil
}

func (a *Authorizer) cachedDecision(key string) (allow bool, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, found := a.cache[key]
	if !found || time.Now().After(entry.expiresAt) {
		return false, false
	}
	return entry.allow, true
}

func (a *Authorizer) storeDecision(key string, allow bool) {
	ttl := time.Duration(a.cfg.DecisionCacheTTLSecs) * time.Second
	if ttl <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache[key] = cacheEntry{allow: allow, expiresAt: time.Now().Add(ttl)}
}

func (a *Authorizer) call(ctx context.Context, input PolicyInput) (bool, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return false, fmt.Errorf("authz: marshal policy input: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.PolicyURL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("authz: build policy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("authz: policy call failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("authz: policy endpoint returned %d", resp.StatusCode)
	}
	var out policyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("authz: decode policy response: %w", err)
	}
	return out.Allow, nil
}

// hashInput deterministically hashes a PolicyInput for decision-cache
// keying. json.Marshal sorts map keys, so the same logical input always
// produces the same key regardless of claim iteration order.
func hashInput(input PolicyInput) string {
	b, _ := json.Marshal(input)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
