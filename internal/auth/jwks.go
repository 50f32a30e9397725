package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/yatagarasu/yatagarasu/internal/log"
)

// jwk is one entry of a JSON Web Key Set document, restricted to the RSA
// fields this gateway understands; EC entries are not parsed.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksDoc struct {
	Keys []jwk `json:"keys"`
}

// JWKSClient fetches and caches a remote key set, keyed by kid, per spec
// §4.2: "caches the document with TTL; on expiry, refetch; on fetch
// failure, keep the stale document (fail-open on refresh, not on initial
// load)".
type JWKSClient struct {
	url     string
	ttl     time.Duration
	client  *http.Client
	mu      sync.Mutex
	keys    map[string]*rsa.PublicKey
	fetched time.Time
	loaded  bool
}

// NewJWKSClient constructs a client for the given JWKS document URL.
func NewJWKSClient(url string, ttl time.Duration, timeout time.Duration) *JWKSClient {
	return &JWKSClient{
		url:    url,
		ttl:    ttl,
		client: &http.Client{Timeout: timeout},
	}
}

// Key resolves a public key by kid, refreshing the cached document if its
// TTL has elapsed. A refresh failure after an initial successful load is
// logged and the stale document is kept; a failure on first load is
// returned as an error (there is nothing to fall back on).
func (j *JWKSClient) Key(kid string) (*rsa.PublicKey, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.loaded || time.Since(j.fetched) > j.ttl {
		if err := j.refreshLocked(); err != nil {
			if !j.loaded {
				return nil, fmt.Errorf("auth: jwks initial fetch failed: %w", err)
			}
			log.Warn("jwks refresh failed, serving stale document", log.Pairs{"url": j.url, "err": err.Error()})
		}
	}
	key, ok := j.keys[kid]
	if !ok {
		return nil, fmt.Errorf("auth: kid %q not found in jwks document", kid)
	}
	return key, nil
}

func (j *JWKSClient) refreshLocked() error {
	req, err := http.NewRequest(http.MethodGet, j.url, nil)
	if err != nil {
		return err
	}
	resp, err := j.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}
	var doc jwksDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return err
	}
	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := rsaKeyFromJWK(k)
		if err != nil {
			log.Warn("skipping unparseable jwks entry", log.Pairs{"kid": k.Kid, "err": err.Error()})
			continue
		}
		keys[k.Kid] = pub
	}
	j.keys = keys
	j.fetched = time.Now()
	j.loaded = true
	return nil
}

func rsaKeyFromJWK(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode n: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode e: %w", err)
	}
	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}
