// Package auth implements bearer-token extraction and JWT validation per
// spec §4.2: configurable sources, HS/RS/ES signing families, kid-based key
// selection (explicit keys or a JWKS document), and conjunctive claim rules.
package auth

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/yatagarasu/yatagarasu/internal/apierr"
	"github.com/yatagarasu/yatagarasu/internal/config"
)

// Authenticator validates bearer tokens for one bucket binding's AuthConfig.
type Authenticator struct {
	cfg     *config.AuthConfig
	rsaKeys map[string]*rsa.PublicKey
	ecKeys  map[string]*ecdsa.PublicKey
	jwks    *JWKSClient
	leeway  time.Duration
}

// New builds an Authenticator, parsing any configured PEM public keys and
// wiring a JWKS client when configured. Returns an error if a configured
// public key fails to parse — that is a configuration mistake, not a
// per-request condition.
func New(cfg *config.AuthConfig) (*Authenticator, error) {
	a := &Authenticator{
		cfg:     cfg,
		rsaKeys: make(map[string]*rsa.PublicKey),
		ecKeys:  make(map[string]*ecdsa.PublicKey),
		leeway:  time.Duration(cfg.LeewaySecs) * time.Second,
	}
	family := algorithmFamily(cfg.Algorithm)
	for kid, pem := range cfg.PublicKeys {
		switch family {
		case "RS":
			key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
			if err != nil {
				return nil, fmt.Errorf("auth: parse RSA public key %q: %w", kid, err)
			}
			a.rsaKeys[kid] = key
		case "ES":
			key, err := jwt.ParseECPublicKeyFromPEM([]byte(pem))
			if err != nil {
				return nil, fmt.Errorf("auth: parse EC public key %q: %w", kid, err)
			}
			a.ecKeys[kid] = key
		}
	}
	if cfg.JWKS != nil && cfg.JWKS.URL != "" {
		a.jwks = NewJWKSClient(
			cfg.JWKS.URL,
			time.Duration(cfg.JWKS.TTLSecs)*time.Second,
			time.Duration(cfg.JWKS.TimeoutMs)*time.Millisecond,
		)
	}
	return a, nil
}

func algorithmFamily(alg string) string {
	switch {
	case strings.HasPrefix(alg, "HS"):
		return "HS"
	case strings.HasPrefix(alg, "RS"):
		return "RS"
	case strings.HasPrefix(alg, "ES"):
		return "ES"
	default:
		return ""
	}
}

// Authenticate extracts and validates a bearer token from r per spec §4.2.
// When cfg.Enabled is false, it returns an empty, unchecked Claims set —
// the caller's pipeline stage is itself skipped in that configuration.
func (a *Authenticator) Authenticate(r *http.Request) (Claims, error) {
	if !a.cfg.Enabled {
		return Claims{}, nil
	}
	tokenStr, ok := ExtractToken(r, a.cfg.Sources)
	if !ok {
		return nil, apierr.New(apierr.MissingToken, "no bearer token found in configured sources")
	}

	token, err := jwt.Parse(tokenStr, a.keyFunc,
		jwt.WithValidMethods([]string{a.cfg.Algorithm}),
		jwt.WithLeeway(a.leeway),
	)
	if err != nil {
		return nil, apierr.Wrap(apierr.InvalidToken, classifyJWTError(err), err)
	}
	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, apierr.New(apierr.InvalidToken, "token failed validation")
	}
	claims := Claims(mapClaims)

	if ok, failed := EvaluateRules(claims, a.cfg.ClaimRules); !ok {
		return nil, apierr.New(apierr.ClaimMismatch, fmt.Sprintf("claim %q did not satisfy its configured rule", failed))
	}
	return claims, nil
}

// keyFunc resolves the verification key for token, rejecting any algorithm
// that does not match the configured family even when jwt.WithValidMethods
// would already have caught a mismatch — defense against algorithm-confusion
// attacks is enforced at both layers per spec §4.2.
func (a *Authenticator) keyFunc(token *jwt.Token) (interface{}, error) {
	family := algorithmFamily(a.cfg.Algorithm)
	if algorithmFamily(token.Method.Alg()) != family || family == "" {
		return nil, fmt.Errorf("unexpected signing algorithm %q", token.Method.Alg())
	}

	switch family {
	case "HS":
		return []byte(a.cfg.SharedSecret), nil
	case "RS":
		return a.resolveRSAKey(token)
	case "ES":
		return a.resolveECKey(token)
	default:
		return nil, fmt.Errorf("unsupported algorithm family for %q", a.cfg.Algorithm)
	}
}

func (a *Authenticator) resolveRSAKey(token *jwt.Token) (interface{}, error) {
	if kid, ok := token.Header["kid"].(string); ok && kid != "" {
		if key, ok := a.rsaKeys[kid]; ok {
			return key, nil
		}
		if a.jwks != nil {
			return a.jwks.Key(kid)
		}
		return nil, fmt.Errorf("no RSA key configured for kid %q", kid)
	}
	for _, key := range a.rsaKeys {
		return key, nil
	}
	return nil, errors.New("no kid in token and no configured RSA key to fall back on")
}

func (a *Authenticator) resolveECKey(token *jwt.Token) (interface{}, error) {
	if kid, ok := token.Header["kid"].(string); ok && kid != "" {
		if key, ok := a.ecKeys[kid]; ok {
			return key, nil
		}
		return nil, fmt.Errorf("no EC key configured for kid %q", kid)
	}
	for _, key := range a.ecKeys {
		return key, nil
	}
	return nil, errors.New("no kid in token and no configured EC key to fall back on")
}

func classifyJWTError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return "token not yet valid"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "token malformed"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "token signature invalid"
	default:
		return "token validation failed"
	}
}
