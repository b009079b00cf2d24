// Package auth provides JWT verification helpers.
package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Modes understood by NewVerifier.
const (
	ModeDev  = "dev"
	ModeHMAC = "hmac"
	ModeJWKS = "jwks"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrMissingTenant = errors.New("missing tenant claim")
)

// Config selects how bearer tokens are checked.
type Config struct {
	Mode        string
	HMACSecret  string
	JWKSURL     string
	TenantClaim string
	RoleClaim   string
	// JWKSCacheTTL defaults to 10 minutes.
	JWKSCacheTTL time.Duration
}

// Verifier validates bearer tokens and extracts tenant/role claims.
// dev mode accepts "tenant:role" tokens without any signature.
type Verifier struct {
	Mode        string
	TenantClaim string
	RoleClaim   string

	secret    []byte
	jwksURL   string
	http      *http.Client
	mu        sync.RWMutex
	keys      map[string]jwk
	lastFetch time.Time
	cacheTTL  time.Duration
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg"`
}

type Principal struct {
	Tenant  string
	Role    string
	Subject string
}

func NewVerifier(cfg Config) (*Verifier, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = ModeDev
	}
	v := &Verifier{
		Mode:        mode,
		TenantClaim: or(cfg.TenantClaim, "tenant"),
		RoleClaim:   or(cfg.RoleClaim, "role"),
		secret:      []byte(cfg.HMACSecret),
		jwksURL:     cfg.JWKSURL,
		http:        &http.Client{Timeout: 5 * time.Second},
		cacheTTL:    cfg.JWKSCacheTTL,
	}
	if v.cacheTTL <= 0 {
		v.cacheTTL = 10 * time.Minute
	}
	switch mode {
	case ModeDev:
	case ModeHMAC:
		if len(v.secret) == 0 {
			return nil, errors.New("auth: hmac mode requires AUTH_HMAC_SECRET")
		}
	case ModeJWKS:
		if v.jwksURL == "" {
			return nil, errors.New("auth: jwks mode requires AUTH_JWKS_URL")
		}
	default:
		return nil, fmt.Errorf("auth: unsupported mode %q", cfg.Mode)
	}
	return v, nil
}

func or(v, d string) string {
	if v != "" {
		return v
	}
	return d
}

func (v *Verifier) Verify(token string) (Principal, error) {
	if v.Mode == ModeDev {
		parts := strings.Split(token, ":")
		if len(parts) >= 2 && parts[0] != "" {
			return Principal{Tenant: parts[0], Role: strings.ToLower(parts[1])}, nil
		}
		return Principal{}, errors.New("invalid dev token; expected tenant:role")
	}
	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(token, claims, v.keyFunc, jwt.WithValidMethods(v.methods()))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid {
		return Principal{}, ErrInvalidToken
	}
	tenant, _ := claims[v.TenantClaim].(string)
	role, _ := claims[v.RoleClaim].(string)
	sub, _ := claims.GetSubject()
	if tenant == "" {
		return Principal{}, ErrMissingTenant
	}
	if role == "" {
		role = "user"
	}
	return Principal{Tenant: tenant, Role: strings.ToLower(role), Subject: sub}, nil
}

func (v *Verifier) methods() []string {
	if v.Mode == ModeJWKS {
		return []string{jwt.SigningMethodRS256.Alg()}
	}
	return []string{jwt.SigningMethodHS256.Alg()}
}

func (v *Verifier) keyFunc(t *jwt.Token) (any, error) {
	switch v.Mode {
	case ModeHMAC:
		return v.secret, nil
	case ModeJWKS:
		kid, _ := t.Header["kid"].(string)
		return v.rsaKey(kid)
	}
	return nil, errors.New("unsupported auth mode")
}

// rsaKey resolves kid against the cached JWKS, refetching when stale or unknown.
func (v *Verifier) rsaKey(kid string) (any, error) {
	v.mu.RLock()
	k, ok := v.keys[kid]
	stale := time.Since(v.lastFetch) > v.cacheTTL
	v.mu.RUnlock()
	if !ok || stale {
		if err := v.fetchJWKS(); err != nil {
			return nil, err
		}
		v.mu.RLock()
		k, ok = v.keys[kid]
		v.mu.RUnlock()
	}
	if !ok || !strings.EqualFold(k.Kty, "RSA") {
		return nil, fmt.Errorf("kid %q not found in JWKS", kid)
	}
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, err
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, err
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(new(big.Int).SetBytes(e).Int64())}, nil
}

func (v *Verifier) fetchJWKS() error {
	resp, err := v.http.Get(v.jwksURL)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch JWKS: HTTP %d", resp.StatusCode)
	}
	var j jwks
	if err := json.NewDecoder(resp.Body).Decode(&j); err != nil {
		return err
	}
	keys := make(map[string]jwk, len(j.Keys))
	for _, k := range j.Keys {
		keys[k.Kid] = k
	}
	v.mu.Lock()
	v.keys = keys
	v.lastFetch = time.Now()
	v.mu.Unlock()
	return nil
}
