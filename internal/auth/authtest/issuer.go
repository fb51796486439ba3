// Package authtest provides a signing key, a JWKS endpoint, and a token
// minter for tests that need real, verifiable access tokens.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/appadook/portfolio-website-sub001/internal/auth"
	"github.com/appadook/portfolio-website-sub001/internal/config"
	"github.com/appadook/portfolio-website-sub001/internal/domain"
)

// Defaults used by Issuer-minted tokens.
const (
	DefaultIssuer   = "https://id.way.test"
	DefaultAudience = "way-admin"
	DefaultTTL      = 15 * time.Minute
)

// Token describes the claims of a token to mint. Zero values fall back to
// the Issuer defaults.
type Token struct {
	Subject   string
	SessionID string
	Email     string
	Issuer    string
	Audience  string
	TTL       time.Duration

	// NoKeyID omits the kid header.
	NoKeyID bool
}

type signingKey struct {
	kid string
	key *rsa.PrivateKey
}

// Issuer signs RS256 tokens and publishes its public keys as a JWKS.
type Issuer struct {
	t     testing.TB
	clock domain.Clock

	mu        sync.RWMutex
	active    signingKey
	published []signingKey

	failing    atomic.Bool
	fetchCount atomic.Int64

	server *httptest.Server
}

// NewIssuer creates an Issuer with one published key and starts its JWKS
// server. The server is closed when the test ends.
func NewIssuer(t testing.TB, clock domain.Clock) *Issuer {
	t.Helper()
	iss := &Issuer{t: t, clock: clock}
	iss.active = iss.newKey()
	iss.published = []signingKey{iss.active}

	iss.server = httptest.NewServer(http.HandlerFunc(iss.ServeJWKS))
	t.Cleanup(iss.server.Close)
	return iss
}

// JWKSURL returns the URL of the issuer's JWKS endpoint.
func (i *Issuer) JWKSURL() string {
	return i.server.URL + "/jwks"
}

// Verification returns a VerificationConfig matching the issuer defaults.
func (i *Issuer) Verification() config.VerificationConfig {
	return config.VerificationConfig{
		JWKSURL:  i.JWKSURL(),
		Issuer:   DefaultIssuer,
		Audience: DefaultAudience,
		BaseURL:  i.server.URL,
	}
}

// Guard returns a Guard that verifies this issuer's tokens over its JWKS.
func (i *Issuer) Guard() *auth.Guard {
	keys := auth.NewJWKSKeyStore(auth.JWKSConfig{
		URL:        i.JWKSURL(),
		HTTPClient: i.server.Client(),
		Clock:      i.clock,
	})
	return auth.NewGuard(auth.GuardConfig{
		Verification: i.Verification(),
		KeyStore:     keys,
		Clock:        i.clock,
	})
}

// Mint signs a token with the active key.
func (i *Issuer) Mint(tok Token) string {
	i.t.Helper()
	i.mu.RLock()
	active := i.active
	i.mu.RUnlock()
	return i.sign(active, tok)
}

// MintWithForeignKey signs a token with a key that is never published,
// reusing the active kid so only the signature check can reject it.
func (i *Issuer) MintWithForeignKey(tok Token) string {
	i.t.Helper()
	i.mu.RLock()
	kid := i.active.kid
	i.mu.RUnlock()
	foreign := i.newKey()
	foreign.kid = kid
	return i.sign(foreign, tok)
}

// MintWithKeyID signs with the active key but advertises kid in the header.
func (i *Issuer) MintWithKeyID(kid string, tok Token) string {
	i.t.Helper()
	i.mu.RLock()
	k := signingKey{kid: kid, key: i.active.key}
	i.mu.RUnlock()
	return i.sign(k, tok)
}

// Rotate creates a new active key. When keepOld is false the previous keys
// are withdrawn from the JWKS.
func (i *Issuer) Rotate(keepOld bool) {
	next := i.newKey()
	i.mu.Lock()
	defer i.mu.Unlock()
	i.active = next
	if keepOld {
		i.published = append(i.published, next)
	} else {
		i.published = []signingKey{next}
	}
}

// SetFailing makes the JWKS endpoint answer 503 while on.
func (i *Issuer) SetFailing(on bool) {
	i.failing.Store(on)
}

// FetchCount reports how many JWKS requests have been served.
func (i *Issuer) FetchCount() int64 {
	return i.fetchCount.Load()
}

// ServeJWKS writes the published keys as a JWK set.
func (i *Issuer) ServeJWKS(w http.ResponseWriter, _ *http.Request) {
	i.fetchCount.Add(1)
	if i.failing.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	i.mu.RLock()
	keys := make([]map[string]string, 0, len(i.published))
	for _, k := range i.published {
		keys = append(keys, map[string]string{
			"kty": "RSA",
			"use": "sig",
			"alg": "RS256",
			"kid": k.kid,
			"n":   base64.RawURLEncoding.EncodeToString(k.key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(k.key.E)).Bytes()),
		})
	}
	i.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"keys": keys})
}

func (i *Issuer) newKey() signingKey {
	i.t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		i.t.Fatalf("generate RSA key: %v", err)
	}
	return signingKey{kid: "kid-" + uuid.NewString()[:8], key: key}
}

func (i *Issuer) sign(k signingKey, tok Token) string {
	i.t.Helper()
	if tok.Subject == "" {
		tok.Subject = "user_admin"
	}
	if tok.Issuer == "" {
		tok.Issuer = DefaultIssuer
	}
	if tok.Audience == "" {
		tok.Audience = DefaultAudience
	}
	if tok.TTL == 0 {
		tok.TTL = DefaultTTL
	}

	now := i.clock.Now().UTC()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tok.Subject,
			Issuer:    tok.Issuer,
			Audience:  jwt.ClaimStrings{tok.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tok.TTL)),
			ID:        uuid.NewString(),
		},
		SessionID: tok.SessionID,
		Email:     tok.Email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, &claims)
	if !tok.NoKeyID {
		token.Header["kid"] = k.kid
	}

	signed, err := token.SignedString(k.key)
	if err != nil {
		i.t.Fatalf("sign token: %v", err)
	}
	return signed
}
