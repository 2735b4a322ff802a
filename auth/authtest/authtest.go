// Package authtest provides signing keys, token fixtures and an in-process
// OpenID Provider for exercising the guard, strategy and login flow in tests.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Signer holds an RSA key pair published under a key id.
type Signer struct {
	Key   *rsa.PrivateKey
	KeyID string
}

// NewSigner generates a fresh 2048-bit RSA key.
func NewSigner(t testing.TB, kid string) *Signer {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	return &Signer{Key: pk, KeyID: kid}
}

// JWKS returns the public half of every signer as a JWKS document.
func JWKS(t testing.TB, signers ...*Signer) []byte {
	t.Helper()
	b, err := jwksJSON(signers...)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return b
}

func jwksJSON(signers ...*Signer) ([]byte, error) {
	set := jose.JSONWebKeySet{}
	for _, s := range signers {
		set.Keys = append(set.Keys, jose.JSONWebKey{Key: &s.Key.PublicKey, KeyID: s.KeyID, Algorithm: "RS256", Use: "sig"})
	}
	return json.Marshal(set)
}

// Sign produces a compact RS256 JWT carrying claims.
func (s *Signer) Sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	out, err := s.sign(claims)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return out
}

func (s *Signer) sign(claims jwt.MapClaims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.KeyID
	tok.Header["typ"] = "JWT"
	return tok.SignedString(s.Key)
}

// Claims returns a standard claim set valid for ttl from now.
func Claims(issuer, audience, subject string, ttl time.Duration) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": issuer,
		"aud": audience,
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
}

// Provider is a minimal OpenID Provider: discovery, JWKS, an auto-approving
// authorization endpoint, a token endpoint and a userinfo endpoint.
type Provider struct {
	Server   *httptest.Server
	Issuer   string
	ClientID string
	Signer   *Signer

	// UserInfo is served from the userinfo endpoint and embedded in issued
	// id_tokens.
	UserInfo map[string]any

	// FailUserInfo makes the userinfo endpoint answer 500.
	FailUserInfo atomic.Bool

	mu    sync.Mutex
	codes map[string]string // code -> nonce
}

// NewProvider starts a Provider that is shut down when the test ends.
func NewProvider(t testing.TB, clientID string) *Provider {
	t.Helper()
	p := &Provider{
		ClientID: clientID,
		Signer:   NewSigner(t, "provider-key"),
		UserInfo: map[string]any{
			"sub":      "user-123",
			"username": "jdoe",
			"email":    "jdoe@example.com",
		},
		codes: map[string]string{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("GET /keys", func(w http.ResponseWriter, r *http.Request) {
		b, err := jwksJSON(p.Signer)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(b)
	})
	mux.HandleFunc("GET /authorize", p.handleAuthorize)
	mux.HandleFunc("POST /token", p.handleToken)
	mux.HandleFunc("GET /userinfo", p.handleUserInfo)

	p.Server = httptest.NewServer(mux)
	p.Issuer = p.Server.URL
	t.Cleanup(p.Server.Close)
	return p
}

// IDToken signs an id_token for the provider's configured user.
func (p *Provider) IDToken(t testing.TB, nonce string) string {
	t.Helper()
	tok, err := p.idToken(nonce)
	if err != nil {
		t.Fatalf("sign id_token: %v", err)
	}
	return tok
}

func (p *Provider) idToken(nonce string) (string, error) {
	sub, _ := p.UserInfo["sub"].(string)
	claims := Claims(p.Issuer, p.ClientID, sub, time.Hour)
	for k, v := range p.UserInfo {
		claims[k] = v
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	return p.Signer.sign(claims)
}

func (p *Provider) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"issuer":                                p.Issuer,
		"jwks_uri":                              p.Issuer + "/keys",
		"authorization_endpoint":                p.Issuer + "/authorize",
		"token_endpoint":                        p.Issuer + "/token",
		"userinfo_endpoint":                     p.Issuer + "/userinfo",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"scopes_supported":                      []string{"openid", "profile", "email"},
	})
}

func (p *Provider) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirect, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || redirect.String() == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}
	code := uuid.NewString()
	p.mu.Lock()
	p.codes[code] = q.Get("nonce")
	p.mu.Unlock()

	back := redirect.Query()
	back.Set("code", code)
	back.Set("state", q.Get("state"))
	redirect.RawQuery = back.Encode()
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var nonce string
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		code := r.PostForm.Get("code")
		p.mu.Lock()
		n, ok := p.codes[code]
		delete(p.codes, code)
		p.mu.Unlock()
		if !ok {
			writeTokenError(w, "invalid_grant")
			return
		}
		nonce = n
	case "refresh_token":
		if r.PostForm.Get("refresh_token") == "" {
			writeTokenError(w, "invalid_grant")
			return
		}
	default:
		writeTokenError(w, "unsupported_grant_type")
		return
	}

	idToken, err := p.idToken(nonce)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  "at-" + uuid.NewString(),
		"refresh_token": "rt-" + uuid.NewString(),
		"token_type":    "Bearer",
		"expires_in":    3600,
		"id_token":      idToken,
	})
}

func (p *Provider) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	if p.FailUserInfo.Load() {
		http.Error(w, "userinfo unavailable", http.StatusInternalServerError)
		return
	}
	if tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); !ok || tok == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(p.UserInfo)
}

func writeTokenError(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
