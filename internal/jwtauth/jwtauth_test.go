package jwtauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

type mockOIDC struct {
	srv       *httptest.Server
	issuer    string
	jwksPath  string
	metaExtra map[string]any
}

func newMockOIDC(t *testing.T, keysJSON []byte, metaExtra map[string]any) *mockOIDC {
	t.Helper()
	m := &mockOIDC{jwksPath: "/keys", metaExtra: metaExtra}
	handler := http.NewServeMux()
	handler.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		meta := map[string]any{
			"issuer":                   m.issuer,
			"jwks_uri":                 m.issuer + m.jwksPath,
			"authorization_endpoint":   m.issuer + "/oauth2/auth",
			"token_endpoint":           m.issuer + "/oauth2/token",
			"userinfo_endpoint":        m.issuer + "/userinfo",
			"response_types_supported": []string{"code"},
		}
		for k, v := range m.metaExtra {
			meta[k] = v
		}
		_ = json.NewEncoder(w).Encode(meta)
	})
	handler.HandleFunc(m.jwksPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(keysJSON)
	})
	m.srv = httptest.NewServer(handler)
	m.issuer = m.srv.URL
	return m
}

func (m *mockOIDC) Close() { m.srv.Close() }

func genRSA(t *testing.T) (*rsa.PrivateKey, string, []byte) {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	kid := "test-key"
	jwk := jose.JSONWebKey{Key: &pk.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"}
	b, err := json.Marshal(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return pk, kid, b
}

func signToken(t *testing.T, pk *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(pk)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func staticKeyfunc(t *testing.T, jwks []byte) jwt.Keyfunc {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(json.RawMessage(jwks))
	if err != nil {
		t.Fatalf("keyfunc: %v", err)
	}
	return kf.Keyfunc
}

const (
	testIssuer = "https://op.example.com"
	testAud    = "urn:example:client"
)

func baseConfig() *Config {
	cfg := DefaultConfig()
	cfg.Issuer = testIssuer
	cfg.ExpectedAudiences = []string{testAud}
	cfg.Leeway = 0
	return cfg
}

func baseClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":               testIssuer,
		"sub":               "user-123",
		"aud":               testAud,
		"exp":               now.Add(2 * time.Hour).Unix(),
		"iat":               now.Unix(),
		"urn:example:claim": "foo",
	}
}

func TestAuthenticator_HappyPath(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	a, err := New(baseConfig(), staticKeyfunc(t, jwks))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	tok := signToken(t, pk, kid, baseClaims())
	ui, err := a.CheckAuthentication(context.Background(), tok)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ui.UserID() != "user-123" {
		t.Fatalf("want sub user-123, got %s", ui.UserID())
	}

	var out struct {
		Claim string `json:"urn:example:claim"`
	}
	if err := ui.Claims(&out); err != nil {
		t.Fatalf("claims: %v", err)
	}
	if out.Claim != "foo" {
		t.Fatalf("claim roundtrip mismatch: %q", out.Claim)
	}
}

func TestAuthenticator_Rejections(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	other, _, _ := genRSA(t)

	a, err := New(baseConfig(), staticKeyfunc(t, jwks))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	tests := []struct {
		name  string
		token func() string
	}{
		{
			name:  "empty",
			token: func() string { return "" },
		},
		{
			name:  "malformed",
			token: func() string { return "not.a.jwt" },
		},
		{
			name: "expired",
			token: func() string {
				c := baseClaims()
				c["exp"] = time.Now().Add(-time.Minute).Unix()
				return signToken(t, pk, kid, c)
			},
		},
		{
			name: "missing exp",
			token: func() string {
				c := baseClaims()
				delete(c, "exp")
				return signToken(t, pk, kid, c)
			},
		},
		{
			name: "wrong audience",
			token: func() string {
				c := baseClaims()
				c["aud"] = "https://unknown"
				return signToken(t, pk, kid, c)
			},
		},
		{
			name: "wrong issuer",
			token: func() string {
				c := baseClaims()
				c["iss"] = "https://evil.example.com"
				return signToken(t, pk, kid, c)
			},
		},
		{
			name: "bad signature",
			token: func() string {
				return signToken(t, other, kid, baseClaims())
			},
		},
		{
			name: "missing sub",
			token: func() string {
				c := baseClaims()
				delete(c, "sub")
				return signToken(t, pk, kid, c)
			},
		},
		{
			name: "disallowed alg",
			token: func() string {
				tok := jwt.NewWithClaims(jwt.SigningMethodHS256, baseClaims())
				tok.Header["kid"] = kid
				s, err := tok.SignedString([]byte("hJtXIZ2uSN5kbQfbtTNWbpdmhkV8FJG-Onbc6mxCcYg"))
				if err != nil {
					t.Fatalf("sign: %v", err)
				}
				return s
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.CheckAuthentication(context.Background(), tt.token())
			if !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("want ErrUnauthorized, got %v", err)
			}
		})
	}
}

func TestAuthenticator_AudienceArray(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	a, err := New(baseConfig(), staticKeyfunc(t, jwks))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	c := baseClaims()
	c["aud"] = []string{"https://other", testAud}
	if _, err := a.CheckAuthentication(context.Background(), signToken(t, pk, kid, c)); err != nil {
		t.Fatalf("check: %v", err)
	}
}

func TestAuthenticator_AdditionalAudiences(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	extra := "http://localhost:8080/api"
	cfg := baseConfig()
	cfg.ExpectedAudiences = []string{testAud, extra}
	a, err := New(cfg, staticKeyfunc(t, jwks))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	c := baseClaims()
	c["aud"] = extra
	if _, err := a.CheckAuthentication(context.Background(), signToken(t, pk, kid, c)); err != nil {
		t.Fatalf("check (extra audience) failed: %v", err)
	}

	c["aud"] = "https://unknown"
	if _, err := a.CheckAuthentication(context.Background(), signToken(t, pk, kid, c)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for unknown audience, got %v", err)
	}
}

func TestNew_RejectsNoneAlg(t *testing.T) {
	cfg := baseConfig()
	cfg.AllowedAlgs = []string{"RS256", "none"}
	if _, err := New(cfg, func(*jwt.Token) (any, error) { return nil, nil }); err == nil {
		t.Fatalf("expected error for alg none")
	}
}

func TestDiscover(t *testing.T) {
	_, _, jwks := genRSA(t)
	oidc := newMockOIDC(t, jwks, nil)
	defer oidc.Close()

	_, meta, err := Discover(context.Background(), oidc.issuer)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if meta.JwksURI != oidc.issuer+"/keys" {
		t.Fatalf("unexpected jwks_uri %q", meta.JwksURI)
	}
	if meta.UserinfoEndpoint != oidc.issuer+"/userinfo" {
		t.Fatalf("unexpected userinfo_endpoint %q", meta.UserinfoEndpoint)
	}
}

func TestDiscover_MissingRequired(t *testing.T) {
	_, _, jwks := genRSA(t)
	oidc := newMockOIDC(t, jwks, map[string]any{"token_endpoint": ""})
	defer oidc.Close()

	if _, _, err := Discover(context.Background(), oidc.issuer); err == nil {
		t.Fatalf("expected error due to missing token_endpoint")
	}
}
