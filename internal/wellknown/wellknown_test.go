package wellknown

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ggoodman/oidcguard/auth"
)

func TestNewProtectedResourceMetadata(t *testing.T) {
	doc, docURL, err := NewProtectedResourceMetadata("https://api.example.com/", auth.SecurityConfig{
		Issuer:    "https://op.example.com",
		Audiences: []string{"urn:api"},
		JWKSURL:   "https://op.example.com/keys",
	})
	if err != nil {
		t.Fatalf("NewProtectedResourceMetadata: %v", err)
	}
	if docURL != "https://api.example.com/.well-known/oauth-protected-resource" {
		t.Fatalf("docURL = %q", docURL)
	}
	if doc.Resource != "https://api.example.com" || doc.AuthorizationServers[0] != "https://op.example.com" || doc.JwksURI != "https://op.example.com/keys" {
		t.Fatalf("unexpected doc %+v", doc)
	}
	if len(doc.ResourceSigningAlgValuesSupported) != 1 || doc.ResourceSigningAlgValuesSupported[0] != "RS256" {
		t.Fatalf("algs = %v", doc.ResourceSigningAlgValuesSupported)
	}

	if _, _, err := NewProtectedResourceMetadata("/relative", auth.SecurityConfig{}); err == nil {
		t.Fatal("relative url should fail")
	}
}

func TestHandler(t *testing.T) {
	h := Handler(ProtectedResourceMetadata{Resource: "https://api.example.com", AuthorizationServers: []string{"https://op.example.com"}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, ProtectedResourcePath, nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("status %d headers %v", rec.Code, rec.Header())
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["resource"] != "https://api.example.com" {
		t.Fatalf("unexpected body %v", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, ProtectedResourcePath, nil))
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatalf("preflight status %d", rec.Code)
	}
}
