// Package wellknown serves the OAuth 2.0 Protected Resource Metadata
// document (RFC 9728) describing how to obtain tokens for this API.
package wellknown

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ggoodman/oidcguard/auth"
)

// ProtectedResourcePath is the well-known path of the metadata document.
const ProtectedResourcePath = "/.well-known/oauth-protected-resource"

type ProtectedResourceMetadata struct {
	Resource                          string   `json:"resource"`
	AuthorizationServers              []string `json:"authorization_servers,omitempty"`
	JwksURI                           string   `json:"jwks_uri,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported            []string `json:"bearer_methods_supported,omitempty"`
	ResourceSigningAlgValuesSupported []string `json:"resource_signing_alg_values_supported,omitempty"`
	ResourceName                      string   `json:"resource_name,omitempty"`
	ResourceDocumentation             string   `json:"resource_documentation,omitempty"`
}

// NewProtectedResourceMetadata describes the resource at publicURL guarded
// with sec. It also returns the URL the document is served at.
func NewProtectedResourceMetadata(publicURL string, sec auth.SecurityConfig) (ProtectedResourceMetadata, string, error) {
	u, err := url.Parse(publicURL)
	if err != nil || !u.IsAbs() {
		return ProtectedResourceMetadata{}, "", fmt.Errorf("wellknown: public url must be absolute, got %q", publicURL)
	}
	sec.Normalize()

	doc := ProtectedResourceMetadata{
		Resource:               strings.TrimSuffix(u.String(), "/"),
		AuthorizationServers:   []string{sec.Issuer},
		JwksURI:                sec.JWKSURL,
		BearerMethodsSupported: []string{"header"},
		// Algorithms accepted for access tokens presented to this resource.
		ResourceSigningAlgValuesSupported: sec.AllowedAlgs,
	}
	docURL := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: ProtectedResourcePath}
	return doc, docURL.String(), nil
}

// Handler serves doc with permissive CORS so browser clients can discover it.
func Handler(doc ProtectedResourceMetadata) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(doc); err != nil {
			http.Error(w, fmt.Sprintf("failed to encode protected resource metadata: %v", err), http.StatusInternalServerError)
		}
	})
}
