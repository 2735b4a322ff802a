package jwtauth

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Metadata is the subset of an OpenID Provider's discovery document needed
// to validate bearer tokens and drive the authorization-code login flow.
type Metadata struct {
	Issuer                string   `json:"issuer"`
	JwksURI               string   `json:"jwks_uri"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	UserinfoEndpoint      string   `json:"userinfo_endpoint"`
	ScopesSupported       []string `json:"scopes_supported"`
	SigningAlgs           []string `json:"id_token_signing_alg_values_supported"`
}

// Discover performs OIDC discovery against issuer and returns the provider
// handle alongside the decoded metadata.
func Discover(ctx context.Context, issuer string) (*oidc.Provider, *Metadata, error) {
	if issuer == "" {
		return nil, nil, fmt.Errorf("issuer is required")
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, nil, fmt.Errorf("oidc discovery failed: %w", err)
	}

	var meta Metadata
	if err := provider.Claims(&meta); err != nil {
		return nil, nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}

	missing := []string{}
	if meta.JwksURI == "" {
		missing = append(missing, "jwks_uri")
	}
	if meta.AuthorizationEndpoint == "" {
		missing = append(missing, "authorization_endpoint")
	}
	if meta.TokenEndpoint == "" {
		missing = append(missing, "token_endpoint")
	}
	if len(missing) > 0 {
		return nil, nil, fmt.Errorf("discovery incomplete: missing %s", strings.Join(missing, ", "))
	}

	return provider, &meta, nil
}
