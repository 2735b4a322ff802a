// Package oidcclient is a relying-party client for an OpenID Provider: it
// discovers the provider, builds authorization URLs, exchanges
// authorization codes for verified token sets, refreshes them and fetches
// userinfo claims.
package oidcclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/ggoodman/oidcguard/internal/jwtauth"
	"github.com/ggoodman/oidcguard/strategy"
	"golang.org/x/oauth2"
)

// Config describes the relying party registration.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	// RedirectURL is the absolute URL of the login callback.
	RedirectURL string
	// Scopes requested at login. "openid" is added when missing.
	Scopes []string
	// HTTPClient is used for every provider call. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Client is safe for concurrent use.
type Client struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	oauth    oauth2.Config
	meta     *jwtauth.Metadata
	http     *http.Client
}

// New discovers cfg.Issuer and returns a Client for it.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("oidcclient: client id required")
	}
	if cfg.RedirectURL == "" {
		return nil, errors.New("oidcclient: redirect url required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}

	provider, meta, err := jwtauth.Discover(oidc.ClientContext(ctx, hc), cfg.Issuer)
	if err != nil {
		return nil, err
	}

	scopes := append([]string(nil), cfg.Scopes...)
	if !slices.Contains(scopes, oidc.ScopeOpenID) {
		scopes = append([]string{oidc.ScopeOpenID}, scopes...)
	}

	return &Client{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		meta: meta,
		http: hc,
	}, nil
}

// Metadata returns the discovered provider metadata.
func (c *Client) Metadata() jwtauth.Metadata { return *c.meta }

// AuthCodeURL returns the URL to send the browser to for login. PKCE is not
// used; state and nonce protect the round trip.
func (c *Client) AuthCodeURL(state, nonce string) string {
	opts := []oauth2.AuthCodeOption{}
	if nonce != "" {
		opts = append(opts, oidc.Nonce(nonce))
	}
	return c.oauth.AuthCodeURL(state, opts...)
}

// Exchange trades an authorization code for a token set. The returned
// id_token is verified (signature, issuer, audience, expiry) and, when
// nonce is non-empty, must carry the same nonce.
func (c *Client) Exchange(ctx context.Context, code, nonce string) (strategy.TokenSet, error) {
	ctx = oidc.ClientContext(ctx, c.http)
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return strategy.TokenSet{}, fmt.Errorf("oidcclient: exchange: %w", err)
	}
	ts := strategy.FromOAuth2Token(tok)
	if ts.IDToken == "" {
		return strategy.TokenSet{}, errors.New("oidcclient: token response has no id_token")
	}
	idt, err := c.verifier.Verify(ctx, ts.IDToken)
	if err != nil {
		return strategy.TokenSet{}, fmt.Errorf("oidcclient: verify id_token: %w", err)
	}
	if nonce != "" && idt.Nonce != nonce {
		return strategy.TokenSet{}, errors.New("oidcclient: id_token nonce mismatch")
	}
	return ts, nil
}

// Refresh uses refreshToken to obtain a new token set.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (strategy.TokenSet, error) {
	if refreshToken == "" {
		return strategy.TokenSet{}, errors.New("oidcclient: refresh token required")
	}
	ctx = oidc.ClientContext(ctx, c.http)
	tok, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return strategy.TokenSet{}, fmt.Errorf("oidcclient: refresh: %w", err)
	}
	ts := strategy.FromOAuth2Token(tok)
	if ts.RefreshToken == "" {
		ts.RefreshToken = refreshToken
	}
	return ts, nil
}

// UserInfo fetches the claims of the user the token set belongs to.
func (c *Client) UserInfo(ctx context.Context, ts strategy.TokenSet) (map[string]any, error) {
	if ts.AccessToken == "" {
		return nil, errors.New("oidcclient: access token required")
	}
	ctx = oidc.ClientContext(ctx, c.http)
	ui, err := c.provider.UserInfo(ctx, oauth2.StaticTokenSource(ts.OAuth2Token()))
	if err != nil {
		return nil, fmt.Errorf("oidcclient: userinfo: %w", err)
	}
	var claims map[string]any
	if err := ui.Claims(&claims); err != nil {
		return nil, fmt.Errorf("oidcclient: userinfo claims: %w", err)
	}
	return claims, nil
}

var _ strategy.UserInfoFetcher = (*Client)(nil)
