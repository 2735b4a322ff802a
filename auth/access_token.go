package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/oidcguard/internal/jwtauth"
	"github.com/ggoodman/oidcguard/keystore"
)

// BearerAuthOption configures optional aspects of the bearer token
// authenticator (algorithms, leeway, extra audiences).
type BearerAuthOption func(*jwtauth.Config)

// WithAllowedAlgs restricts allowed JWS algorithms. "none" is never allowed.
// Defaults to ["RS256"].
func WithAllowedAlgs(algs ...string) BearerAuthOption {
	return func(c *jwtauth.Config) {
		c.AllowedAlgs = append([]string(nil), algs...)
	}
}

// WithLeeway sets clock skew tolerance for time-based claims.
func WithLeeway(d time.Duration) BearerAuthOption {
	return func(c *jwtauth.Config) { c.Leeway = d }
}

// WithAdditionalAudiences accepts tokens whose "aud" names any of auds in
// addition to the primary audience.
func WithAdditionalAudiences(auds ...string) BearerAuthOption {
	return func(c *jwtauth.Config) {
		c.ExpectedAudiences = append(c.ExpectedAudiences, auds...)
	}
}

// NewFromKeyStore returns an Authenticator that verifies bearer tokens
// against ks, enforcing issuer, audience and expiry.
func NewFromKeyStore(ks keystore.KeyStore, issuer string, audience string, opts ...BearerAuthOption) (Authenticator, error) {
	if ks == nil {
		return nil, errors.New("key store is required")
	}
	if audience == "" {
		return nil, errors.New("audience is required")
	}
	cfg := jwtauth.DefaultConfig()
	cfg.Issuer = issuer
	cfg.ExpectedAudiences = []string{audience}
	for _, opt := range opts {
		opt(cfg)
	}
	a, err := jwtauth.New(cfg, ks.Keyfunc)
	if err != nil {
		return nil, err
	}
	return &adapter{a: a}, nil
}

// NewFromDiscovery returns an Authenticator for tokens issued by issuer. The
// JWKS location is learned via OpenID Connect discovery and keys are
// refreshed in the background until ctx is cancelled.
//
// Required:
//   - issuer:   authorization server issuer URL
//   - audience: expected audience ("aud") claim
func NewFromDiscovery(ctx context.Context, issuer string, audience string, opts ...BearerAuthOption) (Authenticator, error) {
	if audience == "" {
		return nil, errors.New("audience is required")
	}
	_, meta, err := jwtauth.Discover(ctx, issuer)
	if err != nil {
		return nil, err
	}
	ks, err := keystore.NewRemote(ctx, meta.JwksURI)
	if err != nil {
		return nil, err
	}
	// The discovered issuer is authoritative for the "iss" comparison.
	return NewFromKeyStore(ks, meta.Issuer, audience, opts...)
}

// adapter wraps the internal authenticator to satisfy the public interface.
type adapter struct {
	a jwtauth.Authenticator
}

func (ad *adapter) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	ui, err := ad.a.CheckAuthentication(ctx, tok)
	if err != nil {
		return nil, Unauthorized(err)
	}
	return userInfoAdapter{ui: ui}, nil
}

type userInfoAdapter struct{ ui jwtauth.UserInfo }

func (u userInfoAdapter) UserID() string       { return u.ui.UserID() }
func (u userInfoAdapter) Claims(ref any) error { return u.ui.Claims(ref) }

// Unauthorized wraps err so that it matches ErrUnauthorized while keeping
// the underlying diagnostic for logs.
func Unauthorized(err error) error {
	if err == nil || errors.Is(err, ErrUnauthorized) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnauthorized, err)
}
