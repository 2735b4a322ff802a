package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggoodman/oidcguard/internal/jwtauth"
	"github.com/ggoodman/oidcguard/keystore"
)

// SecurityConfig describes how this resource validates bearer tokens: who
// issues them, who they must be addressed to, and where the verification
// keys come from.
//
// Exactly one key source is used, in order of preference: JWKSFile, JWKSURL,
// then OIDC discovery against Issuer.
type SecurityConfig struct {
	Issuer      string
	Audiences   []string
	AllowedAlgs []string // default: ["RS256"] if empty
	JWKSURL     string   // optional override; otherwise filled by discovery
	JWKSFile    string   // optional local JWKS document, reloaded on change

	Leeway time.Duration // clock skew tolerance (default 60s)
}

// Normalize fills defaults.
func (c *SecurityConfig) Normalize() {
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{"RS256"}
	}
	if c.Leeway == 0 {
		c.Leeway = 60 * time.Second
	}
}

// Validate returns an error if required invariants are not met.
func (c SecurityConfig) Validate() error {
	if c.Issuer == "" {
		return errors.New("security: issuer required")
	}
	if len(c.Audiences) == 0 {
		return errors.New("security: at least one audience required")
	}
	for _, a := range c.Audiences {
		if a == "" {
			return errors.New("security: empty audience entry")
		}
	}
	return nil
}

// Copy returns a deep copy safe for mutation by the caller.
func (c SecurityConfig) Copy() SecurityConfig {
	dup := c
	dup.Audiences = append([]string(nil), c.Audiences...)
	dup.AllowedAlgs = append([]string(nil), c.AllowedAlgs...)
	return dup
}

// SecurityProvider is an Authenticator that owns a key store which must be
// released with Close.
type SecurityProvider interface {
	Authenticator
	SecurityConfig() SecurityConfig
	Close() error
}

// NewAuthenticator resolves the configured key source and returns a
// SecurityProvider over it. A nil logger discards key store logs.
func (c SecurityConfig) NewAuthenticator(ctx context.Context, log *slog.Logger) (SecurityProvider, error) {
	cc := c.Copy()
	cc.Normalize()
	if err := cc.Validate(); err != nil {
		return nil, err
	}

	var (
		ks  keystore.KeyStore
		err error
	)
	switch {
	case cc.JWKSFile != "":
		ks, err = keystore.NewFile(ctx, cc.JWKSFile, log)
	case cc.JWKSURL != "":
		ks, err = keystore.NewRemote(ctx, cc.JWKSURL)
	default:
		var meta *jwtauth.Metadata
		_, meta, err = jwtauth.Discover(ctx, cc.Issuer)
		if err != nil {
			return nil, err
		}
		cc.JWKSURL = meta.JwksURI
		ks, err = keystore.NewRemote(ctx, meta.JwksURI)
	}
	if err != nil {
		return nil, fmt.Errorf("security: key store: %w", err)
	}

	a, err := jwtauth.New(&jwtauth.Config{
		Issuer:            cc.Issuer,
		ExpectedAudiences: append([]string(nil), cc.Audiences...),
		AllowedAlgs:       append([]string(nil), cc.AllowedAlgs...),
		Leeway:            cc.Leeway,
	}, ks.Keyfunc)
	if err != nil {
		_ = ks.Close()
		return nil, err
	}
	return &provider{adapter: adapter{a: a}, ks: ks, sec: cc}, nil
}

type provider struct {
	adapter
	ks  keystore.KeyStore
	sec SecurityConfig
}

func (p *provider) SecurityConfig() SecurityConfig { return p.sec.Copy() }
func (p *provider) Close() error                   { return p.ks.Close() }
