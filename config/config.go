// Package config loads the module's Options from the environment. Options
// are decoded and validated once at startup and never mutated afterwards;
// components receive copies of the parts they need.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/ggoodman/oidcguard/auth"
	"github.com/ggoodman/oidcguard/oidcclient"
	"github.com/ggoodman/oidcguard/sessions"
	"github.com/ggoodman/oidcguard/strategy"
	"github.com/joeshaw/envdecode"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// Options is the complete runtime configuration.
type Options struct {
	Issuer       string `env:"OIDC_ISSUER"`
	ClientID     string `env:"OIDC_CLIENT_ID"`
	ClientSecret string `env:"OIDC_CLIENT_SECRET"`

	// RedirectURILogin is the absolute URL of the /callback endpoint.
	RedirectURILogin string   `env:"OIDC_REDIRECT_URI_LOGIN"`
	Scopes           []string `env:"OIDC_SCOPES,default=openid;profile;email"`
	UserInfoMethod   string   `env:"OIDC_USERINFO_METHOD,default=remote"`

	// Audience expected in bearer tokens. Defaults to ClientID.
	Audience    string        `env:"OIDC_AUDIENCE"`
	JWKSURL     string        `env:"OIDC_JWKS_URL"`
	JWKSFile    string        `env:"OIDC_JWKS_FILE"`
	AllowedAlgs []string      `env:"OIDC_ALLOWED_ALGS,default=RS256"`
	Leeway      time.Duration `env:"OIDC_LEEWAY,default=60s"`

	SessionCookieName string        `env:"SESSION_COOKIE_NAME,default=oidcguard_session"`
	SessionTTL        time.Duration `env:"SESSION_TTL,default=8h"`
	SessionSecure     bool          `env:"SESSION_COOKIE_SECURE,default=false"`
	// SessionSigningKey is a base64 encoded 32-byte Ed25519 seed. When
	// empty a random key is generated and sessions end with the process.
	SessionSigningKey string `env:"SESSION_SIGNING_KEY"`

	StorageBackend  string `env:"STORAGE_BACKEND,default=memory"`
	StorageMaxItems int    `env:"STORAGE_MAX_ITEMS,default=10000"`
	RedisAddr       string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisDB         int    `env:"REDIS_DB,default=0"`
	RedisKeyPrefix  string `env:"REDIS_KEY_PREFIX,default=oidcguard:"`

	// PublicURL is the externally visible base URL. When set, protected
	// resource metadata is served and advertised in challenges.
	PublicURL         string `env:"PUBLIC_URL"`
	PostLoginRedirect string `env:"POST_LOGIN_REDIRECT,default=/"`
	ListenAddr        string `env:"LISTEN_ADDR,default=:8080"`

	// UserInfoCallback is only settable from code, see WithUserInfoCallback.
	UserInfoCallback auth.UserInfoCallback
}

// Option adjusts Options after they are decoded.
type Option func(*Options)

// WithUserInfoCallback installs the callback run for every verified bearer
// identity.
func WithUserInfoCallback(fn auth.UserInfoCallback) Option {
	return func(o *Options) { o.UserInfoCallback = fn }
}

// Load decodes Options from the environment, applies opts and validates
// the result.
func Load(opts ...Option) (Options, error) {
	var o Options
	if err := envdecode.Decode(&o); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Options{}, fmt.Errorf("config: decode env: %w", err)
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.Validate(); err != nil {
		return Options{}, err
	}
	return o, nil
}

// Validate reports every problem with o at once.
func (o Options) Validate() error {
	var errs []error
	if o.Issuer == "" {
		errs = append(errs, errors.New("OIDC_ISSUER is required"))
	}
	if o.audience() == "" {
		errs = append(errs, errors.New("OIDC_AUDIENCE or OIDC_CLIENT_ID is required"))
	}
	if !strategy.UserInfoMethod(o.UserInfoMethod).Valid() {
		errs = append(errs, fmt.Errorf("OIDC_USERINFO_METHOD must be %q or %q, got %q", strategy.UserInfoRemote, strategy.UserInfoFFDC, o.UserInfoMethod))
	}
	if o.JWKSURL != "" && o.JWKSFile != "" {
		errs = append(errs, errors.New("OIDC_JWKS_URL and OIDC_JWKS_FILE are mutually exclusive"))
	}
	if slices.Contains(o.AllowedAlgs, "none") {
		errs = append(errs, errors.New(`OIDC_ALLOWED_ALGS must not contain "none"`))
	}
	if o.Leeway < 0 {
		errs = append(errs, errors.New("OIDC_LEEWAY must not be negative"))
	}
	if o.RedirectURILogin != "" {
		if o.ClientID == "" {
			errs = append(errs, errors.New("OIDC_CLIENT_ID is required for login"))
		}
		if u, err := url.Parse(o.RedirectURILogin); err != nil || !u.IsAbs() {
			errs = append(errs, fmt.Errorf("OIDC_REDIRECT_URI_LOGIN must be an absolute URL, got %q", o.RedirectURILogin))
		}
	}
	if o.PublicURL != "" {
		if u, err := url.Parse(o.PublicURL); err != nil || !u.IsAbs() {
			errs = append(errs, fmt.Errorf("PUBLIC_URL must be an absolute URL, got %q", o.PublicURL))
		}
	}
	if o.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if o.SessionSigningKey != "" {
		if _, err := o.SigningSeed(); err != nil {
			errs = append(errs, err)
		}
	}
	switch o.StorageBackend {
	case StorageMemory:
		if o.StorageMaxItems <= 0 {
			errs = append(errs, errors.New("STORAGE_MAX_ITEMS must be positive"))
		}
	case StorageRedis:
		if o.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", StorageMemory, StorageRedis, o.StorageBackend))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func (o Options) audience() string {
	if o.Audience != "" {
		return o.Audience
	}
	return o.ClientID
}

// LoginEnabled reports whether the browser login flow is configured.
func (o Options) LoginEnabled() bool {
	return o.ClientID != "" && o.RedirectURILogin != ""
}

// Method returns the configured user-info method.
func (o Options) Method() strategy.UserInfoMethod {
	return strategy.UserInfoMethod(o.UserInfoMethod)
}

// SecurityConfig returns the bearer-token verification settings.
func (o Options) SecurityConfig() auth.SecurityConfig {
	return auth.SecurityConfig{
		Issuer:      o.Issuer,
		Audiences:   []string{o.audience()},
		AllowedAlgs: slices.Clone(o.AllowedAlgs),
		JWKSURL:     o.JWKSURL,
		JWKSFile:    o.JWKSFile,
		Leeway:      o.Leeway,
	}
}

// ClientConfig returns the relying-party settings for the login flow.
func (o Options) ClientConfig() oidcclient.Config {
	return oidcclient.Config{
		Issuer:       o.Issuer,
		ClientID:     o.ClientID,
		ClientSecret: o.ClientSecret,
		RedirectURL:  o.RedirectURILogin,
		Scopes:       slices.Clone(o.Scopes),
	}
}

// SessionConfig returns the session cookie settings.
func (o Options) SessionConfig() sessions.Config {
	return sessions.Config{
		CookieName: o.SessionCookieName,
		TTL:        o.SessionTTL,
		Secure:     o.SessionSecure,
	}
}

// SigningSeed decodes SessionSigningKey.
func (o Options) SigningSeed() ([]byte, error) {
	seed, err := base64.StdEncoding.DecodeString(o.SessionSigningKey)
	if err != nil {
		seed, err = base64.RawURLEncoding.DecodeString(o.SessionSigningKey)
	}
	if err != nil {
		return nil, fmt.Errorf("SESSION_SIGNING_KEY is not valid base64: %w", err)
	}
	if len(seed) != 32 {
		return nil, fmt.Errorf("SESSION_SIGNING_KEY must decode to 32 bytes, got %d", len(seed))
	}
	return seed, nil
}
