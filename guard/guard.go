package guard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ggoodman/oidcguard/auth"
	"github.com/ggoodman/oidcguard/internal/logctx"
)

const (
	authorizationHeader   = "authorization"
	wwwAuthenticateHeader = "www-authenticate"
)

// errInvalidToken marks rejections caused by the bearer token itself, as
// opposed to a failing user-info callback or a missing session.
var errInvalidToken = errors.New("guard: invalid bearer token")

// SessionCheck reports whether r belongs to an authenticated session.
type SessionCheck func(r *http.Request) bool

// Guard decides whether an invocation may proceed.
//
// A handler marked public in Routes is always allowed. Otherwise a request
// carrying a bearer token must present a token the Authenticator accepts,
// and a request without one must satisfy the SessionCheck. Every rejection
// is reported as auth.ErrUnauthorized.
type Guard struct {
	routes       *Routes
	authn        auth.Authenticator
	sessionCheck SessionCheck
	userInfo     auth.UserInfoCallback
	realm        string
	// resourceMetadata is advertised in challenges when set.
	resourceMetadata string
	log              *slog.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithSessionCheck installs the predicate used when no bearer token is
// present. Without one, such requests are rejected.
func WithSessionCheck(fn SessionCheck) Option {
	return func(g *Guard) { g.sessionCheck = fn }
}

// WithUserInfoCallback runs fn with the username of every verified bearer
// identity; its result is stored as Identity.Profile.
func WithUserInfoCallback(fn auth.UserInfoCallback) Option {
	return func(g *Guard) { g.userInfo = fn }
}

// WithRealm sets the realm advertised in WWW-Authenticate challenges.
func WithRealm(realm string) Option {
	return func(g *Guard) { g.realm = realm }
}

// WithResourceMetadata advertises the protected resource metadata document
// URL in every challenge.
func WithResourceMetadata(url string) Option {
	return func(g *Guard) { g.resourceMetadata = url }
}

// WithLogger sets the guard's logger. Diagnostic detail for rejections is
// logged at debug level.
func WithLogger(log *slog.Logger) Option {
	return func(g *Guard) { g.log = log }
}

// New constructs a Guard. routes may be nil, in which case every handler is
// protected.
func New(authn auth.Authenticator, routes *Routes, opts ...Option) (*Guard, error) {
	if authn == nil {
		return nil, errors.New("guard: authenticator is required")
	}
	if routes == nil {
		routes = NewRoutes()
	}
	g := &Guard{
		routes: routes,
		authn:  authn,
		realm:  "api",
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Routes returns the guard's route table.
func (g *Guard) Routes() *Routes { return g.routes }

// CanActivate reports whether ec may proceed. It never returns false with a
// nil error: a denial is always an error wrapping auth.ErrUnauthorized.
func (g *Guard) CanActivate(ctx context.Context, ec ExecutionContext) (bool, error) {
	if _, err := g.activate(ctx, ec); err != nil {
		return false, err
	}
	return true, nil
}

// activate runs the guard and returns the resolved identity. The identity is
// nil for public handlers.
func (g *Guard) activate(ctx context.Context, ec ExecutionContext) (*auth.Identity, error) {
	if ec == nil {
		return nil, auth.ErrUnauthorized
	}
	if g.routes.IsPublic(ec.HandlerID()) {
		return nil, nil
	}

	r := ec.request()

	if tok, ok := bearerToken(r); ok {
		return g.checkBearer(ctx, tok)
	}

	if r == nil || g.sessionCheck == nil || !g.sessionCheck(r) {
		g.log.DebugContext(ctx, "session check failed", slog.String("handler", ec.HandlerID()))
		return nil, auth.ErrUnauthorized
	}
	return &auth.Identity{Method: auth.MethodSession}, nil
}

func (g *Guard) checkBearer(ctx context.Context, tok string) (*auth.Identity, error) {
	ui, err := g.authn.CheckAuthentication(ctx, tok)
	if err != nil {
		g.log.DebugContext(ctx, "bearer token rejected", slog.String("err", err.Error()))
		return nil, auth.Unauthorized(errors.Join(errInvalidToken, err))
	}

	id := auth.NewIdentity(ui)
	if g.userInfo != nil {
		profile, err := g.userInfo(ctx, id.Username)
		if err != nil {
			g.log.DebugContext(ctx, "user info callback failed", slog.String("user", id.Username), slog.String("err", err.Error()))
			return nil, auth.Unauthorized(err)
		}
		id.Profile = profile
	}
	return id, nil
}

// CheckField guards a GraphQL resolver for field. On success the returned
// context carries the resolved identity.
func (g *Guard) CheckField(ctx context.Context, field string) (context.Context, error) {
	id, err := g.activate(ctx, GraphQLContext{Field: field, Context: ctx})
	if err != nil {
		return ctx, err
	}
	if id != nil {
		ctx = auth.WithIdentity(ctx, id)
		ctx = logctx.WithAuthData(ctx, &logctx.AuthData{Subject: id.Subject, Method: string(id.Method)})
	}
	return ctx, nil
}
