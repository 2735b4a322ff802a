package guard

import (
	"context"
	"net/http"
	"strings"
)

// ExecutionContext is the invocation a guard is asked about. It is a closed
// set: HTTPContext for plain HTTP handlers and GraphQLContext for resolvers.
type ExecutionContext interface {
	// HandlerID is the identity used to look the handler up in Routes.
	HandlerID() string

	request() *http.Request
}

// HTTPContext is a plain HTTP invocation.
type HTTPContext struct {
	Handler string
	Request *http.Request
}

func (c HTTPContext) HandlerID() string      { return c.Handler }
func (c HTTPContext) request() *http.Request { return c.Request }

// GraphQLContext is a resolver invocation. The underlying HTTP request is
// carried by the resolver context, placed there by WithHTTPRequest.
type GraphQLContext struct {
	Field   string
	Context context.Context
}

func (c GraphQLContext) HandlerID() string { return c.Field }
func (c GraphQLContext) request() *http.Request {
	if c.Context == nil {
		return nil
	}
	r, _ := HTTPRequestFromContext(c.Context)
	return r
}

var (
	_ ExecutionContext = HTTPContext{}
	_ ExecutionContext = GraphQLContext{}
)

type httpRequestKey struct{}

// ContextWithHTTPRequest returns a copy of ctx carrying r.
func ContextWithHTTPRequest(ctx context.Context, r *http.Request) context.Context {
	return context.WithValue(ctx, httpRequestKey{}, r)
}

// HTTPRequestFromContext returns the request stored by ContextWithHTTPRequest.
func HTTPRequestFromContext(ctx context.Context) (*http.Request, bool) {
	r, ok := ctx.Value(httpRequestKey{}).(*http.Request)
	return r, ok && r != nil
}

// WithHTTPRequest is middleware for GraphQL endpoints: it makes the inbound
// request reachable from resolver contexts so GraphQLContext can be
// normalized like an HTTP one.
func WithHTTPRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(ContextWithHTTPRequest(r.Context(), r)))
	})
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively.
func bearerToken(r *http.Request) (string, bool) {
	if r == nil {
		return "", false
	}
	h := r.Header.Get(authorizationHeader)
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}
