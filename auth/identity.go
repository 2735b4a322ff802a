package auth

import "context"

// Method records how a request was authenticated.
type Method string

const (
	MethodBearer  Method = "bearer"
	MethodSession Method = "session"
)

// Identity is the resolved principal of a guarded request.
type Identity struct {
	Subject  string         `json:"subject"`
	Username string         `json:"username,omitempty"`
	Method   Method         `json:"method"`
	Claims   map[string]any `json:"claims,omitempty"`
	// Profile holds the result of the configured UserInfoCallback, if any.
	Profile any `json:"profile,omitempty"`
}

// NewIdentity builds a bearer Identity from verified user info. The
// username is taken from the "username" claim, then "preferred_username",
// then the subject.
func NewIdentity(ui UserInfo) *Identity {
	id := &Identity{Subject: ui.UserID(), Method: MethodBearer}
	var claims map[string]any
	if err := ui.Claims(&claims); err == nil {
		id.Claims = claims
	}
	id.Username = UsernameFromClaims(claims)
	if id.Username == "" {
		id.Username = id.Subject
	}
	return id
}

// UsernameFromClaims returns the "username" claim or, failing that, the
// "preferred_username" claim.
func UsernameFromClaims(claims map[string]any) string {
	if u, _ := claims["username"].(string); u != "" {
		return u
	}
	u, _ := claims["preferred_username"].(string)
	return u
}

type identityKey struct{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the Identity attached by the guard, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}
