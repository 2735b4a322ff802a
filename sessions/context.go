package sessions

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ggoodman/oidcguard/auth"
	"github.com/ggoodman/oidcguard/internal/logctx"
	"github.com/ggoodman/oidcguard/strategy"
)

type sessionKey struct{}

// WithSession returns a copy of ctx carrying sess.
func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// FromContext returns the session attached by Middleware.
func FromContext(ctx context.Context) (*Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(*Session)
	return sess, ok && sess != nil
}

// UserFromContext returns the user of the session attached by Middleware.
func UserFromContext(ctx context.Context) (*strategy.User, bool) {
	sess, ok := FromContext(ctx)
	if !ok {
		return nil, false
	}
	return sess.User, sess.User != nil
}

// Middleware loads the request's session, if any, and attaches it to the
// request context. Requests without a valid session pass through unchanged;
// enforcement is left to the guard.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := m.Load(r)
		if err != nil {
			if !errors.Is(err, ErrNoSession) {
				m.log.DebugContext(r.Context(), "ignoring session cookie", slog.String("err", err.Error()))
			}
			next.ServeHTTP(w, r)
			return
		}
		ctx := WithSession(r.Context(), sess)
		ctx = logctx.WithAuthData(ctx, &logctx.AuthData{Subject: sess.Subject, Method: string(auth.MethodSession)})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
