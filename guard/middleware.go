package guard

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/oidcguard/auth"
	"github.com/ggoodman/oidcguard/internal/logctx"
)

var (
	jsonMediaType      = contenttype.NewMediaType("application/json")
	textMediaType      = contenttype.NewMediaType("text/plain")
	challengeMediaType = []contenttype.MediaType{jsonMediaType, textMediaType}
)

// Middleware guards next, identified in the route table as handler. Allowed
// requests reach next with the resolved identity (if any) attached to their
// context; rejected requests receive a 401 challenge.
func (g *Guard) Middleware(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := g.activate(ctx, HTTPContext{Handler: handler, Request: r})
		if err != nil {
			g.log.InfoContext(ctx, "request rejected", slog.String("handler", handler))
			g.writeChallenge(w, r, errors.Is(err, errInvalidToken))
			return
		}
		if id != nil {
			ctx = auth.WithIdentity(ctx, id)
			ctx = logctx.WithAuthData(ctx, &logctx.AuthData{Subject: id.Subject, Method: string(id.Method)})
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// Handle registers h on mux under pattern as a protected handler.
func (g *Guard) Handle(mux *http.ServeMux, pattern string, h http.Handler) {
	mux.Handle(pattern, g.Middleware(pattern, h))
}

// HandlePublic marks pattern public and registers h on mux.
func (g *Guard) HandlePublic(mux *http.ServeMux, pattern string, h http.Handler) {
	g.routes.MarkPublic(pattern)
	g.Handle(mux, pattern, h)
}

func (g *Guard) writeChallenge(w http.ResponseWriter, r *http.Request, invalidToken bool) {
	ch := auth.NewAuthenticationRequired(g.realm, g.resourceMetadata)
	if invalidToken {
		ch = auth.NewInvalidTokenChallenge(g.realm, g.resourceMetadata)
	}
	w.Header().Set(wwwAuthenticateHeader, ch.WWWAuthenticate)

	mt, _, err := contenttype.GetAcceptableMediaType(r, challengeMediaType)
	if err == nil && mt.Type == textMediaType.Type && mt.Subtype == textMediaType.Subtype {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(ch.Status)
		_, _ = fmt.Fprintln(w, ch.Description)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ch.Status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             ch.Error,
		"error_description": ch.Description,
	})
}
