// Package login serves the browser side of the OpenID Connect
// authorization-code flow and turns a successful callback into a session.
package login

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ggoodman/oidcguard/auth"
	"github.com/ggoodman/oidcguard/guard"
	"github.com/ggoodman/oidcguard/sessions"
	"github.com/ggoodman/oidcguard/storage"
	"github.com/ggoodman/oidcguard/strategy"
	"github.com/google/uuid"
)

// StateTTL bounds how long a pending login may take.
const StateTTL = 10 * time.Minute

// Client is the relying-party surface the handlers need.
type Client interface {
	AuthCodeURL(state, nonce string) string
	Exchange(ctx context.Context, code, nonce string) (strategy.TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (strategy.TokenSet, error)
}

// Config configures the login handlers.
type Config struct {
	// PostLoginRedirect is where the browser lands after a login that did
	// not ask for a return path. Defaults to "/".
	PostLoginRedirect string
	// PostLogoutRedirect defaults to "/".
	PostLogoutRedirect string
}

// Handler implements the login, callback, logout, refresh and me endpoints.
type Handler struct {
	client   Client
	strategy *strategy.Strategy
	sessions *sessions.Manager
	store    storage.Storage
	cfg      Config
	log      *slog.Logger
}

// pending is the login state kept between /login and /callback.
type pending struct {
	Nonce    string `json:"nonce"`
	ReturnTo string `json:"return_to,omitempty"`
}

// New constructs a Handler. log may be nil.
func New(client Client, st *strategy.Strategy, sm *sessions.Manager, store storage.Storage, cfg Config, log *slog.Logger) (*Handler, error) {
	if client == nil || st == nil || sm == nil || store == nil {
		return nil, errors.New("login: client, strategy, session manager and storage are required")
	}
	if cfg.PostLoginRedirect == "" {
		cfg.PostLoginRedirect = "/"
	}
	if cfg.PostLogoutRedirect == "" {
		cfg.PostLogoutRedirect = "/"
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{client: client, strategy: st, sessions: sm, store: store, cfg: cfg, log: log}, nil
}

// Register mounts the endpoints on mux. The flow endpoints are public;
// /me, /refresh and /logout/all go through g.
func (h *Handler) Register(mux *http.ServeMux, g *guard.Guard) {
	g.HandlePublic(mux, "GET /login", http.HandlerFunc(h.Login))
	g.HandlePublic(mux, "GET /callback", http.HandlerFunc(h.Callback))
	g.HandlePublic(mux, "GET /logout", http.HandlerFunc(h.Logout))
	g.HandlePublic(mux, "POST /logout", http.HandlerFunc(h.Logout))
	g.Handle(mux, "GET /me", http.HandlerFunc(h.Me))
	g.Handle(mux, "POST /refresh", http.HandlerFunc(h.Refresh))
	g.Handle(mux, "POST /logout/all", http.HandlerFunc(h.LogoutAll))
}

// Login starts the flow: it records a fresh state and nonce and redirects
// to the provider.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state := uuid.NewString()
	p := pending{Nonce: uuid.NewString(), ReturnTo: safeReturnTo(r.URL.Query().Get("return_to"))}

	data, err := json.Marshal(p)
	if err != nil {
		h.fail(w, r, http.StatusInternalServerError, "server_error", err)
		return
	}
	if err := h.store.Set(ctx, state, data, storage.WithLogin(), storage.WithTTL(StateTTL)); err != nil {
		h.fail(w, r, http.StatusInternalServerError, "server_error", err)
		return
	}
	http.Redirect(w, r, h.client.AuthCodeURL(state, p.Nonce), http.StatusFound)
}

// Callback completes the flow. Every failure answers 401; a state value is
// accepted at most once.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if e := q.Get("error"); e != "" {
		h.fail(w, r, http.StatusUnauthorized, "unauthorized", auth.Unauthorized(errors.New("provider returned "+e)))
		return
	}
	state, code := q.Get("state"), q.Get("code")
	if state == "" || code == "" {
		h.fail(w, r, http.StatusUnauthorized, "unauthorized", auth.Unauthorized(errors.New("missing state or code")))
		return
	}

	item, err := h.store.Take(ctx, state, storage.WithLogin())
	if err != nil {
		h.fail(w, r, http.StatusInternalServerError, "server_error", err)
		return
	}
	if item == nil {
		h.fail(w, r, http.StatusUnauthorized, "unauthorized", auth.Unauthorized(errors.New("unknown or reused state")))
		return
	}
	var p pending
	if err := json.Unmarshal(item.Data, &p); err != nil {
		h.fail(w, r, http.StatusUnauthorized, "unauthorized", auth.Unauthorized(err))
		return
	}

	ts, err := h.client.Exchange(ctx, code, p.Nonce)
	if err != nil {
		h.fail(w, r, http.StatusUnauthorized, "unauthorized", auth.Unauthorized(err))
		return
	}
	user, err := h.strategy.Validate(ctx, ts)
	if err != nil {
		h.fail(w, r, http.StatusUnauthorized, "unauthorized", err)
		return
	}
	if _, err := h.sessions.Create(ctx, w, user); err != nil {
		h.fail(w, r, http.StatusInternalServerError, "server_error", err)
		return
	}

	dest := h.cfg.PostLoginRedirect
	if p.ReturnTo != "" {
		dest = p.ReturnTo
	}
	http.Redirect(w, r, dest, http.StatusFound)
}

// Logout destroys the session and redirects.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Destroy(r.Context(), w, r); err != nil {
		h.fail(w, r, http.StatusInternalServerError, "server_error", err)
		return
	}
	http.Redirect(w, r, h.cfg.PostLogoutRedirect, http.StatusFound)
}

// LogoutAll signs the session's user out of every session they hold,
// including the current one.
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, err := h.session(r)
	if err != nil {
		h.fail(w, r, http.StatusUnauthorized, "unauthorized", auth.Unauthorized(err))
		return
	}
	if err := h.sessions.DestroyUser(ctx, sess.Subject); err != nil {
		h.fail(w, r, http.StatusInternalServerError, "server_error", err)
		return
	}
	if err := h.sessions.Destroy(ctx, w, r); err != nil {
		h.fail(w, r, http.StatusInternalServerError, "server_error", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// meResponse never includes tokens.
type meResponse struct {
	Subject  string         `json:"subject"`
	Username string         `json:"username,omitempty"`
	Method   auth.Method    `json:"method"`
	UserInfo map[string]any `json:"userinfo,omitempty"`
	Profile  any            `json:"profile,omitempty"`
}

// Me describes the caller, whether authenticated by bearer token or by
// session.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	var res meResponse
	if id, ok := auth.IdentityFromContext(r.Context()); ok && id.Method == auth.MethodBearer {
		res = meResponse{Subject: id.Subject, Username: id.Username, Method: id.Method, UserInfo: id.Claims, Profile: id.Profile}
	} else {
		sess, err := h.session(r)
		if err != nil {
			h.fail(w, r, http.StatusUnauthorized, "unauthorized", auth.Unauthorized(err))
			return
		}
		res = meResponse{Subject: sess.Subject, Username: sess.User.Username(), Method: auth.MethodSession, UserInfo: sess.User.UserInfo}
	}
	writeJSON(w, http.StatusOK, res)
}

// Refresh renews the session's tokens with its refresh token and re-resolves
// the user info.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, err := h.session(r)
	if err != nil {
		h.fail(w, r, http.StatusUnauthorized, "unauthorized", auth.Unauthorized(err))
		return
	}
	ts, err := h.client.Refresh(ctx, sess.User.RefreshToken)
	if err != nil {
		h.fail(w, r, http.StatusUnauthorized, "unauthorized", auth.Unauthorized(err))
		return
	}
	if ts.IDToken == "" {
		ts.IDToken = sess.User.IDToken
	}
	user, err := h.strategy.Validate(ctx, ts)
	if err != nil {
		h.fail(w, r, http.StatusUnauthorized, "unauthorized", err)
		return
	}
	if err := h.sessions.Update(ctx, sess, user); err != nil {
		h.fail(w, r, http.StatusInternalServerError, "server_error", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) session(r *http.Request) (*sessions.Session, error) {
	if sess, ok := sessions.FromContext(r.Context()); ok {
		return sess, nil
	}
	return h.sessions.Load(r)
}

// fail logs err and writes a generic error body. Details stay in the log.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, status int, code string, err error) {
	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.log.Log(r.Context(), level, "login request failed", slog.String("path", r.URL.Path), slog.Int("status", status), slog.String("err", err.Error()))
	writeJSON(w, status, map[string]string{"error": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// safeReturnTo accepts only local absolute paths.
func safeReturnTo(s string) string {
	if !strings.HasPrefix(s, "/") || strings.HasPrefix(s, "//") || strings.HasPrefix(s, `/\`) {
		return ""
	}
	return s
}
