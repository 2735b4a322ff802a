// Package app assembles the guarded demo server from config.Options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ggoodman/oidcguard/auth"
	"github.com/ggoodman/oidcguard/config"
	"github.com/ggoodman/oidcguard/guard"
	"github.com/ggoodman/oidcguard/internal/logctx"
	"github.com/ggoodman/oidcguard/internal/wellknown"
	"github.com/ggoodman/oidcguard/login"
	"github.com/ggoodman/oidcguard/oidcclient"
	"github.com/ggoodman/oidcguard/sessions"
	"github.com/ggoodman/oidcguard/storage"
	"github.com/ggoodman/oidcguard/storage/memory"
	"github.com/ggoodman/oidcguard/storage/redis"
	"github.com/ggoodman/oidcguard/strategy"
)

// App is a fully wired server. Close releases key stores and storage.
type App struct {
	Handler  http.Handler
	Guard    *guard.Guard
	Sessions *sessions.Manager

	closers []func() error
}

// New wires every component described by o.
func New(ctx context.Context, o config.Options, log *slog.Logger) (_ *App, err error) {
	a := &App{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	sp, err := o.SecurityConfig().NewAuthenticator(ctx, log)
	if err != nil {
		return nil, fmt.Errorf("bearer authentication: %w", err)
	}
	a.closers = append(a.closers, sp.Close)

	store, err := newStorage(ctx, o)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)

	signer, err := newSigner(o)
	if err != nil {
		return nil, err
	}
	a.Sessions, err = sessions.NewManager(store, signer, o.SessionConfig(), sessions.WithLogger(log))
	if err != nil {
		return nil, err
	}

	guardOpts := []guard.Option{
		guard.WithSessionCheck(a.Sessions.IsAuthenticated),
		guard.WithLogger(log),
	}
	var (
		prm    wellknown.ProtectedResourceMetadata
		prmURL string
	)
	if o.PublicURL != "" {
		prm, prmURL, err = wellknown.NewProtectedResourceMetadata(o.PublicURL, sp.SecurityConfig())
		if err != nil {
			return nil, err
		}
		guardOpts = append(guardOpts, guard.WithResourceMetadata(prmURL))
	}
	if o.UserInfoCallback != nil {
		guardOpts = append(guardOpts, guard.WithUserInfoCallback(o.UserInfoCallback))
	}
	a.Guard, err = guard.New(sp, guard.NewRoutes(), guardOpts...)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	if prmURL != "" {
		a.Guard.HandlePublic(mux, "GET "+wellknown.ProtectedResourcePath, wellknown.Handler(prm))
		a.Guard.HandlePublic(mux, "OPTIONS "+wellknown.ProtectedResourcePath, wellknown.Handler(prm))
	}

	if o.LoginEnabled() {
		client, err := oidcclient.New(ctx, o.ClientConfig())
		if err != nil {
			return nil, fmt.Errorf("oidc client: %w", err)
		}
		st, err := strategy.New(client, strategy.JWTDecoder{}, o.Method())
		if err != nil {
			return nil, err
		}
		lh, err := login.New(client, st, a.Sessions, store, login.Config{PostLoginRedirect: o.PostLoginRedirect}, log)
		if err != nil {
			return nil, err
		}
		lh.Register(mux, a.Guard)
	} else {
		log.InfoContext(ctx, "browser login disabled; set OIDC_CLIENT_ID and OIDC_REDIRECT_URI_LOGIN to enable it")
	}

	registerAPI(mux, a.Guard, log)

	a.Handler = logctx.Middleware(a.Sessions.Middleware(mux))
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newStorage(ctx context.Context, o config.Options) (storage.Storage, error) {
	switch o.StorageBackend {
	case config.StorageRedis:
		s, err := redis.New(ctx, redis.Config{Addr: o.RedisAddr, DB: o.RedisDB, KeyPrefix: o.RedisKeyPrefix})
		if err != nil {
			return nil, fmt.Errorf("redis storage: %w", err)
		}
		return s, nil
	default:
		s, err := memory.New(o.StorageMaxItems)
		if err != nil {
			return nil, fmt.Errorf("memory storage: %w", err)
		}
		return s, nil
	}
}

func newSigner(o config.Options) (*sessions.Signer, error) {
	if o.SessionSigningKey == "" {
		return sessions.NewSigner()
	}
	seed, err := o.SigningSeed()
	if err != nil {
		return nil, err
	}
	return sessions.NewSignerFromSeed("primary", seed)
}

// identity describes the caller of a guarded handler.
func identity(ctx context.Context) (name string, method auth.Method) {
	if id, ok := auth.IdentityFromContext(ctx); ok && id.Method == auth.MethodBearer {
		return id.Username, id.Method
	}
	if user, ok := sessions.UserFromContext(ctx); ok {
		if name := user.Username(); name != "" {
			return name, auth.MethodSession
		}
		return user.Subject(), auth.MethodSession
	}
	return "", auth.MethodSession
}
