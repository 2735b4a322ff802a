// Package keystore provides read-only sources of JWT verification keys.
//
// A KeyStore resolves the key for a parsed (not yet verified) token. The
// token guard and the bearer authenticator only ever read from a KeyStore;
// fetching, refreshing and rotating keys is the store's own business.
//
// Three implementations are provided:
//
//   - Remote fetches one or more JWKS URLs and refreshes them in the background.
//   - Static serves a fixed JWKS document held in memory.
//   - File serves a JWKS document from disk and reloads it whenever the file
//     changes.
package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// KeyStore resolves verification keys for JWTs.
type KeyStore interface {
	// Keyfunc satisfies jwt.Keyfunc.
	Keyfunc(token *jwt.Token) (any, error)
	// Close stops any background refresh owned by the store.
	Close() error
}

// Remote is a KeyStore backed by auto-refreshing JWKS URLs.
type Remote struct {
	kf     keyfunc.Keyfunc
	cancel context.CancelFunc
}

// NewRemote fetches the given JWKS URLs and keeps them refreshed until ctx
// is cancelled or Close is called.
func NewRemote(ctx context.Context, urls ...string) (*Remote, error) {
	if len(urls) == 0 {
		return nil, errors.New("keystore: at least one jwks url required")
	}
	ctx, cancel := context.WithCancel(ctx)
	kf, err := keyfunc.NewDefaultCtx(ctx, urls)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	return &Remote{kf: kf, cancel: cancel}, nil
}

func (r *Remote) Keyfunc(token *jwt.Token) (any, error) { return r.kf.Keyfunc(token) }

func (r *Remote) Close() error {
	r.cancel()
	return nil
}

// Static is a KeyStore over a fixed JWKS document.
type Static struct {
	kf keyfunc.Keyfunc
}

// NewStatic parses a JWKS JSON document.
func NewStatic(jwks []byte) (*Static, error) {
	kf, err := parseJWKS(jwks)
	if err != nil {
		return nil, err
	}
	return &Static{kf: kf}, nil
}

func (s *Static) Keyfunc(token *jwt.Token) (any, error) { return s.kf.Keyfunc(token) }

func (s *Static) Close() error { return nil }

func parseJWKS(raw []byte) (keyfunc.Keyfunc, error) {
	if !json.Valid(raw) {
		return nil, errors.New("keystore: jwks is not valid json")
	}
	kf, err := keyfunc.NewJWKSetJSON(json.RawMessage(raw))
	if err != nil {
		return nil, fmt.Errorf("keystore: parse jwks: %w", err)
	}
	return kf, nil
}

var (
	_ KeyStore = (*Remote)(nil)
	_ KeyStore = (*Static)(nil)
)
