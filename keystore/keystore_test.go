package keystore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ggoodman/oidcguard/auth/authtest"
	"github.com/golang-jwt/jwt/v5"
)

func verify(ks KeyStore, tok string) error {
	_, err := jwt.Parse(tok, ks.Keyfunc, jwt.WithValidMethods([]string{"RS256"}))
	return err
}

func TestStatic(t *testing.T) {
	s := authtest.NewSigner(t, "k1")
	ks, err := NewStatic(authtest.JWKS(t, s))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer ks.Close()

	tok := s.Sign(t, authtest.Claims("iss", "aud", "sub", time.Hour))
	if err := verify(ks, tok); err != nil {
		t.Fatalf("verify: %v", err)
	}

	other := authtest.NewSigner(t, "k2")
	if err := verify(ks, other.Sign(t, authtest.Claims("iss", "aud", "sub", time.Hour))); err == nil {
		t.Fatalf("expected unknown kid to fail")
	}
}

func TestStatic_InvalidJSON(t *testing.T) {
	if _, err := NewStatic([]byte("{not json")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRemote(t *testing.T) {
	p := authtest.NewProvider(t, "client")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ks, err := NewRemote(ctx, p.Issuer+"/keys")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer ks.Close()

	if err := verify(ks, p.IDToken(t, "")); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestRemote_RequiresURL(t *testing.T) {
	if _, err := NewRemote(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestFile_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jwks.json")

	first := authtest.NewSigner(t, "first")
	if err := os.WriteFile(path, authtest.JWKS(t, first), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ks, err := NewFile(ctx, path, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer ks.Close()

	if err := verify(ks, first.Sign(t, authtest.Claims("iss", "aud", "sub", time.Hour))); err != nil {
		t.Fatalf("verify first: %v", err)
	}

	second := authtest.NewSigner(t, "second")
	secondTok := second.Sign(t, authtest.Claims("iss", "aud", "sub", time.Hour))
	if err := verify(ks, secondTok); err == nil {
		t.Fatalf("second key must not verify before rotation")
	}

	// Rotate via rename-into-place.
	tmp := filepath.Join(dir, "jwks.json.tmp")
	if err := os.WriteFile(tmp, authtest.JWKS(t, second), 0o600); err != nil {
		t.Fatalf("write tmp: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := verify(ks, secondTok); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("rotated key was not picked up")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestFile_KeepsKeysOnBadRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jwks.json")
	s := authtest.NewSigner(t, "k")
	if err := os.WriteFile(path, authtest.JWKS(t, s), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	ks, err := NewFile(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer ks.Close()

	if err := os.WriteFile(path, []byte("garbage"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ks.Reload(); err == nil {
		t.Fatalf("expected reload of garbage to fail")
	}
	if err := verify(ks, s.Sign(t, authtest.Claims("iss", "aud", "sub", time.Hour))); err != nil {
		t.Fatalf("previous keys should remain in service: %v", err)
	}
}

func TestFile_MissingFile(t *testing.T) {
	if _, err := NewFile(context.Background(), filepath.Join(t.TempDir(), "nope.json"), nil); err == nil {
		t.Fatalf("expected error")
	}
}
