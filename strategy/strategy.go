// Package strategy turns the result of an OpenID Connect authorization-code
// exchange into the authenticated user's record.
//
// A Strategy is composed from two collaborators: a UserInfoFetcher that
// calls the provider's userinfo endpoint, and a Decoder that reads an
// id_token's payload without verifying it. Which one is used is decided by
// the configured UserInfoMethod.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/oidcguard/auth"
	"golang.org/x/oauth2"
)

// UserInfoMethod selects how User.UserInfo is resolved.
type UserInfoMethod string

const (
	// UserInfoRemote fetches claims from the provider's userinfo endpoint.
	UserInfoRemote UserInfoMethod = "remote"
	// UserInfoFFDC decodes the username from the id_token locally.
	UserInfoFFDC UserInfoMethod = "ffdc"
)

// Valid reports whether m is a known method.
func (m UserInfoMethod) Valid() bool {
	return m == UserInfoRemote || m == UserInfoFFDC
}

// TokenSet is the bundle returned by a successful exchange.
type TokenSet struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
}

// FromOAuth2Token lifts an oauth2 token (with its "id_token" extra) into a
// TokenSet.
func FromOAuth2Token(tok *oauth2.Token) TokenSet {
	if tok == nil {
		return TokenSet{}
	}
	idToken, _ := tok.Extra("id_token").(string)
	return TokenSet{
		IDToken:      idToken,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
}

// OAuth2Token converts ts back into an oauth2 token suitable for a
// TokenSource.
func (ts TokenSet) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  ts.AccessToken,
		RefreshToken: ts.RefreshToken,
		TokenType:    ts.TokenType,
		Expiry:       ts.Expiry,
	}
}

// User is the identity record produced for a login.
type User struct {
	IDToken      string         `json:"id_token"`
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	UserInfo     map[string]any `json:"userinfo"`
}

// Subject returns the "sub" user-info claim, if present.
func (u *User) Subject() string {
	s, _ := u.UserInfo["sub"].(string)
	return s
}

// Username returns the "username" user-info claim, if present.
func (u *User) Username() string {
	return auth.UsernameFromClaims(u.UserInfo)
}

// UserInfoFetcher fetches claims for a token set from the provider.
type UserInfoFetcher interface {
	UserInfo(ctx context.Context, ts TokenSet) (map[string]any, error)
}

// Decoder decodes a JWT payload without verifying its signature.
type Decoder interface {
	Decode(token string) (map[string]any, error)
}

// Strategy validates token sets produced by the login flow.
type Strategy struct {
	client  UserInfoFetcher
	decoder Decoder
	method  UserInfoMethod
}

// New constructs a Strategy. client is required for UserInfoRemote and
// decoder for UserInfoFFDC.
func New(client UserInfoFetcher, decoder Decoder, method UserInfoMethod) (*Strategy, error) {
	switch method {
	case UserInfoRemote:
		if client == nil {
			return nil, errors.New("strategy: remote user info requires a client")
		}
	case UserInfoFFDC:
		if decoder == nil {
			return nil, errors.New("strategy: ffdc user info requires a decoder")
		}
	default:
		return nil, fmt.Errorf("strategy: unknown user info method %q", method)
	}
	return &Strategy{client: client, decoder: decoder, method: method}, nil
}

// Validate resolves the user info for ts and returns the user record. Any
// failure wraps auth.ErrUnauthorized.
func (s *Strategy) Validate(ctx context.Context, ts TokenSet) (*User, error) {
	var (
		info map[string]any
		err  error
	)
	switch s.method {
	case UserInfoFFDC:
		info, err = s.userInfoFFDC(ts)
	default:
		info, err = s.userInfoRemote(ctx, ts)
	}
	if err != nil {
		return nil, err
	}

	return &User{
		IDToken:      ts.IDToken,
		AccessToken:  ts.AccessToken,
		RefreshToken: ts.RefreshToken,
		UserInfo:     info,
	}, nil
}

func (s *Strategy) userInfoRemote(ctx context.Context, ts TokenSet) (map[string]any, error) {
	info, err := s.client.UserInfo(ctx, ts)
	if err != nil {
		return nil, auth.Unauthorized(fmt.Errorf("fetch userinfo: %w", err))
	}
	return info, nil
}

func (s *Strategy) userInfoFFDC(ts TokenSet) (map[string]any, error) {
	claims, err := s.decoder.Decode(ts.IDToken)
	if err != nil {
		return nil, auth.Unauthorized(fmt.Errorf("decode id_token: %w", err))
	}
	return map[string]any{"username": claims["username"]}, nil
}
