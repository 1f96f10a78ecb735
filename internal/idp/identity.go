package idp

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// ErrAccessDenied is wrapped when a provider authenticated the user but the
// account is outside the allowed domains or organizations.
var ErrAccessDenied = errors.New("account is not allowed to sign in")

// Identity is the authenticated user record published by the identity
// provider. Application code never mutates it.
type Identity struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	DisplayName    string    `json:"displayName"`
	PhotoURL       string    `json:"photoURL"`
	EmailVerified  bool      `json:"emailVerified"`
	LastSignInTime time.Time `json:"lastSignInTime"`
}

// SessionState is what session listeners receive. A nil Identity means
// signed out.
type SessionState struct {
	Identity *Identity
	Token    string
}

// SignedIn reports whether the state carries an identity.
func (s SessionState) SignedIn() bool {
	return s.Identity != nil
}

// Grant is the result of a successful upstream sign-in.
type Grant struct {
	Identity *Identity
	Token    *oauth2.Token
}

// Authenticator is an upstream sign-in method shared by every client instance.
type Authenticator interface {
	// Kind identifies the method: "password", "google", "github" or "oidc".
	Kind() string
}

// PasswordSigner signs users in with email and password.
type PasswordSigner interface {
	Authenticator
	SignInWithPassword(ctx context.Context, email, password string) (*Grant, error)
}

// Federated signs users in through an OAuth authorization code redirect.
type Federated interface {
	Authenticator
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*Grant, error)
}

// Refresher is implemented by authenticators whose grants can be renewed.
type Refresher interface {
	TokenSource(tok *oauth2.Token) oauth2.TokenSource
}

// Revoker is implemented by authenticators that can revoke a token upstream
// on sign-out.
type Revoker interface {
	Revoke(ctx context.Context, tok *oauth2.Token) error
}

// BearerOf returns the credential the AetherFit backend expects: the ID token
// when the provider issued one, otherwise the access token.
func BearerOf(tok *oauth2.Token) string {
	if tok == nil {
		return ""
	}
	if id, ok := tok.Extra("id_token").(string); ok && id != "" {
		return id
	}
	return tok.AccessToken
}
