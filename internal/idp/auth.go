package idp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"

	"github.com/aetherfit/aetherfit-front/internal/apperr"
	"github.com/aetherfit/aetherfit-front/internal/log"
	"golang.org/x/oauth2"
)

var (
	// ErrMethodDisabled is returned when a sign-in method is not configured.
	ErrMethodDisabled = errors.New("sign-in method is not enabled")
	// ErrMissingCode is returned when a federated callback has neither a code nor an error.
	ErrMissingCode = errors.New("authorization code missing from callback")
)

type sessionListener struct {
	id uint64
	fn func(SessionState)
}

// Auth is the identity SDK as seen by one client instance. It owns the live
// session and publishes every transition to its listeners.
//
// Listeners run synchronously, in registration order, one transition at a
// time. They must not sign in, sign out or register listeners themselves.
type Auth struct {
	authenticators *Authenticators

	// emitMu serializes transitions with their delivery so listeners never
	// observe states out of order.
	emitMu sync.Mutex

	mu        sync.Mutex
	state     SessionState
	issuer    Authenticator
	upstream  *oauth2.Token
	source    oauth2.TokenSource
	listeners []sessionListener
	nextID    uint64
}

// NewAuth creates a signed-out session over the shared authenticators.
func NewAuth(authenticators *Authenticators) *Auth {
	return &Auth{authenticators: authenticators}
}

// OnSessionChange registers fn and immediately delivers the current state.
func (a *Auth) OnSessionChange(fn func(SessionState)) (unregister func()) {
	a.emitMu.Lock()
	defer a.emitMu.Unlock()

	a.mu.Lock()
	a.nextID++
	id := a.nextID
	a.listeners = append(a.listeners, sessionListener{id: id, fn: fn})
	state := a.state
	a.mu.Unlock()

	fn(state)

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			a.listeners = slices.DeleteFunc(a.listeners, func(l sessionListener) bool {
				return l.id == id
			})
		})
	}
}

// ListenerCount returns the number of registered listeners.
func (a *Auth) ListenerCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.listeners)
}

// Current returns the last published state.
func (a *Auth) Current() SessionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// transition applies change and, if it reports a change, publishes the new
// state to every listener.
func (a *Auth) transition(change func() bool) {
	a.emitMu.Lock()
	defer a.emitMu.Unlock()

	a.mu.Lock()
	changed := change()
	state := a.state
	listeners := slices.Clone(a.listeners)
	a.mu.Unlock()

	if !changed {
		return
	}
	for _, l := range listeners {
		l.fn(state)
	}
}

func (a *Auth) establish(issuer Authenticator, grant *Grant) {
	var source oauth2.TokenSource
	if r, ok := issuer.(Refresher); ok && grant.Token.RefreshToken != "" {
		source = r.TokenSource(grant.Token)
	}

	a.transition(func() bool {
		a.issuer = issuer
		a.upstream = grant.Token
		a.source = source
		a.state = SessionState{Identity: grant.Identity, Token: BearerOf(grant.Token)}
		return true
	})
}

// SignInWithPassword signs in with email and password.
func (a *Auth) SignInWithPassword(ctx context.Context, email, password string) (*Identity, error) {
	p := a.authenticators.Password()
	if p == nil {
		return nil, fmt.Errorf("password: %w", ErrMethodDisabled)
	}

	grant, err := p.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	a.establish(p, grant)
	return grant.Identity, nil
}

// SignInWithFederated completes a federated sign-in from the provider's
// callback parameters. A dismissed consent screen is a PopupClosedError.
func (a *Auth) SignInWithFederated(ctx context.Context, kind string, callback url.Values) (*Identity, error) {
	f, ok := a.authenticators.Federated(kind)
	if !ok {
		return nil, fmt.Errorf("%s: %w", kind, ErrMethodDisabled)
	}

	if code := callback.Get("error"); code != "" {
		if code == "access_denied" {
			return nil, &apperr.PopupClosedError{Provider: kind}
		}
		return nil, fmt.Errorf("%s sign-in failed: %s %s", kind, code, callback.Get("error_description"))
	}
	code := callback.Get("code")
	if code == "" {
		return nil, ErrMissingCode
	}

	grant, err := f.Exchange(ctx, code)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return nil, &apperr.NetworkError{Op: kind + " sign-in", Err: err}
		}
		return nil, err
	}
	a.establish(f, grant)
	return grant.Identity, nil
}

// FederatedURL returns the consent screen URL for kind.
func (a *Auth) FederatedURL(kind, state string) (string, error) {
	f, ok := a.authenticators.Federated(kind)
	if !ok {
		return "", fmt.Errorf("%s: %w", kind, ErrMethodDisabled)
	}
	return f.AuthURL(state), nil
}

// SignOut ends the session. The local state is always cleared; an upstream
// revocation failure is returned after the fact.
func (a *Auth) SignOut(ctx context.Context) error {
	a.mu.Lock()
	issuer, tok := a.issuer, a.upstream
	a.mu.Unlock()

	var revokeErr error
	if r, ok := issuer.(Revoker); ok && tok != nil {
		revokeErr = r.Revoke(ctx, tok)
	}

	a.transition(func() bool {
		wasSignedIn := a.state.Identity != nil || a.state.Token != ""
		a.issuer, a.upstream, a.source = nil, nil, nil
		a.state = SessionState{}
		return wasSignedIn
	})
	return revokeErr
}

// Token returns the current bearer, refreshing it upstream when it has
// expired. A refreshed token is published as a transition with the same
// identity.
func (a *Auth) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	a.mu.Lock()
	identity, current, source := a.state.Identity, a.state.Token, a.source
	a.mu.Unlock()

	if identity == nil || source == nil {
		return current, nil
	}

	tok, err := source.Token()
	if err != nil {
		return "", fmt.Errorf("refreshing token: %w", err)
	}
	bearer := BearerOf(tok)
	if bearer == current {
		return current, nil
	}

	a.transition(func() bool {
		// signed out or switched user while refreshing
		if a.state.Identity != identity || a.state.Token == bearer {
			return false
		}
		a.upstream = tok
		a.state.Token = bearer
		return true
	})
	log.LogDebugWithFields("idp", "Session token refreshed", map[string]any{
		"uid": identity.ID,
	})
	return bearer, nil
}
