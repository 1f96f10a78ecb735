// Package session holds the single source of truth for who is signed in to
// one client instance. It mirrors the identity provider's live session and
// keeps the durable token in step with it.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/aetherfit/aetherfit-front/internal/idp"
	"github.com/aetherfit/aetherfit-front/internal/log"
)

// Provider is the identity SDK surface the store depends on.
type Provider interface {
	OnSessionChange(fn func(idp.SessionState)) (unregister func())
	SignInWithPassword(ctx context.Context, email, password string) (*idp.Identity, error)
	SignInWithFederated(ctx context.Context, kind string, callback url.Values) (*idp.Identity, error)
	SignOut(ctx context.Context) error
	Token(ctx context.Context) (string, error)
	Current() idp.SessionState
}

// TokenSlot is the durable token the store writes on every transition.
type TokenSlot interface {
	Store(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// ErrUnsupportedCredentials is returned by SignIn for credentials it cannot use.
var ErrUnsupportedCredentials = errors.New("unsupported credentials")

// Credentials is either PasswordCredentials or FederatedCredentials.
type Credentials interface {
	method() string
}

// PasswordCredentials signs in with email and password
type PasswordCredentials struct {
	Email    string
	Password string
}

func (PasswordCredentials) method() string { return "password" }

// FederatedCredentials completes a federated sign-in from the provider's
// callback query.
type FederatedCredentials struct {
	Provider string
	Callback url.Values
}

func (c FederatedCredentials) method() string { return c.Provider }

// persistTimeout bounds token writes triggered by provider callbacks, which
// carry no request context.
const persistTimeout = 10 * time.Second

type subscriber struct {
	id uint64
	fn func(*idp.Identity)
}

// Store is the session store of one client instance.
type Store struct {
	provider Provider
	slot     TokenSlot
	name     string

	// attachMu serializes attaching and detaching the provider listener.
	attachMu sync.Mutex
	detach   func()

	// applyMu orders transitions with their token writes and notifications.
	// Subscribers must not sign in or out synchronously.
	applyMu sync.Mutex

	mu       sync.Mutex
	identity *idp.Identity
	token    string
	loaded   bool
	subs     []subscriber
	nextID   uint64
}

// NewStore creates a store over provider. name identifies the client
// instance in logs.
func NewStore(provider Provider, slot TokenSlot, name string) *Store {
	return &Store{provider: provider, slot: slot, name: name}
}

// Subscribe registers onChange for every session transition. The first
// subscription attaches the one provider listener and the last unsubscribe
// detaches it. Subscribers are notified in registration order.
func (s *Store) Subscribe(onChange func(*idp.Identity)) (unsubscribe func()) {
	s.attachMu.Lock()
	defer s.attachMu.Unlock()

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber{id: id, fn: onChange})
	s.mu.Unlock()

	if s.detach == nil {
		s.detach = s.provider.OnSessionChange(s.onProviderChange)
	}

	var once sync.Once
	return func() {
		once.Do(func() { s.unsubscribe(id) })
	}
}

func (s *Store) unsubscribe(id uint64) {
	s.attachMu.Lock()
	defer s.attachMu.Unlock()

	s.mu.Lock()
	s.subs = slices.DeleteFunc(s.subs, func(sub subscriber) bool { return sub.id == id })
	remaining := len(s.subs)
	s.mu.Unlock()

	if remaining == 0 && s.detach != nil {
		s.detach()
		s.detach = nil
	}
}

// SubscriberCount returns the number of active subscriptions.
func (s *Store) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Store) onProviderChange(state idp.SessionState) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	s.apply(ctx, state)
}

// apply records state and reports whether it differed from the last one.
// Identical states are dropped so a transition seen both through the
// provider callback and a direct result is published once.
func (s *Store) apply(ctx context.Context, state idp.SessionState) bool {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	return s.applyLocked(ctx, state)
}

func (s *Store) applyLocked(ctx context.Context, state idp.SessionState) bool {
	s.mu.Lock()
	first := !s.loaded
	s.loaded = true
	if !first && sameIdentity(s.identity, state.Identity) && s.token == state.Token {
		s.mu.Unlock()
		return false
	}
	tokenChanged := s.token != state.Token
	s.identity = state.Identity
	s.token = state.Token
	subs := slices.Clone(s.subs)
	s.mu.Unlock()

	// the first state also overwrites whatever an earlier process left behind
	if tokenChanged || first {
		s.persist(ctx, state.Token)
	}
	for _, sub := range subs {
		sub.fn(state.Identity)
	}
	return true
}

func (s *Store) persist(ctx context.Context, token string) {
	var err error
	if token == "" {
		err = s.slot.Clear(ctx)
	} else {
		err = s.slot.Store(ctx, token)
	}
	if err != nil {
		log.LogErrorWithFields("session", "Failed to persist session token", map[string]any{
			"client": s.name,
			"error":  err.Error(),
		})
	}
}

func sameIdentity(a, b *idp.Identity) bool {
	if a == b {
		return true
	}
	return a != nil && b != nil && *a == *b
}

// SignIn signs in with creds. On success subscribers have been notified
// exactly once by the time it returns.
func (s *Store) SignIn(ctx context.Context, creds Credentials) (*idp.Identity, error) {
	switch c := creds.(type) {
	case *PasswordCredentials:
		if c != nil {
			creds = *c
		}
	case *FederatedCredentials:
		if c != nil {
			creds = *c
		}
	}

	var identity *idp.Identity
	var err error
	switch c := creds.(type) {
	case PasswordCredentials:
		identity, err = s.provider.SignInWithPassword(ctx, c.Email, c.Password)
	case FederatedCredentials:
		identity, err = s.provider.SignInWithFederated(ctx, c.Provider, c.Callback)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedCredentials, creds)
	}
	if err != nil {
		log.LogInfoWithFields("session", "Sign-in failed", map[string]any{
			"client": s.name,
			"method": creds.method(),
			"error":  err.Error(),
		})
		return nil, err
	}

	s.applyCurrent(ctx)
	log.LogInfoWithFields("session", "Signed in", map[string]any{
		"client": s.name,
		"method": creds.method(),
		"uid":    identity.ID,
	})
	return identity, nil
}

// SignOut ends the session. It never fails: when the provider call fails the
// local identity and token are cleared anyway.
func (s *Store) SignOut(ctx context.Context) {
	s.end(ctx, "Signed out")
}

// Expire ends a session the backend no longer accepts (HTTP 401).
func (s *Store) Expire(ctx context.Context) {
	s.end(ctx, "Session expired")
}

func (s *Store) end(ctx context.Context, reason string) {
	if err := s.provider.SignOut(ctx); err != nil {
		log.LogWarnWithFields("session", "Provider sign-out failed, clearing local session anyway", map[string]any{
			"client": s.name,
			"error":  err.Error(),
		})
	}
	s.apply(ctx, idp.SessionState{})
	// cleared even without a transition, in case it was written elsewhere
	s.persist(ctx, "")
	log.LogInfoWithFields("session", reason, map[string]any{
		"client": s.name,
	})
}

// RefreshToken asks the provider for a current token. A renewed token
// arrives as a regular transition and is persisted.
func (s *Store) RefreshToken(ctx context.Context) error {
	if s.CurrentIdentity() == nil {
		return nil
	}
	if _, err := s.provider.Token(ctx); err != nil {
		return err
	}
	s.applyCurrent(ctx)
	return nil
}

// applyCurrent applies the provider's state as of now. The read happens under
// applyMu so a concurrent sign-out cannot be overtaken by a stale sign-in.
func (s *Store) applyCurrent(ctx context.Context) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	s.applyLocked(ctx, s.provider.Current())
}

// CurrentIdentity returns the last known identity without any I/O.
func (s *Store) CurrentIdentity() *idp.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Loading reports whether the provider has not yet delivered a state.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.loaded
}
