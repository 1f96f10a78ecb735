// Package tokenstore persists bearer tokens between requests. Each client
// instance addresses its token through a Slot under a fixed key.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TokenKey is the fixed name the bearer token is stored under.
const TokenKey = "aetherfit-access-token"

// ErrNotFound is returned by Get for absent keys.
var ErrNotFound = errors.New("not found")

// Storage is a durable single-key value store. Writes are whole-value
// overwrites, so no cross-key transactions are needed.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// Delete of an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Sweep removes entries last written before cutoff, except those keep
	// reports true for. keep may be nil.
	Sweep(ctx context.Context, cutoff time.Time, keep func(key string) bool) (int, error)
	Close() error
}

// Slot is one instance's view of the token store.
type Slot struct {
	storage Storage
	key     string
}

// NewSlot scopes the token key to namespace (the client instance id).
func NewSlot(storage Storage, namespace string) *Slot {
	return &Slot{storage: storage, key: namespace + ":" + TokenKey}
}

// NamespaceOf returns the namespace a slot key was built from.
func NamespaceOf(key string) (string, bool) {
	return strings.CutSuffix(key, ":"+TokenKey)
}

// Key returns the storage key of this slot.
func (s *Slot) Key() string {
	return s.key
}

// Token reads the token. An absent token is ("", false, nil).
func (s *Slot) Token(ctx context.Context) (string, bool, error) {
	tok, err := s.storage.Get(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading token: %w", err)
	}
	return tok, tok != "", nil
}

// Store overwrites the token. An empty token clears the slot.
func (s *Slot) Store(ctx context.Context, token string) error {
	if token == "" {
		return s.Clear(ctx)
	}
	if err := s.storage.Set(ctx, s.key, token); err != nil {
		return fmt.Errorf("writing token: %w", err)
	}
	return nil
}

// Clear removes the token.
func (s *Slot) Clear(ctx context.Context) error {
	if err := s.storage.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("clearing token: %w", err)
	}
	return nil
}
