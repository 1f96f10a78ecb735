// Package navigate models client-side redirects. Server code requests a
// navigation and the HTTP layer turns the first request into a 302.
package navigate

import (
	"context"
	"sync"
)

// Navigator requests that the browser go to path
type Navigator interface {
	Redirect(path string)
}

// Recorder records redirect requests. The first one wins for the response.
type Recorder struct {
	mu    sync.Mutex
	paths []string
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Redirect(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

// Target returns the first requested path
func (r *Recorder) Target() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.paths) == 0 {
		return "", false
	}
	return r.paths[0], true
}

// Count returns how many redirects were requested
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

// Paths returns every requested path in order
func (r *Recorder) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

type discard struct{}

func (discard) Redirect(string) {}

// Discard ignores every redirect
var Discard Navigator = discard{}

type ctxKey struct{}

// WithNavigator sets the navigator for work done under ctx
func WithNavigator(ctx context.Context, n Navigator) context.Context {
	return context.WithValue(ctx, ctxKey{}, n)
}

// FromContext returns the navigator set on ctx, or fallback
func FromContext(ctx context.Context, fallback Navigator) Navigator {
	if n, ok := ctx.Value(ctxKey{}).(Navigator); ok && n != nil {
		return n
	}
	return fallback
}
