// Package role resolves the backend-authoritative role of a signed-in user.
package role

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aetherfit/aetherfit-front/internal/apperr"
)

// Role is a permission class assigned by the backend.
type Role string

const (
	Admin   Role = "admin"
	Trainer Role = "trainer"
	Member  Role = "member"
	Unknown Role = "unknown"
)

// ParseRole maps a backend role string to a Role. Anything unrecognised is
// Unknown.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case Admin:
		return Admin
	case Trainer:
		return Trainer
	case Member:
		return Member
	}
	return Unknown
}

func (r Role) String() string {
	return string(r)
}

// Fetcher looks up the role for a normalised email.
type Fetcher interface {
	FetchRole(ctx context.Context, email string) (Role, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, email string) (Role, error)

func (f FetcherFunc) FetchRole(ctx context.Context, email string) (Role, error) {
	return f(ctx, email)
}

// Getter is the part of the API client used for lookups.
type Getter interface {
	Get(ctx context.Context, path string, query url.Values, out any) error
}

type caller struct {
	scope  string
	getter Getter
}

type callerKey struct{}

// WithGetter makes lookups done under ctx go through g, so they carry the
// caller's own credentials. scope names whose credentials those are.
// Concurrent lookups only share a fetch within one scope.
func WithGetter(ctx context.Context, scope string, g Getter) context.Context {
	return context.WithValue(ctx, callerKey{}, caller{scope: scope, getter: g})
}

// scopeOf returns the credential scope set on ctx, or "".
func scopeOf(ctx context.Context) string {
	c, _ := ctx.Value(callerKey{}).(caller)
	return c.scope
}

// ErrNoBackend is returned when no API client is available for a lookup.
var ErrNoBackend = errors.New("no backend client available for role lookup")

// UsersPath is the backend collection queried by email.
const UsersPath = "/users"

// BackendFetcher looks roles up with GET /users?email=.
type BackendFetcher struct {
	fallback Getter
}

// NewBackendFetcher creates a fetcher. fallback is used when the context
// carries no Getter and may be nil.
func NewBackendFetcher(fallback Getter) *BackendFetcher {
	return &BackendFetcher{fallback: fallback}
}

type userRecord struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (f *BackendFetcher) FetchRole(ctx context.Context, email string) (Role, error) {
	c, _ := ctx.Value(callerKey{}).(caller)
	api := c.getter
	if api == nil {
		api = f.fallback
	}
	if api == nil {
		return Unknown, ErrNoBackend
	}

	var raw json.RawMessage
	if err := api.Get(ctx, UsersPath, url.Values{"email": {email}}, &raw); err != nil {
		var reqErr *apperr.RequestError
		if errors.As(err, &reqErr) && reqErr.Status == http.StatusNotFound {
			return Unknown, nil
		}
		return Unknown, err
	}
	return parseUsers(raw)
}

// parseUsers accepts a single user object or a list filtered by email.
// No record is Unknown.
func parseUsers(raw json.RawMessage) (Role, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return Unknown, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var users []*userRecord
		if err := json.Unmarshal(raw, &users); err != nil {
			return Unknown, fmt.Errorf("decoding user list: %w", err)
		}
		if len(users) == 0 || users[0] == nil {
			return Unknown, nil
		}
		return ParseRole(users[0].Role), nil
	}

	var user userRecord
	if err := json.Unmarshal(raw, &user); err != nil {
		return Unknown, fmt.Errorf("decoding user: %w", err)
	}
	return ParseRole(user.Role), nil
}
