// Package guard decides whether a protected view may render for the current
// identity and role. Every guarded navigation is a small state machine that
// starts Pending and ends Allowed or Denied. Ambiguity always denies.
package guard

import (
	"errors"
	"fmt"

	"github.com/aetherfit/aetherfit-front/internal/apperr"
	"github.com/aetherfit/aetherfit-front/internal/idp"
	"github.com/aetherfit/aetherfit-front/internal/role"
)

// RequiredRole is what a guarded view demands.
type RequiredRole int

const (
	RequireAdmin RequiredRole = iota + 1
	RequireTrainer
	RequireMember
	RequireAnyAuthenticated
)

func (r RequiredRole) String() string {
	switch r {
	case RequireAdmin:
		return "admin"
	case RequireTrainer:
		return "trainer"
	case RequireMember:
		return "member"
	case RequireAnyAuthenticated:
		return "authenticated"
	}
	return fmt.Sprintf("RequiredRole(%d)", int(r))
}

// Allows reports whether a user holding got satisfies r. Unknown never
// satisfies a specific role.
func (r RequiredRole) Allows(got role.Role) bool {
	switch r {
	case RequireAdmin:
		return got == role.Admin
	case RequireTrainer:
		return got == role.Trainer
	case RequireMember:
		return got == role.Member
	case RequireAnyAuthenticated:
		return true
	}
	return false
}

// roleSpecific reports whether r constrains the role at all.
func (r RequiredRole) roleSpecific() bool {
	return r != RequireAnyAuthenticated
}

// State of a guarded navigation
type State int

const (
	Pending State = iota
	Allowed
	Denied
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Decision is the outcome of evaluating a guard.
type Decision struct {
	State      State
	RedirectTo string
	// Role is the resolved role when one was fetched.
	Role role.Role
	// Err is the role lookup failure behind a denial, if any.
	Err error
}

func (d Decision) Allowed() bool {
	return d.State == Allowed
}

// Outcome is the state of the role lookup for the current identity.
type Outcome struct {
	Done bool
	Role role.Role
	Err  error
}

// Resolved is a finished lookup.
func Resolved(r role.Role) Outcome {
	return Outcome{Done: true, Role: r}
}

// Failed is a lookup that ended in err.
func Failed(err error) Outcome {
	return Outcome{Done: true, Err: err}
}

// Routes are the redirect targets of denials.
type Routes struct {
	SignIn       string
	Unauthorized string
}

var errUnresolved = errors.New("role not resolved")

// Decide maps the session and the role lookup onto a guard state.
func Decide(required RequiredRole, identity *idp.Identity, loading bool, outcome Outcome, routes Routes) Decision {
	if identity == nil {
		if loading {
			return Decision{State: Pending}
		}
		target := routes.SignIn
		if required.roleSpecific() {
			target = routes.Unauthorized
		}
		return Decision{State: Denied, RedirectTo: target}
	}

	if !outcome.Done {
		return Decision{State: Pending}
	}

	if outcome.Err != nil {
		target := routes.Unauthorized
		if apperr.IsSessionTerminating(outcome.Err) {
			target = routes.SignIn
		}
		return Decision{State: Denied, RedirectTo: target, Role: role.Unknown, Err: outcome.Err}
	}

	if outcome.Role == "" {
		return Decision{State: Denied, RedirectTo: routes.Unauthorized, Role: role.Unknown, Err: errUnresolved}
	}
	if required.Allows(outcome.Role) {
		return Decision{State: Allowed, Role: outcome.Role}
	}
	return Decision{State: Denied, RedirectTo: routes.Unauthorized, Role: outcome.Role}
}
