package guard

import (
	"context"
	"slices"
	"sync"

	"github.com/aetherfit/aetherfit-front/internal/idp"
	"github.com/aetherfit/aetherfit-front/internal/log"
	"github.com/aetherfit/aetherfit-front/internal/role"
)

// Session is the session store as seen by a guard.
type Session interface {
	CurrentIdentity() *idp.Identity
	Loading() bool
	Subscribe(onChange func(*idp.Identity)) (unsubscribe func())
}

// RoleResolver answers role lookups.
type RoleResolver interface {
	Resolve(ctx context.Context, email string) (role.Role, error)
}

// Guard creates guarded navigations.
type Guard struct {
	resolver RoleResolver
	routes   Routes
}

// New creates a guard.
func New(resolver RoleResolver, routes Routes) *Guard {
	return &Guard{resolver: resolver, routes: routes}
}

// Routes returns the redirect targets used for denials.
func (g *Guard) Routes() Routes {
	return g.routes
}

// Navigation is one guarded view while it is mounted.
type Navigation struct {
	guard    *Guard
	required RequiredRole
	session  Session

	ctx    context.Context
	cancel context.CancelFunc

	// emitMu keeps observer calls in transition order.
	emitMu sync.Mutex

	mu          sync.Mutex
	decision    Decision
	generation  uint64
	evaluated   *idp.Identity
	wasLoading  bool
	active      bool
	observers   []func(Decision)
	unsubscribe func()
}

// Begin mounts a navigation in Pending. It follows identity changes on
// session until Leave is called.
func (g *Guard) Begin(ctx context.Context, required RequiredRole, session Session) *Navigation {
	ctx, cancel := context.WithCancel(ctx)
	n := &Navigation{
		guard:    g,
		required: required,
		session:  session,
		ctx:      ctx,
		cancel:   cancel,
		decision: Decision{State: Pending},
		active:   true,
	}
	unsubscribe := session.Subscribe(n.onIdentityChange)

	n.mu.Lock()
	if n.active {
		n.unsubscribe = unsubscribe
		unsubscribe = nil
	}
	n.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	return n
}

// Observe registers fn for every later transition.
func (n *Navigation) Observe(fn func(Decision)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.observers = append(n.observers, fn)
}

// State returns the current decision.
func (n *Navigation) State() Decision {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.decision
}

// Run evaluates the guard and returns the decision it reached. When the
// navigation was left or re-evaluated meanwhile, the result is discarded and
// the current decision is returned instead.
func (n *Navigation) Run(ctx context.Context) Decision {
	n.evaluate(ctx)
	return n.State()
}

func (n *Navigation) evaluate(ctx context.Context) {
	identity := n.session.CurrentIdentity()
	loading := n.session.Loading()

	n.mu.Lock()
	if !n.active {
		n.mu.Unlock()
		return
	}
	n.generation++
	gen := n.generation
	n.evaluated = identity
	n.wasLoading = loading
	n.mu.Unlock()

	first := Decide(n.required, identity, loading, Outcome{}, n.guard.routes)
	n.apply(gen, first)
	if first.State != Pending || identity == nil {
		return
	}

	r, err := n.guard.resolver.Resolve(ctx, identity.Email)
	outcome := Resolved(r)
	if err != nil {
		if ctx.Err() != nil {
			// the caller went away; the lookup result is stale either way
			return
		}
		outcome = Failed(err)
	}
	n.apply(gen, Decide(n.required, identity, loading, outcome, n.guard.routes))
}

// apply publishes d if gen is still the latest evaluation of an active
// navigation.
func (n *Navigation) apply(gen uint64, d Decision) {
	n.emitMu.Lock()
	defer n.emitMu.Unlock()

	n.mu.Lock()
	if !n.active || gen != n.generation {
		n.mu.Unlock()
		log.LogTraceWithFields("guard", "Discarding stale guard result", map[string]any{
			"required": n.required.String(),
			"state":    d.State.String(),
		})
		return
	}
	changed := n.decision.State != d.State || n.decision.RedirectTo != d.RedirectTo || n.decision.Role != d.Role
	n.decision = d
	observers := slices.Clone(n.observers)
	n.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range observers {
		fn(d)
	}
}

func (n *Navigation) onIdentityChange(identity *idp.Identity) {
	n.mu.Lock()
	stale := n.active && n.generation > 0 && (n.wasLoading || !sameUser(n.evaluated, identity))
	n.mu.Unlock()
	if stale {
		go n.evaluate(n.ctx)
	}
}

func sameUser(a, b *idp.Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID && a.Email == b.Email
}

// Render calls children only when the navigation is Allowed and reports
// whether it did.
func (n *Navigation) Render(children func()) bool {
	if n.State().State != Allowed {
		return false
	}
	children()
	return true
}

// Leave unmounts the navigation. Results arriving afterwards are dropped.
func (n *Navigation) Leave() {
	n.mu.Lock()
	n.active = false
	unsubscribe := n.unsubscribe
	n.unsubscribe = nil
	n.mu.Unlock()

	n.cancel()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Active reports whether the navigation is still mounted.
func (n *Navigation) Active() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active
}
