package guard

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/aetherfit/aetherfit-front/internal/apperr"
	jsonwriter "github.com/aetherfit/aetherfit-front/internal/json"
	"github.com/aetherfit/aetherfit-front/internal/log"
	"github.com/aetherfit/aetherfit-front/internal/navigate"
	"github.com/aetherfit/aetherfit-front/internal/notify"
	"github.com/aetherfit/aetherfit-front/internal/role"
)

// SessionFunc returns the session of the client making r.
type SessionFunc func(r *http.Request) (Session, bool)

type decisionKey struct{}

// DecisionFromContext returns the decision that admitted the request.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(Decision)
	return d, ok
}

// RoleFromContext returns the role resolved for the request, or Unknown.
func RoleFromContext(ctx context.Context) role.Role {
	if d, ok := DecisionFromContext(ctx); ok && d.Role != "" {
		return d.Role
	}
	return role.Unknown
}

// Middleware admits requests only once the guard for required allows them.
// Denied page requests are redirected, denied API requests get a JSON error
// naming the redirect.
func (g *Guard) Middleware(required RequiredRole, sessionFor SessionFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			session, ok := sessionFor(r)
			if !ok {
				jsonwriter.WriteInternalServerError(w, "client session unavailable")
				return
			}

			nav := g.Begin(ctx, required, session)
			defer nav.Leave()

			d := nav.Run(ctx)
			if ctx.Err() != nil {
				return
			}

			switch d.State {
			case Allowed:
				nav.Render(func() {
					next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, decisionKey{}, d)))
				})
				return
			case Pending:
				// still loading after evaluation; never render protected content
				jsonwriter.WriteServiceUnavailable(w, "authorization pending")
				return
			}

			g.deny(w, r, required, d)
		})
	}
}

func (g *Guard) deny(w http.ResponseWriter, r *http.Request, required RequiredRole, d Decision) {
	ctx := r.Context()
	log.LogInfoWithFields("guard", "Access denied", map[string]any{
		"path":     r.URL.Path,
		"required": required.String(),
		"role":     string(d.Role),
		"redirect": d.RedirectTo,
	})

	navigator := navigate.FromContext(ctx, navigate.Discard)

	// the API client announces a 401 or 403 on the request that made the
	// lookup. Only a redirect recorded for this request proves it was this one.
	announced := false
	if rec, ok := navigator.(*navigate.Recorder); ok && apperr.IsAuthorizationFailure(d.Err) {
		_, announced = rec.Target()
	}
	if !announced {
		notifier := notify.FromContext(ctx, notify.Discard)
		switch {
		case apperr.IsSessionTerminating(d.Err):
			notifier.Notify(notify.LevelError, "Your session has expired. Please sign in again.")
		case apperr.IsAuthorizationFailure(d.Err):
			notifier.Notify(notify.LevelWarning, "You do not have access to that page.")
		case apperr.IsRecoverable(d.Err):
			notifier.Notify(notify.LevelError, "We could not verify your access. Please try again.")
		case d.RedirectTo == g.routes.SignIn:
			notifier.Notify(notify.LevelInfo, "Please sign in to continue.")
		default:
			notifier.Notify(notify.LevelWarning, "You do not have access to that page.")
		}
	}

	navigator.Redirect(d.RedirectTo)
	target := d.RedirectTo
	if rec, ok := navigator.(*navigate.Recorder); ok {
		target, _ = rec.Target()
	}
	toSignIn := target == g.routes.SignIn
	if toSignIn {
		target = withNext(target, r.URL.RequestURI())
	}

	if isAPIRequest(r) {
		status := http.StatusForbidden
		if toSignIn {
			status = http.StatusUnauthorized
		}
		jsonwriter.WriteErrorWithRedirect(w, status, "access_denied", "access denied", target)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func withNext(target, next string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set("next", next)
	u.RawQuery = q.Encode()
	return u.String()
}

func isAPIRequest(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/") ||
		strings.Contains(r.Header.Get("Accept"), "application/json")
}
