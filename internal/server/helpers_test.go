package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aetherfit/aetherfit-front/internal/apiclient"
	"github.com/aetherfit/aetherfit-front/internal/apperr"
	"github.com/aetherfit/aetherfit-front/internal/client"
	"github.com/aetherfit/aetherfit-front/internal/config"
	"github.com/aetherfit/aetherfit-front/internal/cookie"
	"github.com/aetherfit/aetherfit-front/internal/crypto"
	"github.com/aetherfit/aetherfit-front/internal/guard"
	"github.com/aetherfit/aetherfit-front/internal/idp"
	"github.com/aetherfit/aetherfit-front/internal/notify"
	"github.com/aetherfit/aetherfit-front/internal/role"
	"github.com/aetherfit/aetherfit-front/internal/tokenstore"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const testPassword = "correct horse"

var testKey = []byte("0123456789abcdef0123456789abcdef")

type stubPassword struct{}

func (stubPassword) Kind() string { return "password" }

func (stubPassword) SignInWithPassword(_ context.Context, email, password string) (*idp.Grant, error) {
	if password != testPassword {
		return nil, &apperr.InvalidCredentialsError{Email: email}
	}
	return &idp.Grant{
		Identity: &idp.Identity{ID: "uid-" + email, Email: email},
		Token:    &oauth2.Token{AccessToken: "bearer-" + email},
	}, nil
}

type stubFederated struct{}

func (stubFederated) Kind() string { return "google" }

func (stubFederated) AuthURL(state string) string {
	return "https://idp.example.com/auth?state=" + url.QueryEscape(state)
}

func (stubFederated) Exchange(_ context.Context, code string) (*idp.Grant, error) {
	if code != "good-code" {
		return nil, errors.New("invalid code")
	}
	return &idp.Grant{
		Identity: &idp.Identity{ID: "uid-fed", Email: "fed@aetherfit.test", DisplayName: "Fed"},
		Token:    &oauth2.Token{AccessToken: "bearer-fed"},
	}, nil
}

// testEnv is one browser talking to a front wired with stub providers and a
// fake backend serving /users.
type testEnv struct {
	t        *testing.T
	manager  *client.Manager
	resolver *role.Resolver
	csrf     crypto.CSRFProtection
	signer   crypto.TokenSigner
	handler  http.Handler

	clientCookie *http.Cookie
	stateCookie  *http.Cookie

	mu    sync.Mutex
	roles map[string]string
}

type envOptions struct {
	rateLimit config.RateLimitConfig
	manager   []client.ManagerOption
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, envOptions{})
}

func newTestEnvWith(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	t.Setenv("AETHERFIT_ENV", "dev")

	e := &testEnv{
		t:      t,
		csrf:   crypto.NewCSRFProtection(testKey, time.Hour),
		signer: crypto.NewTokenSigner(testKey, 0),
		roles:  map[string]string{},
	}

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != role.UsersPath {
			http.NotFound(w, r)
			return
		}
		email := r.URL.Query().Get("email")
		e.mu.Lock()
		got, ok := e.roles[email]
		e.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case got == "broken":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"boom"}`))
		case !ok:
			_, _ = w.Write([]byte(`[]`))
		default:
			_ = json.NewEncoder(w).Encode([]map[string]string{{"email": email, "role": got}})
		}
	}))
	t.Cleanup(backend.Close)

	routes := config.DefaultRoutes()
	e.manager = client.NewManager(client.Dependencies{
		Authenticators: idp.NewAuthenticatorSet(stubPassword{}, stubFederated{}),
		Storage:        tokenstore.NewMemoryStorage(),
		API:            apiclient.Config{BaseURL: backend.URL, SignInRoute: routes.SignIn, HomeRoute: routes.Home},
	}, opts.manager...)
	t.Cleanup(e.manager.Shutdown)

	resolver, err := role.NewResolver(role.NewBackendFetcher(nil), role.DefaultTTL)
	require.NoError(t, err)
	e.resolver = resolver

	rateLimit := opts.rateLimit
	if rateLimit.PerMinute == 0 {
		rateLimit = config.RateLimitConfig{PerMinute: 600, Burst: 100}
	}
	limiter, err := NewSignInLimiter(rateLimit)
	require.NoError(t, err)

	g := guard.New(resolver, guard.Routes{SignIn: routes.SignIn, Unauthorized: routes.Unauthorized})
	auth := NewAuthHandlers(idp.NewAuthenticatorSet(stubPassword{}, stubFederated{}), routes, e.csrf, testKey, limiter, nil)
	pages := NewPageHandlers(routes, e.csrf)
	sessions := NewSessionHandlers(routes, e.csrf, resolver)
	admin := NewAdminHandlers(routes, e.csrf, e.manager, resolver)

	requireAdmin := g.Middleware(guard.RequireAdmin, SessionFromRequest)
	requireMember := g.Middleware(guard.RequireMember, SessionFromRequest)
	requireSignedIn := g.Middleware(guard.RequireAnyAuthenticated, SessionFromRequest)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/login", auth.LoginPageHandler)
	mux.HandleFunc("POST /auth/login", auth.LoginHandler)
	mux.HandleFunc("GET /auth/federated/{provider}", auth.FederatedStartHandler)
	mux.HandleFunc("GET /auth/callback/{provider}", auth.FederatedCallbackHandler)
	mux.HandleFunc("POST /auth/logout", auth.LogoutHandler)
	mux.HandleFunc("GET /unauthorizedaccess", pages.UnauthorizedHandler)
	mux.Handle("GET /dashboard/admin", requireAdmin(http.HandlerFunc(admin.DashboardHandler)))
	mux.Handle("POST /dashboard/admin/roles", requireAdmin(http.HandlerFunc(admin.RoleActionHandler)))
	mux.Handle("GET /dashboard/member", requireMember(pages.DashboardHandler("Member dashboard")))
	mux.Handle("GET /dashboard/profile", requireSignedIn(pages.DashboardHandler("Profile")))
	mux.HandleFunc("GET /api/session", sessions.SessionHandler)
	mux.HandleFunc("POST /api/session/role", sessions.RefreshRoleHandler)
	mux.HandleFunc("/", pages.HomeHandler)

	e.handler = ChainMiddleware(mux,
		NewCSRFMiddleware(e.csrf),
		NewClientMiddleware(e.manager, e.signer, 0),
		NewRecoverMiddleware("test"),
	)
	return e
}

func (e *testEnv) setRole(email, r string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.roles[email] = r
}

func (e *testEnv) do(method, target string, form url.Values, header http.Header) *httptest.ResponseRecorder {
	e.t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if e.clientCookie != nil {
		req.AddCookie(e.clientCookie)
	}
	if e.stateCookie != nil {
		req.AddCookie(e.stateCookie)
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		switch c.Name {
		case cookie.ClientCookie:
			e.clientCookie = c
		case cookie.OAuthStateCookie:
			if c.MaxAge < 0 {
				e.stateCookie = nil
			} else {
				e.stateCookie = c
			}
		}
	}
	return rec
}

// visit makes sure the browser holds a client cookie.
func (e *testEnv) visit() {
	e.t.Helper()
	if e.clientCookie == nil {
		rec := e.do(http.MethodGet, "/", nil, nil)
		require.Equal(e.t, http.StatusOK, rec.Code)
	}
}

func (e *testEnv) clientID() string {
	e.t.Helper()
	e.visit()
	var payload clientCookie
	require.NoError(e.t, e.signer.Verify(e.clientCookie.Value, &payload))
	return payload.ID
}

func (e *testEnv) instance() *client.Instance {
	e.t.Helper()
	inst, ok := e.manager.Get(e.clientID())
	require.True(e.t, ok)
	return inst
}

func (e *testEnv) token() string {
	e.t.Helper()
	token, err := e.csrf.Generate(e.clientID())
	require.NoError(e.t, err)
	return token
}

func (e *testEnv) login(email string) {
	e.t.Helper()
	e.visit()
	rec := e.do(http.MethodPost, "/auth/login", url.Values{
		"email":      {email},
		"password":   {testPassword},
		"csrf_token": {e.token()},
	}, nil)
	require.Equal(e.t, http.StatusSeeOther, rec.Code, rec.Body.String())
}

func (e *testEnv) session() sessionResponse {
	e.t.Helper()
	rec := e.do(http.MethodGet, "/api/session", nil, nil)
	require.Equal(e.t, http.StatusOK, rec.Code)
	var resp sessionResponse
	require.NoError(e.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func messages(ns []notify.Notification) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.Message)
	}
	return out
}
