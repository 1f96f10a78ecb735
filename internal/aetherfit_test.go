package internal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/aetherfit/aetherfit-front/internal/apiclient"
	"github.com/aetherfit/aetherfit-front/internal/client"
	"github.com/aetherfit/aetherfit-front/internal/config"
	"github.com/aetherfit/aetherfit-front/internal/cookie"
	"github.com/aetherfit/aetherfit-front/internal/idp"
	"github.com/aetherfit/aetherfit-front/internal/metrics"
	"github.com/aetherfit/aetherfit-front/internal/role"
	"github.com/aetherfit/aetherfit-front/internal/server"
	"github.com/aetherfit/aetherfit-front/internal/tokenstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type stubPassword struct{}

func (stubPassword) Kind() string { return "password" }

func (stubPassword) SignInWithPassword(_ context.Context, email, _ string) (*idp.Grant, error) {
	return &idp.Grant{
		Identity: &idp.Identity{ID: "uid-" + email, Email: email},
		Token:    &oauth2.Token{AccessToken: "bearer-" + email},
	}, nil
}

// fakeBackend serves /users from a role table and echoes the bearer token
// for everything else.
type fakeBackend struct {
	mu    sync.Mutex
	roles map[string]string
	auth  []string
}

func (b *fakeBackend) setRole(email, r string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roles[email] = r
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.auth = append(b.auth, r.Header.Get("Authorization"))
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == role.UsersPath && r.Method == http.MethodGet:
		email := r.URL.Query().Get("email")
		b.mu.Lock()
		got := b.roles[email]
		b.mu.Unlock()
		_ = json.NewEncoder(w).Encode([]map[string]string{{"email": email, "role": got}})
	case r.Method == http.MethodPost:
		w.WriteHeader(http.StatusCreated)
		_, _ = io.Copy(w, r.Body)
	default:
		_, _ = w.Write([]byte(`[{"id":"yoga-101"}]`))
	}
}

type browser struct {
	t       *testing.T
	handler http.Handler
	cookie  *http.Cookie
}

func (b *browser) do(method, target, contentType string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	b.t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if b.cookie != nil {
		req.AddCookie(b.cookie)
	}
	rec := httptest.NewRecorder()
	b.handler.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookie.ClientCookie {
			b.cookie = c
		}
	}
	return rec
}

func (b *browser) csrfToken() string {
	b.t.Helper()
	rec := b.do(http.MethodGet, "/api/session", "", nil, nil)
	require.Equal(b.t, http.StatusOK, rec.Code)
	var resp struct {
		CSRFToken string `json:"csrfToken"`
	}
	require.NoError(b.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(b.t, resp.CSRFToken)
	return resp.CSRFToken
}

func newTestFront(t *testing.T) (http.Handler, *fakeBackend) {
	t.Helper()
	t.Setenv("AETHERFIT_ENV", "dev")

	backend := &fakeBackend{roles: map[string]string{}}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	cfg := config.Config{
		Front: config.FrontConfig{
			BaseURL:    "http://localhost:8080",
			Addr:       ":0",
			SessionKey: config.Secret(strings.Repeat("k", 32)),
		},
		API: config.APIConfig{BaseURL: srv.URL},
	}
	cfg.ApplyDefaults()

	authenticators := idp.NewAuthenticatorSet(stubPassword{})
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	clients := client.NewManager(client.Dependencies{
		Authenticators: authenticators,
		Storage:        tokenstore.NewMemoryStorage(),
		API:            apiclient.NewConfig(cfg.API, cfg.Front.Routes),
		HTTPClient:     apiclient.NewHTTPClient(cfg.API.Timeout),
		Metrics:        collector,
	})
	t.Cleanup(clients.Shutdown)

	resolver, err := role.NewResolver(role.NewBackendFetcher(nil), cfg.Roles.CacheTTL, role.WithMetrics(collector))
	require.NoError(t, err)
	limiter, err := server.NewSignInLimiter(cfg.Front.SignInRateLimit)
	require.NoError(t, err)

	handler := buildHTTPHandler(cfg, components{
		authenticators: authenticators,
		clients:        clients,
		resolver:       resolver,
		limiter:        limiter,
		metrics:        collector,
		gatherer:       registry,
	})
	return handler, backend
}

func TestFront_EndToEnd(t *testing.T) {
	handler, backend := newTestFront(t)
	b := &browser{t: t, handler: handler}

	rec := b.do(http.MethodGet, "/health", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","clients":0}`, rec.Body.String())
	assert.Nil(t, b.cookie, "health does not create a client")

	// sign in as a member
	backend.setRole("pat@aetherfit.test", "member")
	form := url.Values{
		"email":      {"pat@aetherfit.test"},
		"password":   {"pw"},
		"next":       {"/dashboard/member"},
		"csrf_token": {b.csrfToken()},
	}
	rec = b.do(http.MethodPost, "/auth/login", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/dashboard/member", rec.Header().Get("Location"))

	rec = b.do(http.MethodGet, "/dashboard/member", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// API calls carry the session's bearer token
	rec = b.do(http.MethodGet, "/api/classes?day=mon", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":"yoga-101"}]`, rec.Body.String())
	backend.mu.Lock()
	assert.Equal(t, "Bearer bearer-pat@aetherfit.test", backend.auth[len(backend.auth)-1])
	backend.mu.Unlock()

	// unknown resources never reach the backend
	rec = b.do(http.MethodGet, "/api/secrets", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = b.do(http.MethodGet, "/dashboard/admin", "", nil, nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/unauthorizedaccess", rec.Header().Get("Location"))

	// a promotion through the users API drops the cached roles
	backend.setRole("pat@aetherfit.test", "admin")
	rec = b.do(http.MethodPost, "/api/users", "application/json", strings.NewReader(`{"email":"pat@aetherfit.test","role":"admin"}`),
		http.Header{"X-Csrf-Token": {b.csrfToken()}})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = b.do(http.MethodGet, "/dashboard/admin", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Admin dashboard")

	rec = b.do(http.MethodGet, "/health", "", nil, nil)
	assert.JSONEq(t, `{"status":"ok","clients":1}`, rec.Body.String())

	rec = b.do(http.MethodGet, "/metrics", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "aetherfit_sign_ins_total")
	assert.Contains(t, rec.Body.String(), "aetherfit_role_lookups_total")
}

func TestFront_APIMutationRequiresCSRFToken(t *testing.T) {
	handler, _ := newTestFront(t)
	b := &browser{t: t, handler: handler}
	b.csrfToken()

	rec := b.do(http.MethodDelete, "/api/bookings/7", "", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestFront_CORSPreflight(t *testing.T) {
	handler, _ := newTestFront(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/classes", nil)
	req.Header.Set("Origin", "https://app.aetherfit.test")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSetupStorage(t *testing.T) {
	cfg := config.Config{Front: config.FrontConfig{SessionKey: config.Secret(strings.Repeat("k", 32))}}

	cfg.TokenStorage = config.TokenStorageConfig{Kind: config.TokenStorageMemory}
	store, err := setupStorage(t.Context(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &tokenstore.MemoryStorage{}, store)

	cfg.TokenStorage = config.TokenStorageConfig{Kind: config.TokenStorageFile, Path: t.TempDir() + "/tokens.json"}
	store, err = setupStorage(t.Context(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &tokenstore.FileStorage{}, store)
	require.NoError(t, store.Set(t.Context(), "k", "v"))
	require.NoError(t, store.Close())

	cfg.Front.SessionKey = "short"
	_, err = setupStorage(t.Context(), cfg)
	assert.Error(t, err)
}
