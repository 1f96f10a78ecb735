package apiclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/aetherfit/aetherfit-front/internal/apperr"
	"github.com/aetherfit/aetherfit-front/internal/idp"
	"github.com/aetherfit/aetherfit-front/internal/navigate"
	"github.com/aetherfit/aetherfit-front/internal/notify"
	"github.com/aetherfit/aetherfit-front/internal/session"
	"github.com/aetherfit/aetherfit-front/internal/tokenstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type stubPassword struct{}

func (stubPassword) Kind() string { return "password" }

func (stubPassword) SignInWithPassword(ctx context.Context, email, password string) (*idp.Grant, error) {
	return &idp.Grant{
		Identity: &idp.Identity{ID: "uid-1", Email: email},
		Token:    &oauth2.Token{AccessToken: "token-1"},
	}, nil
}

type harness struct {
	auth      *idp.Auth
	slot      *tokenstore.Slot
	store     *session.Store
	queue     *notify.Queue
	navigator *navigate.Recorder
	client    *Client
}

func newHarness(t *testing.T, backend http.Handler) *harness {
	t.Helper()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	h := &harness{
		auth:      idp.NewAuth(idp.NewAuthenticatorSet(stubPassword{})),
		slot:      tokenstore.NewSlot(tokenstore.NewMemoryStorage(), "client-1"),
		queue:     notify.NewQueue(0),
		navigator: navigate.NewRecorder(),
	}
	h.store = session.NewStore(h.auth, h.slot, "client-1")
	t.Cleanup(h.store.Subscribe(func(*idp.Identity) {}))
	h.client = New(Config{BaseURL: srv.URL + "/v1"}, h.slot, h.store, h.queue, h.navigator)
	return h
}

func (h *harness) signIn(t *testing.T) {
	t.Helper()
	_, err := h.store.SignIn(t.Context(), session.PasswordCredentials{Email: "member@aetherfit.example", Password: "pw"})
	require.NoError(t, err)
}

func statusHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func TestAuthorizationHeaderFollowsStorage(t *testing.T) {
	var seen []string
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, h.client.Get(t.Context(), "/classes", nil, nil))

	h.signIn(t)
	require.NoError(t, h.client.Get(t.Context(), "/classes", nil, nil))

	// another tab signed out and removed the token
	require.NoError(t, h.slot.Clear(t.Context()))
	require.NoError(t, h.client.Get(t.Context(), "/classes", nil, nil))

	assert.Equal(t, []string{"", "Bearer token-1", ""}, seen)
}

func TestUnauthorizedEndsSession(t *testing.T) {
	h := newHarness(t, statusHandler(http.StatusUnauthorized, `{"error":"expired"}`))
	h.signIn(t)

	err := h.client.Get(t.Context(), "/bookings", nil, nil)

	var unauthorized *apperr.UnauthorizedError
	require.ErrorAs(t, err, &unauthorized)
	assert.Equal(t, "/v1/bookings", unauthorized.Path)

	_, ok, err := h.slot.Token(t.Context())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, h.store.CurrentIdentity())

	assert.Equal(t, 1, h.navigator.Count())
	target, _ := h.navigator.Target()
	assert.Equal(t, "/auth/login", target)

	notes := h.queue.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, notify.LevelError, notes[0].Level)
}

func TestForbiddenKeepsSession(t *testing.T) {
	h := newHarness(t, statusHandler(http.StatusForbidden, ""))
	h.signIn(t)
	before := h.store.CurrentIdentity()

	err := h.client.Post(t.Context(), "/trainers", map[string]string{"name": "x"}, nil)

	var forbidden *apperr.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.Same(t, before, h.store.CurrentIdentity())

	tok, ok, err := h.slot.Token(t.Context())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "token-1", tok)

	assert.Equal(t, []string{"/"}, h.navigator.Paths())
	notes := h.queue.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, notify.LevelWarning, notes[0].Level)
}

func TestOtherStatusIsRequestError(t *testing.T) {
	h := newHarness(t, statusHandler(http.StatusUnprocessableEntity, `{"field":"date"}`))
	h.signIn(t)

	err := h.client.Post(t.Context(), "/bookings", map[string]string{}, nil)

	var reqErr *apperr.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusUnprocessableEntity, reqErr.Status)
	assert.Equal(t, `{"field":"date"}`, reqErr.Body)
	assert.Zero(t, h.navigator.Count())
	assert.Zero(t, h.queue.Len())
	assert.NotNil(t, h.store.CurrentIdentity())
}

func TestRequestErrorBodyIsBounded(t *testing.T) {
	srv := httptest.NewServer(statusHandler(http.StatusInternalServerError, "0123456789abcdef"))
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL, MaxErrorBody: 4}, nil, nil, nil, nil)

	err := c.Get(t.Context(), "/payments", nil, nil)
	var reqErr *apperr.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "0123...(truncated)", reqErr.Body)
}

func TestNetworkFailureDoesNotRedirect(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	nav := navigate.NewRecorder()
	c := New(Config{BaseURL: base}, nil, nil, nil, nav)

	err := c.Get(t.Context(), "/classes", nil, nil)
	var netErr *apperr.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Zero(t, nav.Count())
}

func TestInterceptorsInstallOnce(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	h.signIn(t)

	h.client.install()
	h.client.install()
	assert.Len(t, h.client.requestInterceptors, 1)
	assert.Len(t, h.client.responseInterceptors, 1)

	listeners := h.auth.ListenerCount()
	for range 5 {
		New(Config{BaseURL: "http://backend.invalid"}, h.slot, h.store, h.queue, h.navigator)
	}
	assert.Equal(t, listeners, h.auth.ListenerCount())

	_ = h.client.Get(t.Context(), "/classes", nil, nil)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, h.navigator.Count())
	assert.Equal(t, 1, h.queue.Len())
}

func TestContextOverridesNavigator(t *testing.T) {
	h := newHarness(t, statusHandler(http.StatusForbidden, ""))
	perRequest := navigate.NewRecorder()
	ctx := navigate.WithNavigator(t.Context(), perRequest)

	err := h.client.Get(ctx, "/users", nil, nil)
	require.Error(t, err)
	assert.Equal(t, 1, perRequest.Count())
	assert.Zero(t, h.navigator.Count())
}

func TestJSONHelpers(t *testing.T) {
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/classes":
			assert.Equal(t, "yoga", r.URL.Query().Get("type"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `[{"id":"c1"}]`)
		case r.Method == http.MethodPatch && r.URL.Path == "/v1/classes/c1":
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"capacity":12}`, string(body))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			_, _ = io.WriteString(w, `{"id":"c1","capacity":12}`)
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	var classes []struct {
		ID string `json:"id"`
	}
	require.NoError(t, h.client.Get(t.Context(), "/classes", url.Values{"type": {"yoga"}}, &classes))
	require.Len(t, classes, 1)
	assert.Equal(t, "c1", classes[0].ID)

	var updated struct {
		Capacity int `json:"capacity"`
	}
	require.NoError(t, h.client.Patch(t.Context(), "/classes/c1", map[string]int{"capacity": 12}, &updated))
	assert.Equal(t, 12, updated.Capacity)

	var none struct{}
	require.NoError(t, h.client.Delete(t.Context(), "/classes/c1", &none))
}

func TestForwardFiltersBrowserCredentials(t *testing.T) {
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Cookie"))
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		assert.Equal(t, "fr", r.Header.Get("Accept-Language"))
		w.Header().Set("X-Total", "3")
		w.WriteHeader(http.StatusCreated)
	}))
	h.signIn(t)

	header := http.Header{}
	header.Set("Cookie", "aetherfit_client=abc")
	header.Set("Authorization", "Bearer spoofed")
	header.Set("Accept-Language", "fr")

	resp, err := h.client.Forward(t.Context(), http.MethodPost, "/reviews", nil, nil, header)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "3", resp.Header.Get("X-Total"))
}

type failingTokens struct{}

func (failingTokens) Token(context.Context) (string, bool, error) {
	return "", false, errors.New("storage offline")
}

func TestTokenReadFailureAbortsRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(srv.Close)

	c := New(Config{BaseURL: srv.URL}, failingTokens{}, nil, nil, nil)
	err := c.Get(t.Context(), "/classes", nil, nil)
	assert.ErrorContains(t, err, "storage offline")
	assert.Zero(t, calls.Load())
}
