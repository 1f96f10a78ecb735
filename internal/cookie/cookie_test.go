package cookie

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetClient(t *testing.T) {
	t.Setenv("AETHERFIT_ENV", "")
	w := httptest.NewRecorder()
	SetClient(w, "signed-id", time.Hour)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, ClientCookie, c.Name)
	assert.Equal(t, "signed-id", c.Value)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 3600, c.MaxAge)
}

func TestDevModeCookiesAreNotSecure(t *testing.T) {
	t.Setenv("AETHERFIT_ENV", "dev")
	w := httptest.NewRecorder()
	SetOAuthState(w, "state")

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.False(t, cookies[0].Secure)
	assert.Equal(t, "/auth", cookies[0].Path)
}

func TestGetAndClear(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: ClientCookie, Value: "abc"})

	v, err := Get(r, ClientCookie)
	require.NoError(t, err)
	assert.Equal(t, "abc", v)

	_, err = Get(r, OAuthStateCookie)
	assert.ErrorIs(t, err, http.ErrNoCookie)

	w := httptest.NewRecorder()
	ClearOAuthState(w)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, OAuthStateCookie, cookies[0].Name)
	assert.Equal(t, -1, cookies[0].MaxAge)
}
