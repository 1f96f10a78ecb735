package idp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aetherfit/aetherfit-front/internal/apperr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func testIDToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return signed
}

func TestPasswordAuthenticator_SignIn(t *testing.T) {
	authTime := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	idToken := testIDToken(t, jwt.MapClaims{
		"sub":            "uid-1",
		"email":          "member@aetherfit.example",
		"email_verified": true,
		"auth_time":      authTime.Unix(),
	})

	var gotKey string
	var gotBody passwordSignInRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts:signInWithPassword", r.URL.Path)
		gotKey = r.URL.Query().Get("key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(passwordSignInResponse{
			LocalID:      "uid-1",
			Email:        "member@aetherfit.example",
			DisplayName:  "Mia Member",
			IDToken:      idToken,
			RefreshToken: "refresh-1",
			ExpiresIn:    "3600",
		})
	}))
	defer srv.Close()

	p := NewPasswordAuthenticator(srv.URL+"/v1/accounts", "api-key", WithHTTPClient(srv.Client()))
	grant, err := p.SignInWithPassword(t.Context(), "member@aetherfit.example", "hunter2")
	require.NoError(t, err)

	assert.Equal(t, "api-key", gotKey)
	assert.True(t, gotBody.ReturnSecureToken)
	assert.Equal(t, "hunter2", gotBody.Password)

	assert.Equal(t, "uid-1", grant.Identity.ID)
	assert.Equal(t, "Mia Member", grant.Identity.DisplayName)
	assert.True(t, grant.Identity.EmailVerified)
	assert.True(t, authTime.Equal(grant.Identity.LastSignInTime))
	assert.Equal(t, idToken, BearerOf(grant.Token))
	assert.Equal(t, "refresh-1", grant.Token.RefreshToken)
	assert.False(t, grant.Token.Expiry.IsZero())
}

func TestPasswordAuthenticator_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		checkFn func(t *testing.T, err error)
	}{
		{
			name:   "invalid password",
			status: http.StatusBadRequest,
			body:   `{"error":{"code":400,"message":"INVALID_PASSWORD"}}`,
			checkFn: func(t *testing.T, err error) {
				var invalid *apperr.InvalidCredentialsError
				require.ErrorAs(t, err, &invalid)
				assert.Equal(t, "nobody@aetherfit.example", invalid.Email)
				assert.True(t, IsInvalidCredentials(err))
			},
		},
		{
			name:   "new style credential error",
			status: http.StatusBadRequest,
			body:   `{"error":{"code":400,"message":"INVALID_LOGIN_CREDENTIALS"}}`,
			checkFn: func(t *testing.T, err error) {
				assert.True(t, IsInvalidCredentials(err))
			},
		},
		{
			name:   "rate limited upstream",
			status: http.StatusBadRequest,
			body:   `{"error":{"code":400,"message":"TOO_MANY_ATTEMPTS_TRY_LATER : Access disabled"}}`,
			checkFn: func(t *testing.T, err error) {
				var reqErr *apperr.RequestError
				require.ErrorAs(t, err, &reqErr)
				assert.Equal(t, "TOO_MANY_ATTEMPTS_TRY_LATER", reqErr.Body)
				assert.False(t, IsInvalidCredentials(err))
			},
		},
		{
			name:   "non json failure",
			status: http.StatusBadGateway,
			body:   "upstream down",
			checkFn: func(t *testing.T, err error) {
				var reqErr *apperr.RequestError
				require.ErrorAs(t, err, &reqErr)
				assert.Equal(t, http.StatusBadGateway, reqErr.Status)
				assert.Equal(t, "upstream down", reqErr.Body)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewPasswordAuthenticator(srv.URL, "k", WithHTTPClient(srv.Client()))
			_, err := p.SignInWithPassword(t.Context(), "nobody@aetherfit.example", "wrong")
			require.Error(t, err)
			tt.checkFn(t, err)
		})
	}
}

func TestPasswordAuthenticator_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewPasswordAuthenticator(url, "k")
	_, err := p.SignInWithPassword(t.Context(), "a@b.c", "pw")

	var netErr *apperr.NetworkError
	require.ErrorAs(t, err, &netErr)
}

func TestPasswordAuthenticator_Refresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "refresh-1", r.PostForm.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"id-2","id_token":"id-2","refresh_token":"refresh-2","expires_in":3600,"token_type":"Bearer"}`))
	}))
	defer srv.Close()

	p := NewPasswordAuthenticator(srv.URL, "k", WithHTTPClient(srv.Client()), WithRefreshEndpoint(srv.URL+"/v1/token"))
	expired := &oauth2.Token{AccessToken: "id-1", RefreshToken: "refresh-1", Expiry: time.Now().Add(-time.Minute)}

	tok, err := p.TokenSource(expired).Token()
	require.NoError(t, err)
	assert.Equal(t, "id-2", BearerOf(tok))
	assert.Equal(t, "refresh-2", tok.RefreshToken)
}

func TestPasswordAuthenticator_NoRefreshIsStatic(t *testing.T) {
	p := NewPasswordAuthenticator("https://id.example.com", "k")
	tok := &oauth2.Token{AccessToken: "id-1", RefreshToken: "r", Expiry: time.Now().Add(-time.Hour)}

	got, err := p.TokenSource(tok).Token()
	require.NoError(t, err)
	assert.Equal(t, "id-1", got.AccessToken)
}
