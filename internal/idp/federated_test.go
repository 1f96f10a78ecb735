package idp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// newOAuthServer serves a token endpoint plus the given JSON routes.
func newOAuthServer(t *testing.T, routes map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "the-code", r.Form.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"access-1","token_type":"Bearer","refresh_token":"refresh-1","expires_in":3600}`))
	})
	for path, body := range routes {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(body)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGoogleAuthenticator_AuthURL(t *testing.T) {
	p := NewGoogleAuthenticator("client-id", "secret", "https://app.example.com/auth/callback/google", nil)

	authURL := p.AuthURL("test-state")
	assert.Contains(t, authURL, "accounts.google.com")
	assert.Contains(t, authURL, "state=test-state")
	assert.Contains(t, authURL, "client_id=client-id")
	assert.Contains(t, authURL, "access_type=offline")
	assert.Equal(t, "google", p.Kind())
}

func TestGoogleAuthenticator_Exchange(t *testing.T) {
	tests := []struct {
		name           string
		user           googleUserInfoResponse
		allowedDomains []string
		wantDenied     bool
	}{
		{
			name:           "hosted domain allowed",
			user:           googleUserInfoResponse{Sub: "g-1", Email: "coach@aetherfit.example", VerifiedEmail: true, HostedDomain: "aetherfit.example"},
			allowedDomains: []string{"aetherfit.example"},
		},
		{
			name: "no restriction",
			user: googleUserInfoResponse{Sub: "g-2", Email: "someone@gmail.com", VerifiedEmail: true},
		},
		{
			name:           "domain not allowed",
			user:           googleUserInfoResponse{Sub: "g-3", Email: "x@other.com", HostedDomain: "other.com"},
			allowedDomains: []string{"aetherfit.example"},
			wantDenied:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newOAuthServer(t, map[string]any{"/userinfo": tt.user})

			p := NewGoogleAuthenticator("id", "secret", "https://app/cb", tt.allowedDomains)
			p.config.Endpoint = oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"}
			p.userInfoURL = srv.URL + "/userinfo"
			p.client = srv.Client()

			grant, err := p.Exchange(t.Context(), "the-code")
			if tt.wantDenied {
				assert.ErrorIs(t, err, ErrAccessDenied)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.user.Sub, grant.Identity.ID)
			assert.Equal(t, tt.user.Email, grant.Identity.Email)
			assert.Equal(t, "access-1", BearerOf(grant.Token))
			assert.Equal(t, "refresh-1", grant.Token.RefreshToken)
		})
	}
}

func TestGoogleAuthenticator_Revoke(t *testing.T) {
	var revoked string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		revoked = r.PostForm.Get("token")
	}))
	defer srv.Close()

	p := NewGoogleAuthenticator("id", "secret", "https://app/cb", nil)
	p.revokeURL = srv.URL
	p.client = srv.Client()

	require.NoError(t, p.Revoke(t.Context(), &oauth2.Token{AccessToken: "a", RefreshToken: "r"}))
	assert.Equal(t, "r", revoked)
}

func TestGitHubAuthenticator_Exchange(t *testing.T) {
	tests := []struct {
		name        string
		routes      map[string]any
		allowedOrgs []string
		wantEmail   string
		wantName    string
		wantDenied  bool
	}{
		{
			name: "profile email",
			routes: map[string]any{
				"/user": githubUserResponse{ID: 42, Login: "coach", Email: "coach@aetherfit.example"},
			},
			wantEmail: "coach@aetherfit.example",
			wantName:  "coach",
		},
		{
			name: "primary email lookup",
			routes: map[string]any{
				"/user": githubUserResponse{ID: 43, Login: "mia", Name: "Mia"},
				"/user/emails": []githubEmailResponse{
					{Email: "old@example.com", Verified: true},
					{Email: "mia@aetherfit.example", Primary: true, Verified: true},
				},
			},
			wantEmail: "mia@aetherfit.example",
			wantName:  "Mia",
		},
		{
			name: "org required",
			routes: map[string]any{
				"/user":      githubUserResponse{ID: 44, Login: "out", Email: "out@example.com"},
				"/user/orgs": []githubOrgResponse{{Login: "someone-else"}},
			},
			allowedOrgs: []string{"aetherfit"},
			wantDenied:  true,
		},
		{
			name: "org member",
			routes: map[string]any{
				"/user":      githubUserResponse{ID: 45, Login: "in", Email: "in@example.com"},
				"/user/orgs": []githubOrgResponse{{Login: "AetherFit"}},
			},
			allowedOrgs: []string{"aetherfit"},
			wantEmail:   "in@example.com",
			wantName:    "in",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newOAuthServer(t, tt.routes)

			p := NewGitHubAuthenticator("id", "secret", "https://app/cb", nil, tt.allowedOrgs)
			p.config.Endpoint = oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"}
			p.apiBaseURL = srv.URL
			p.client = srv.Client()

			grant, err := p.Exchange(t.Context(), "the-code")
			if tt.wantDenied {
				assert.ErrorIs(t, err, ErrAccessDenied)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantEmail, grant.Identity.Email)
			assert.Equal(t, tt.wantName, grant.Identity.DisplayName)
			assert.True(t, grant.Identity.EmailVerified)
		})
	}
}

func TestOIDCAuthenticator_Discovery(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(oidcDiscoveryDocument{
			Issuer:                srv.URL,
			AuthorizationEndpoint: srv.URL + "/authorize",
			TokenEndpoint:         srv.URL + "/token",
			UserInfoEndpoint:      srv.URL + "/userinfo",
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"access-1","token_type":"Bearer","id_token":"oidc-id-token"}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(oidcUserInfoResponse{Sub: "o-1", Email: "a@aetherfit.example", EmailVerified: true, Name: "Ada"})
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	p, err := NewOIDCAuthenticator(t.Context(), OIDCConfig{
		DiscoveryURL:   srv.URL + "/.well-known/openid-configuration",
		ClientID:       "id",
		ClientSecret:   "secret",
		RedirectURI:    "https://app/cb",
		AllowedDomains: []string{"aetherfit.example"},
		HTTPClient:     srv.Client(),
	})
	require.NoError(t, err)
	assert.Contains(t, p.AuthURL("s"), srv.URL+"/authorize")

	grant, err := p.Exchange(t.Context(), "code")
	require.NoError(t, err)
	assert.Equal(t, "o-1", grant.Identity.ID)
	assert.Equal(t, "oidc-id-token", BearerOf(grant.Token))
}

func TestOIDCAuthenticator_RequiresEndpoints(t *testing.T) {
	_, err := NewOIDCAuthenticator(t.Context(), OIDCConfig{
		AuthorizationURL: "https://id/authorize",
		ClientID:         "id",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be provided")
}
