package idp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aetherfit/aetherfit-front/internal/emailutil"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"
)

// OIDCConfig configures a generic OIDC authenticator.
type OIDCConfig struct {
	// DiscoveryURL is optional when all three endpoints are set.
	DiscoveryURL string

	AuthorizationURL string
	TokenURL         string
	UserInfoURL      string

	ClientID       string
	ClientSecret   string
	RedirectURI    string
	Scopes         []string
	AllowedDomains []string

	HTTPClient *http.Client
}

// OIDCAuthenticator signs users in with any OIDC-compliant provider.
type OIDCAuthenticator struct {
	config         oauth2.Config
	userInfoURL    string
	allowedDomains []string
	client         *http.Client
	now            func() time.Time
}

type oidcDiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserInfoEndpoint      string `json:"userinfo_endpoint"`
}

type oidcUserInfoResponse struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// NewOIDCAuthenticator creates an OIDC authenticator, fetching the discovery
// document when one is configured.
func NewOIDCAuthenticator(ctx context.Context, cfg OIDCConfig) (*OIDCAuthenticator, error) {
	client := cfg.HTTPClient
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}

	authURL, tokenURL, userInfoURL := cfg.AuthorizationURL, cfg.TokenURL, cfg.UserInfoURL
	if cfg.DiscoveryURL != "" {
		discoveryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		var doc oidcDiscoveryDocument
		if err := getJSON(discoveryCtx, client, cfg.DiscoveryURL, &doc); err != nil {
			return nil, fmt.Errorf("fetching OIDC discovery: %w", err)
		}
		if doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" || doc.UserInfoEndpoint == "" {
			return nil, fmt.Errorf("discovery document missing required endpoints")
		}
		authURL, tokenURL, userInfoURL = doc.AuthorizationEndpoint, doc.TokenEndpoint, doc.UserInfoEndpoint
	}
	if authURL == "" || tokenURL == "" || userInfoURL == "" {
		return nil, fmt.Errorf("either discoveryUrl or all endpoints (authorizationUrl, tokenUrl, userInfoUrl) must be provided")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}

	return &OIDCAuthenticator{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: tokenURL,
			},
		},
		userInfoURL:    userInfoURL,
		allowedDomains: cfg.AllowedDomains,
		client:         client,
		now:            time.Now,
	}, nil
}

func (p *OIDCAuthenticator) Kind() string {
	return "oidc"
}

func (p *OIDCAuthenticator) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades the authorization code for a grant using the userinfo
// endpoint for identity.
func (p *OIDCAuthenticator) Exchange(ctx context.Context, code string) (*Grant, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging OIDC code: %w", err)
	}

	var user oidcUserInfoResponse
	if err := getJSON(ctx, p.config.Client(ctx, tok), p.userInfoURL, &user); err != nil {
		return nil, fmt.Errorf("fetching OIDC user info: %w", err)
	}
	if !emailutil.InDomains(user.Email, p.allowedDomains) {
		return nil, fmt.Errorf("email domain %q: %w", emailutil.Domain(user.Email), ErrAccessDenied)
	}

	return &Grant{
		Identity: &Identity{
			ID:             user.Sub,
			Email:          user.Email,
			DisplayName:    user.Name,
			PhotoURL:       user.Picture,
			EmailVerified:  user.EmailVerified,
			LastSignInTime: p.now(),
		},
		Token: tok,
	}, nil
}

func (p *OIDCAuthenticator) TokenSource(tok *oauth2.Token) oauth2.TokenSource {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, p.client)
	return p.config.TokenSource(ctx, tok)
}
