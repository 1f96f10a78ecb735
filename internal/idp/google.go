package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aetherfit/aetherfit-front/internal/emailutil"
	"github.com/aetherfit/aetherfit-front/internal/ioutil"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// GoogleAuthenticator signs users in with Google OAuth.
// Google reports the hosted domain as `hd` and uses `verified_email`.
type GoogleAuthenticator struct {
	config         oauth2.Config
	userInfoURL    string
	revokeURL      string
	allowedDomains []string
	client         *http.Client
	now            func() time.Time
}

type googleUserInfoResponse struct {
	Sub           string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	HostedDomain  string `json:"hd"`
}

// NewGoogleAuthenticator creates a Google authenticator
func NewGoogleAuthenticator(clientID, clientSecret, redirectURI string, allowedDomains []string) *GoogleAuthenticator {
	return &GoogleAuthenticator{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL:    "https://www.googleapis.com/oauth2/v2/userinfo",
		revokeURL:      "https://oauth2.googleapis.com/revoke",
		allowedDomains: allowedDomains,
		client:         cleanhttp.DefaultPooledClient(),
		now:            time.Now,
	}
}

func (p *GoogleAuthenticator) Kind() string {
	return "google"
}

// AuthURL generates the consent screen URL.
func (p *GoogleAuthenticator) AuthURL(state string) string {
	return p.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
}

// Exchange trades the authorization code for a grant.
func (p *GoogleAuthenticator) Exchange(ctx context.Context, code string) (*Grant, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging google code: %w", err)
	}

	var user googleUserInfoResponse
	if err := getJSON(ctx, p.config.Client(ctx, tok), p.userInfoURL, &user); err != nil {
		return nil, fmt.Errorf("fetching google user info: %w", err)
	}

	domain := user.HostedDomain
	if domain == "" {
		domain = emailutil.Domain(user.Email)
	}
	if len(p.allowedDomains) > 0 && !emailutil.InDomains("@"+domain, p.allowedDomains) {
		return nil, fmt.Errorf("domain %q: %w", domain, ErrAccessDenied)
	}

	return &Grant{
		Identity: &Identity{
			ID:             user.Sub,
			Email:          user.Email,
			DisplayName:    user.Name,
			PhotoURL:       user.Picture,
			EmailVerified:  user.VerifiedEmail,
			LastSignInTime: p.now(),
		},
		Token: tok,
	}, nil
}

func (p *GoogleAuthenticator) TokenSource(tok *oauth2.Token) oauth2.TokenSource {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, p.client)
	return p.config.TokenSource(ctx, tok)
}

// Revoke revokes the refresh token, or the access token when there is none.
func (p *GoogleAuthenticator) Revoke(ctx context.Context, tok *oauth2.Token) error {
	value := tok.RefreshToken
	if value == "" {
		value = tok.AccessToken
	}
	form := url.Values{"token": {value}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("revoking google token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoking google token: status %d: %s", resp.StatusCode, ioutil.ReadLimited(resp.Body, 512))
	}
	return nil
}

// getJSON performs an authenticated GET and decodes the JSON body into out.
func getJSON(ctx context.Context, client *http.Client, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, ioutil.ReadLimited(resp.Body, 1024))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
