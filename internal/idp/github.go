package idp

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aetherfit/aetherfit-front/internal/emailutil"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// GitHubAuthenticator signs users in with GitHub OAuth. GitHub is OAuth 2.0
// only, so identity comes from its REST API rather than an ID token.
type GitHubAuthenticator struct {
	config         oauth2.Config
	apiBaseURL     string
	allowedDomains []string
	allowedOrgs    []string
	client         *http.Client
	now            func() time.Time
}

type githubUserResponse struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmailResponse struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

type githubOrgResponse struct {
	Login string `json:"login"`
}

// NewGitHubAuthenticator creates a GitHub authenticator
func NewGitHubAuthenticator(clientID, clientSecret, redirectURI string, allowedDomains, allowedOrgs []string) *GitHubAuthenticator {
	scopes := []string{"user:email"}
	if len(allowedOrgs) > 0 {
		scopes = append(scopes, "read:org")
	}
	return &GitHubAuthenticator{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       scopes,
			Endpoint:     github.Endpoint,
		},
		apiBaseURL:     "https://api.github.com",
		allowedDomains: allowedDomains,
		allowedOrgs:    allowedOrgs,
		client:         cleanhttp.DefaultPooledClient(),
		now:            time.Now,
	}
}

func (p *GitHubAuthenticator) Kind() string {
	return "github"
}

func (p *GitHubAuthenticator) AuthURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// Exchange trades the authorization code for a grant and checks domain and
// organization restrictions.
func (p *GitHubAuthenticator) Exchange(ctx context.Context, code string) (*Grant, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging github code: %w", err)
	}
	client := p.config.Client(ctx, tok)

	var user githubUserResponse
	if err := getJSON(ctx, client, p.apiBaseURL+"/user", &user); err != nil {
		return nil, fmt.Errorf("fetching github user: %w", err)
	}

	// GitHub only exposes verified emails on the profile
	email, verified := user.Email, user.Email != ""
	if email == "" {
		email, err = p.primaryEmail(ctx, client)
		if err != nil {
			return nil, err
		}
		verified = true
	}

	if !emailutil.InDomains(email, p.allowedDomains) {
		return nil, fmt.Errorf("email domain %q: %w", emailutil.Domain(email), ErrAccessDenied)
	}
	if len(p.allowedOrgs) > 0 {
		var orgs []githubOrgResponse
		if err := getJSON(ctx, client, p.apiBaseURL+"/user/orgs", &orgs); err != nil {
			return nil, fmt.Errorf("fetching github organizations: %w", err)
		}
		member := slices.ContainsFunc(orgs, func(o githubOrgResponse) bool {
			return slices.ContainsFunc(p.allowedOrgs, func(allowed string) bool {
				return strings.EqualFold(allowed, o.Login)
			})
		})
		if !member {
			return nil, fmt.Errorf("user %s is not in an allowed organization: %w", user.Login, ErrAccessDenied)
		}
	}

	name := user.Name
	if name == "" {
		name = user.Login
	}
	return &Grant{
		Identity: &Identity{
			ID:             strconv.FormatInt(user.ID, 10),
			Email:          email,
			DisplayName:    name,
			PhotoURL:       user.AvatarURL,
			EmailVerified:  verified,
			LastSignInTime: p.now(),
		},
		Token: tok,
	}, nil
}

func (p *GitHubAuthenticator) primaryEmail(ctx context.Context, client *http.Client) (string, error) {
	var emails []githubEmailResponse
	if err := getJSON(ctx, client, p.apiBaseURL+"/user/emails", &emails); err != nil {
		return "", fmt.Errorf("fetching github emails: %w", err)
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, nil
		}
	}
	return "", fmt.Errorf("no verified github email: %w", ErrAccessDenied)
}
