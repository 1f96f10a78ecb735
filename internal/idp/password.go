package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aetherfit/aetherfit-front/internal/apperr"
	"github.com/aetherfit/aetherfit-front/internal/ioutil"
	"github.com/aetherfit/aetherfit-front/internal/log"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"
)

// PasswordAuthenticator signs users in against an identity-toolkit style REST
// endpoint (POST {endpoint}:signInWithPassword?key=...).
type PasswordAuthenticator struct {
	endpoint   string
	apiKey     string
	refreshURL string
	client     *http.Client
	now        func() time.Time
}

// PasswordOption configures a PasswordAuthenticator
type PasswordOption func(*PasswordAuthenticator)

// WithHTTPClient replaces the pooled default client
func WithHTTPClient(c *http.Client) PasswordOption {
	return func(p *PasswordAuthenticator) {
		p.client = c
	}
}

// WithRefreshEndpoint enables token refresh through a securetoken style
// endpoint accepting grant_type=refresh_token.
func WithRefreshEndpoint(endpoint string) PasswordOption {
	return func(p *PasswordAuthenticator) {
		p.refreshURL = endpoint
	}
}

// NewPasswordAuthenticator creates a password authenticator
func NewPasswordAuthenticator(endpoint, apiKey string, opts ...PasswordOption) *PasswordAuthenticator {
	p := &PasswordAuthenticator{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client:   cleanhttp.DefaultPooledClient(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *PasswordAuthenticator) Kind() string {
	return "password"
}

type passwordSignInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type passwordSignInResponse struct {
	LocalID        string `json:"localId"`
	Email          string `json:"email"`
	DisplayName    string `json:"displayName"`
	ProfilePicture string `json:"profilePicture"`
	IDToken        string `json:"idToken"`
	RefreshToken   string `json:"refreshToken"`
	ExpiresIn      string `json:"expiresIn"`
}

type identityErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// credentialErrors are the upstream error codes that mean "wrong email or
// password" as far as the user is concerned.
var credentialErrors = map[string]bool{
	"INVALID_PASSWORD":          true,
	"EMAIL_NOT_FOUND":           true,
	"INVALID_LOGIN_CREDENTIALS": true,
	"INVALID_EMAIL":             true,
	"USER_DISABLED":             true,
	"MISSING_PASSWORD":          true,
}

// SignInWithPassword exchanges credentials for a grant
func (p *PasswordAuthenticator) SignInWithPassword(ctx context.Context, email, password string) (*Grant, error) {
	body, err := json.Marshal(passwordSignInRequest{Email: email, Password: password, ReturnSecureToken: true})
	if err != nil {
		return nil, fmt.Errorf("encoding sign-in request: %w", err)
	}

	signInURL := p.endpoint + ":signInWithPassword?key=" + url.QueryEscape(p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, signInURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building sign-in request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &apperr.NetworkError{Op: "password sign-in", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.signInError(resp, email)
	}

	var out passwordSignInResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding sign-in response: %w", err)
	}
	if out.IDToken == "" {
		return nil, fmt.Errorf("sign-in response carried no idToken")
	}

	identity := &Identity{
		ID:             out.LocalID,
		Email:          out.Email,
		DisplayName:    out.DisplayName,
		PhotoURL:       out.ProfilePicture,
		LastSignInTime: p.now(),
	}
	applyIDTokenClaims(identity, out.IDToken)

	tok := &oauth2.Token{
		AccessToken:  out.IDToken,
		TokenType:    "Bearer",
		RefreshToken: out.RefreshToken,
	}
	if secs, err := strconv.Atoi(out.ExpiresIn); err == nil && secs > 0 {
		tok.Expiry = p.now().Add(time.Duration(secs) * time.Second)
	}

	log.LogInfoWithFields("idp", "Password sign-in succeeded", map[string]any{
		"uid": identity.ID,
	})
	return &Grant{Identity: identity, Token: tok}, nil
}

func (p *PasswordAuthenticator) signInError(resp *http.Response, email string) error {
	raw := ioutil.ReadLimited(resp.Body, 4096)

	var parsed identityErrorResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil && parsed.Error.Message != "" {
		// Messages look like "TOO_MANY_ATTEMPTS_TRY_LATER : Access disabled..."
		code, _, _ := strings.Cut(parsed.Error.Message, " ")
		if credentialErrors[code] {
			log.LogDebugWithFields("idp", "Password sign-in rejected", map[string]any{
				"reason": code,
			})
			return &apperr.InvalidCredentialsError{Email: email}
		}
		return &apperr.RequestError{Status: resp.StatusCode, Body: code}
	}
	return &apperr.RequestError{Status: resp.StatusCode, Body: raw}
}

// applyIDTokenClaims copies profile claims out of the ID token. The token is
// verified by the backend on every request, so only its claims are read here.
func applyIDTokenClaims(identity *Identity, idToken string) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		log.LogDebugWithFields("idp", "ID token claims unreadable", map[string]any{
			"error": err.Error(),
		})
		return
	}

	if v, ok := claims["email_verified"].(bool); ok {
		identity.EmailVerified = v
	}
	if v, ok := claims["auth_time"].(float64); ok && v > 0 {
		identity.LastSignInTime = time.Unix(int64(v), 0)
	}
	if identity.Email == "" {
		identity.Email, _ = claims["email"].(string)
	}
	if identity.DisplayName == "" {
		identity.DisplayName, _ = claims["name"].(string)
	}
	if identity.PhotoURL == "" {
		identity.PhotoURL, _ = claims["picture"].(string)
	}
	if identity.ID == "" {
		identity.ID, _ = claims.GetSubject()
	}
}

// TokenSource renews password grants through the refresh endpoint. It
// returns a static source when refresh is not configured.
func (p *PasswordAuthenticator) TokenSource(tok *oauth2.Token) oauth2.TokenSource {
	if p.refreshURL == "" || tok.RefreshToken == "" {
		return oauth2.StaticTokenSource(tok)
	}
	cfg := &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  p.refreshURL + "?key=" + url.QueryEscape(p.apiKey),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, p.client)
	return cfg.TokenSource(ctx, tok)
}

// IsInvalidCredentials is a convenience for handlers rendering the form
func IsInvalidCredentials(err error) bool {
	var invalid *apperr.InvalidCredentialsError
	return errors.As(err, &invalid)
}
