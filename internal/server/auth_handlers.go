package server

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aetherfit/aetherfit-front/internal/apperr"
	"github.com/aetherfit/aetherfit-front/internal/client"
	"github.com/aetherfit/aetherfit-front/internal/config"
	"github.com/aetherfit/aetherfit-front/internal/cookie"
	"github.com/aetherfit/aetherfit-front/internal/crypto"
	"github.com/aetherfit/aetherfit-front/internal/idp"
	"github.com/aetherfit/aetherfit-front/internal/log"
	"github.com/aetherfit/aetherfit-front/internal/metrics"
	"github.com/aetherfit/aetherfit-front/internal/notify"
	"github.com/aetherfit/aetherfit-front/internal/session"
	"github.com/aetherfit/aetherfit-front/internal/urlutil"
)

const federatedStateTTL = 10 * time.Minute

// AuthHandlers serves sign-in and sign-out
type AuthHandlers struct {
	pageRenderer
	authenticators *idp.Authenticators
	stateToken     crypto.TokenSigner
	limiter        *SignInLimiter
	metrics        *metrics.Collector
}

// federatedState travels through the provider and back in the state parameter
type federatedState struct {
	ClientID string `json:"client_id"`
	Provider string `json:"provider"`
	Next     string `json:"next"`
	Nonce    string `json:"nonce"`
}

// NewAuthHandlers creates new auth handlers. metrics may be nil.
func NewAuthHandlers(
	authenticators *idp.Authenticators,
	routes config.Routes,
	csrf crypto.CSRFProtection,
	signingKey []byte,
	limiter *SignInLimiter,
	metrics *metrics.Collector,
) *AuthHandlers {
	return &AuthHandlers{
		pageRenderer:   pageRenderer{routes: routes, csrf: csrf},
		authenticators: authenticators,
		stateToken:     crypto.NewTokenSigner(signingKey, federatedStateTTL),
		limiter:        limiter,
		metrics:        metrics,
	}
}

var providerLabels = map[string]string{
	"google": "Google",
	"github": "GitHub",
	"oidc":   "single sign-on",
}

func (h *AuthHandlers) renderLogin(w http.ResponseWriter, status int, inst *client.Instance, next, email, errMsg string) {
	data := LoginPageData{
		pageChrome:      h.chrome(inst),
		PasswordEnabled: h.authenticators.Password() != nil,
		Next:            next,
		Email:           email,
		Error:           errMsg,
	}
	for _, kind := range h.authenticators.FederatedKinds() {
		label, ok := providerLabels[kind]
		if !ok {
			label = kind
		}
		data.Providers = append(data.Providers, ProviderLink{
			Kind:  kind,
			Label: label,
			URL:   "/auth/federated/" + url.PathEscape(kind) + "?next=" + url.QueryEscape(next),
		})
	}
	renderTemplate(w, status, loginPageTemplate, "login.html", data)
}

// LoginPageHandler shows the sign-in form. Signed-in users go straight on.
func (h *AuthHandlers) LoginPageHandler(w http.ResponseWriter, r *http.Request) {
	inst, ok := instanceOrFail(w, r)
	if !ok {
		return
	}
	next := urlutil.LocalRedirect(r.URL.Query().Get("next"), h.routes.Home)
	if inst.Session().CurrentIdentity() != nil {
		http.Redirect(w, r, next, http.StatusFound)
		return
	}
	h.renderLogin(w, http.StatusOK, inst, next, "", "")
}

// LoginHandler signs in with email and password
func (h *AuthHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inst, ok := instanceOrFail(w, r)
	if !ok {
		return
	}

	email := strings.TrimSpace(r.PostFormValue("email"))
	password := r.PostFormValue("password")
	next := urlutil.LocalRedirect(r.PostFormValue("next"), h.routes.Home)

	if allowed, retryAfter := h.limiter.Allow(inst.ID()); !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		h.renderLogin(w, http.StatusTooManyRequests, inst, next, email,
			"Too many sign-in attempts. Please wait a moment and try again.")
		return
	}
	if email == "" || password == "" {
		h.renderLogin(w, http.StatusBadRequest, inst, next, email, "Email and password are required.")
		return
	}

	identity, err := inst.Session().SignIn(ctx, session.PasswordCredentials{Email: email, Password: password})
	h.metrics.RecordSignIn("password", err == nil)
	if err != nil {
		status, msg := signInFailure(err)
		h.renderLogin(w, status, inst, next, email, msg)
		return
	}

	inst.Notifications().Notify(notify.LevelSuccess, welcome(identity))
	http.Redirect(w, r, next, http.StatusSeeOther)
}

// signInFailure maps a sign-in error onto the status and the inline message
// of the sign-in form.
func signInFailure(err error) (int, string) {
	var invalid *apperr.InvalidCredentialsError
	var netErr *apperr.NetworkError
	switch {
	case errors.As(err, &invalid):
		return http.StatusUnauthorized, "Invalid email or password."
	case errors.Is(err, idp.ErrMethodDisabled):
		return http.StatusNotFound, "This sign-in method is not enabled."
	case errors.Is(err, idp.ErrAccessDenied):
		return http.StatusForbidden, "This account is not allowed to sign in."
	case errors.As(err, &netErr):
		return http.StatusServiceUnavailable, "We could not reach the sign-in service. Please try again."
	}
	log.LogErrorWithFields("auth", "Unexpected sign-in failure", map[string]any{
		"error": err.Error(),
	})
	return http.StatusInternalServerError, "Sign-in failed. Please try again."
}

func welcome(identity *idp.Identity) string {
	name := identity.DisplayName
	if name == "" {
		name = identity.Email
	}
	return "Welcome back, " + name + "!"
}

// FederatedStartHandler sends the browser to the provider's consent screen
func (h *AuthHandlers) FederatedStartHandler(w http.ResponseWriter, r *http.Request) {
	inst, ok := instanceOrFail(w, r)
	if !ok {
		return
	}
	provider := r.PathValue("provider")
	next := urlutil.LocalRedirect(r.URL.Query().Get("next"), h.routes.Home)

	nonce, err := crypto.GenerateSecureToken()
	if err != nil {
		log.LogErrorWithFields("auth", "Failed to generate state nonce", map[string]any{
			"error": err.Error(),
		})
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	state, err := h.stateToken.Sign(federatedState{
		ClientID: inst.ID(),
		Provider: provider,
		Next:     next,
		Nonce:    nonce,
	})
	if err != nil {
		log.LogErrorWithFields("auth", "Failed to sign federated state", map[string]any{
			"error": err.Error(),
		})
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	authURL, err := inst.Auth().FederatedURL(provider, state)
	if err != nil {
		log.LogInfoWithFields("auth", "Federated sign-in requested for unknown provider", map[string]any{
			"provider": provider,
		})
		inst.Notifications().Notify(notify.LevelWarning, "This sign-in method is not enabled.")
		http.Redirect(w, r, h.routes.SignIn, http.StatusFound)
		return
	}

	cookie.SetOAuthState(w, state)
	log.LogDebugWithFields("auth", "Starting federated sign-in", map[string]any{
		"client":   inst.ID(),
		"provider": provider,
	})
	http.Redirect(w, r, authURL, http.StatusFound)
}

// FederatedCallbackHandler completes a federated sign-in
func (h *AuthHandlers) FederatedCallbackHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inst, ok := instanceOrFail(w, r)
	if !ok {
		return
	}
	provider := r.PathValue("provider")
	query := r.URL.Query()

	saved, _ := cookie.Get(r, cookie.OAuthStateCookie)
	cookie.ClearOAuthState(w)

	var state federatedState
	if err := h.verifyState(saved, query.Get("state"), &state); err != nil || state.ClientID != inst.ID() || state.Provider != provider {
		fields := map[string]any{"client": inst.ID(), "provider": provider}
		if err != nil {
			fields["error"] = err.Error()
		}
		log.LogWarnWithFields("auth", "Rejected federated callback", fields)
		inst.Notifications().Notify(notify.LevelError, "Sign-in could not be verified. Please try again.")
		http.Redirect(w, r, h.routes.SignIn, http.StatusFound)
		return
	}

	identity, err := inst.Session().SignIn(ctx, session.FederatedCredentials{Provider: provider, Callback: query})
	h.metrics.RecordSignIn(provider, err == nil)
	if err != nil {
		var closed *apperr.PopupClosedError
		if errors.As(err, &closed) {
			inst.Notifications().Notify(notify.LevelInfo, "Sign-in was cancelled.")
		} else {
			_, msg := signInFailure(err)
			inst.Notifications().Notify(notify.LevelError, msg)
		}
		http.Redirect(w, r, withNext(h.routes.SignIn, state.Next), http.StatusFound)
		return
	}

	inst.Notifications().Notify(notify.LevelSuccess, welcome(identity))
	http.Redirect(w, r, urlutil.LocalRedirect(state.Next, h.routes.Home), http.StatusFound)
}

func (h *AuthHandlers) verifyState(saved, returned string, state *federatedState) error {
	if saved == "" || returned == "" {
		return errors.New("missing state")
	}
	if saved != returned {
		return errors.New("state mismatch")
	}
	return h.stateToken.Verify(returned, state)
}

// LogoutHandler signs the client out
func (h *AuthHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	inst, ok := instanceOrFail(w, r)
	if !ok {
		return
	}
	inst.Session().SignOut(r.Context())
	inst.Notifications().Notify(notify.LevelInfo, "You have been signed out.")

	if wantsJSON(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, h.routes.SignIn, http.StatusSeeOther)
}

func withNext(target, next string) string {
	if next == "" {
		return target
	}
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set("next", next)
	u.RawQuery = q.Encode()
	return u.String()
}
