package cookie

import (
	"net/http"
	"time"

	"github.com/aetherfit/aetherfit-front/internal/envutil"
	"github.com/aetherfit/aetherfit-front/internal/log"
)

const (
	// ClientCookie carries the signed id of the browser's client instance.
	ClientCookie = "aetherfit_client"
	// OAuthStateCookie holds the signed state of an in-flight federated sign-in.
	OAuthStateCookie = "aetherfit_oauth_state"
)

// SetClient sets the client cookie with appropriate security settings
func SetClient(w http.ResponseWriter, value string, maxAge time.Duration) {
	secure := !envutil.IsDev()
	http.SetCookie(w, &http.Cookie{
		Name:     ClientCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge.Seconds()),
	})

	log.LogTraceWithFields("cookie", "Client cookie set", map[string]any{
		"maxAge": maxAge.String(),
		"secure": secure,
	})
}

// SetOAuthState sets the short-lived federated sign-in state. Lax so it
// survives the provider's top-level redirect back to us.
func SetOAuthState(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     OAuthStateCookie,
		Value:    value,
		Path:     "/auth",
		HttpOnly: true,
		Secure:   !envutil.IsDev(),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int((10 * time.Minute).Seconds()),
	})
}

// Clear removes a cookie by setting MaxAge to -1
func Clear(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:   name,
		Value:  "",
		Path:   path,
		MaxAge: -1,
	})
}

// ClearOAuthState removes the federated sign-in state cookie
func ClearOAuthState(w http.ResponseWriter) {
	Clear(w, OAuthStateCookie, "/auth")
}

// Get retrieves a cookie value from the request
func Get(r *http.Request, name string) (string, error) {
	c, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	return c.Value, nil
}
