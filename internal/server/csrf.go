package server

import (
	"mime"
	"net/http"
	"strings"

	"github.com/aetherfit/aetherfit-front/internal/crypto"
	jsonwriter "github.com/aetherfit/aetherfit-front/internal/json"
	"github.com/aetherfit/aetherfit-front/internal/log"
	"github.com/aetherfit/aetherfit-front/internal/notify"
)

const (
	csrfHeader = "X-CSRF-Token"
	csrfField  = "csrf_token"
)

// NewCSRFMiddleware rejects state-changing requests that do not carry a
// token issued to the calling client. Pages submit it as a form field,
// scripts in the X-CSRF-Token header. Requests under /api/ must use the
// header: their body is forwarded to the backend and is never parsed here.
// Must run after NewClientMiddleware.
func NewCSRFMiddleware(csrf crypto.CSRFProtection) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			inst, ok := InstanceFromContext(r.Context())
			if !ok {
				jsonwriter.WriteInternalServerError(w, "client session unavailable")
				return
			}

			token := r.Header.Get(csrfHeader)
			if token == "" && isForm(r) && !strings.HasPrefix(r.URL.Path, "/api/") {
				token = r.PostFormValue(csrfField)
			}
			if token != "" && csrf.Validate(inst.ID(), token) {
				next.ServeHTTP(w, r)
				return
			}

			log.LogWarnWithFields("csrf", "CSRF validation failed", map[string]any{
				"client":  inst.ID(),
				"method":  r.Method,
				"path":    r.URL.Path,
				"missing": token == "",
			})
			if wantsJSON(r) {
				jsonwriter.WriteForbidden(w, "invalid or missing CSRF token")
				return
			}
			inst.Notifications().Notify(notify.LevelWarning, "Your form has expired. Please try again.")
			http.Redirect(w, r, r.URL.Path, http.StatusSeeOther)
		})
	}
}

func isForm(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data"
}
