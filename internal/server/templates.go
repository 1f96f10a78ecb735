package server

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/aetherfit/aetherfit-front/internal/idp"
	"github.com/aetherfit/aetherfit-front/internal/log"
	"github.com/aetherfit/aetherfit-front/internal/notify"
)

//go:embed templates/*.html
var templateFS embed.FS

var (
	loginPageTemplate = template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/login.html"))
	pageTemplate      = template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/page.html"))
	adminPageTemplate = template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/admin.html"))
)

// pageChrome is shared by every rendered page
type pageChrome struct {
	Identity      *idp.Identity
	CSRFToken     string
	SignInURL     string
	Notifications []notify.Notification
}

// LoginPageData represents the data for the sign-in page
type LoginPageData struct {
	pageChrome
	PasswordEnabled bool
	Providers       []ProviderLink
	Next            string
	Email           string
	Error           string
}

// ProviderLink is one federated sign-in button
type ProviderLink struct {
	Kind  string
	Label string
	URL   string
}

// PageData represents the data for a generic page
type PageData struct {
	pageChrome
	Title   string
	Message string
	Role    string
	Links   []PageLink
}

// PageLink is a navigation link on a page
type PageLink struct {
	Label string
	URL   string
}

func renderTemplate(w http.ResponseWriter, status int, tmpl *template.Template, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := tmpl.ExecuteTemplate(w, name, data); err != nil {
		log.LogErrorWithFields("server", "Failed to render template", map[string]any{
			"template": name,
			"error":    err.Error(),
		})
	}
}
