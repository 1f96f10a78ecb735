package server

import (
	"net/http"

	"github.com/aetherfit/aetherfit-front/internal/client"
	"github.com/aetherfit/aetherfit-front/internal/config"
	"github.com/aetherfit/aetherfit-front/internal/crypto"
	"github.com/aetherfit/aetherfit-front/internal/guard"
	jsonwriter "github.com/aetherfit/aetherfit-front/internal/json"
	"github.com/aetherfit/aetherfit-front/internal/log"
)

// pageRenderer fills in what every rendered page shows
type pageRenderer struct {
	routes config.Routes
	csrf   crypto.CSRFProtection
}

// chrome drains the instance's notifications into the page.
func (p *pageRenderer) chrome(inst *client.Instance) pageChrome {
	token, err := p.csrf.Generate(inst.ID())
	if err != nil {
		log.LogErrorWithFields("server", "Failed to generate CSRF token", map[string]any{
			"client": inst.ID(),
			"error":  err.Error(),
		})
	}
	return pageChrome{
		Identity:      inst.Session().CurrentIdentity(),
		CSRFToken:     token,
		SignInURL:     p.routes.SignIn,
		Notifications: inst.Notifications().Drain(),
	}
}

func (p *pageRenderer) renderPage(w http.ResponseWriter, status int, inst *client.Instance, data PageData) {
	data.pageChrome = p.chrome(inst)
	renderTemplate(w, status, pageTemplate, "page.html", data)
}

func instanceOrFail(w http.ResponseWriter, r *http.Request) (*client.Instance, bool) {
	inst, ok := InstanceFromContext(r.Context())
	if !ok {
		jsonwriter.WriteInternalServerError(w, "client session unavailable")
	}
	return inst, ok
}

// SessionFromRequest returns the session store of the request's client for
// the guards.
func SessionFromRequest(r *http.Request) (guard.Session, bool) {
	inst, ok := InstanceFromContext(r.Context())
	if !ok {
		return nil, false
	}
	return inst.Session(), true
}

// PageHandlers serves the pages around the guarded dashboards
type PageHandlers struct {
	pageRenderer
}

// NewPageHandlers creates the page handlers
func NewPageHandlers(routes config.Routes, csrf crypto.CSRFProtection) *PageHandlers {
	return &PageHandlers{pageRenderer{routes: routes, csrf: csrf}}
}

var dashboardLinks = []PageLink{
	{Label: "Member dashboard", URL: "/dashboard/member"},
	{Label: "Trainer dashboard", URL: "/dashboard/trainer"},
	{Label: "Admin dashboard", URL: "/dashboard/admin"},
	{Label: "Profile", URL: "/dashboard/profile"},
}

// HomeHandler renders the landing page. It is public.
func (h *PageHandlers) HomeHandler(w http.ResponseWriter, r *http.Request) {
	inst, ok := instanceOrFail(w, r)
	if !ok {
		return
	}
	if r.URL.Path != "/" {
		h.renderPage(w, http.StatusNotFound, inst, PageData{
			Title:   "Page not found",
			Message: "The page you are looking for does not exist.",
			Links:   []PageLink{{Label: "Home", URL: h.routes.Home}},
		})
		return
	}

	data := PageData{Title: "Welcome to AetherFit"}
	if inst.Session().CurrentIdentity() != nil {
		data.Links = dashboardLinks
	} else {
		data.Message = "Sign in to book classes and manage your membership."
		data.Links = []PageLink{{Label: "Sign in", URL: h.routes.SignIn}}
	}
	h.renderPage(w, http.StatusOK, inst, data)
}

// UnauthorizedHandler renders the page guards send users without access to
func (h *PageHandlers) UnauthorizedHandler(w http.ResponseWriter, r *http.Request) {
	inst, ok := instanceOrFail(w, r)
	if !ok {
		return
	}
	h.renderPage(w, http.StatusOK, inst, PageData{
		Title:   "Access denied",
		Message: "Your account does not have access to that page.",
		Links:   []PageLink{{Label: "Home", URL: h.routes.Home}},
	})
}

// DashboardHandler renders a dashboard behind a guard. The guard has
// already admitted the request by the time it runs.
func (h *PageHandlers) DashboardHandler(title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inst, ok := instanceOrFail(w, r)
		if !ok {
			return
		}
		h.renderPage(w, http.StatusOK, inst, PageData{
			Title: title,
			Role:  guard.RoleFromContext(r.Context()).String(),
			Links: dashboardLinks,
		})
	}
}
