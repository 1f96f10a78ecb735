package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aetherfit/aetherfit-front/internal/config"
	"github.com/aetherfit/aetherfit-front/internal/crypto"
	"github.com/aetherfit/aetherfit-front/internal/emailutil"
	"github.com/aetherfit/aetherfit-front/internal/idp"
	"github.com/aetherfit/aetherfit-front/internal/log"
	"github.com/aetherfit/aetherfit-front/internal/notify"
)

const adminDashboardPath = "/dashboard/admin"

// ClientRegistry is the admin's view of the live client instances
type ClientRegistry interface {
	Count() int
	Remove(id string) error
}

// RoleCache is the admin's view of the role resolver
type RoleCache interface {
	Invalidate(email string)
	InvalidateAll()
	TTL() time.Duration
}

// AdminHandlers handles the admin dashboard. Every route is behind the
// admin guard.
type AdminHandlers struct {
	pageRenderer
	clients ClientRegistry
	roles   RoleCache
}

// NewAdminHandlers creates a new admin handlers instance
func NewAdminHandlers(routes config.Routes, csrf crypto.CSRFProtection, clients ClientRegistry, roles RoleCache) *AdminHandlers {
	return &AdminHandlers{
		pageRenderer: pageRenderer{routes: routes, csrf: csrf},
		clients:      clients,
		roles:        roles,
	}
}

// AdminPageData represents the data for the admin page template
type AdminPageData struct {
	pageChrome
	ActiveClients int
	RoleTTL       string
	LogLevel      string
	LogLevels     []string
}

// DashboardHandler shows the admin dashboard
func (h *AdminHandlers) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	inst, ok := instanceOrFail(w, r)
	if !ok {
		return
	}
	data := AdminPageData{
		pageChrome:    h.chrome(inst),
		ActiveClients: h.clients.Count(),
		RoleTTL:       h.roles.TTL().String(),
		LogLevel:      log.GetLogLevel(),
		LogLevels:     []string{"error", "warn", "info", "debug", "trace"},
	}
	renderTemplate(w, http.StatusOK, adminPageTemplate, "admin.html", data)
}

// ClientActionHandler ends a browser's client instance
func (h *AdminHandlers) ClientActionHandler(w http.ResponseWriter, r *http.Request) {
	inst, ok := instanceOrFail(w, r)
	if !ok {
		return
	}

	action := r.PostFormValue("action")
	clientID := strings.TrimSpace(r.PostFormValue("client_id"))

	switch {
	case action != "remove":
		inst.Notifications().Notify(notify.LevelError, "Unknown action")
	case clientID == "":
		inst.Notifications().Notify(notify.LevelError, "Missing client id")
	case clientID == inst.ID():
		inst.Notifications().Notify(notify.LevelWarning, "Use sign out to end your own client")
	default:
		if err := h.clients.Remove(clientID); err != nil {
			inst.Notifications().Notify(notify.LevelError, fmt.Sprintf("Failed to end client: %v", err))
			break
		}
		inst.Notifications().Notify(notify.LevelSuccess, "Client ended")
		log.LogInfoWithFields("admin", "Client instance removed", map[string]any{
			"admin":  adminEmail(inst.Session().CurrentIdentity()),
			"client": clientID,
		})
	}

	http.Redirect(w, r, adminDashboardPath, http.StatusSeeOther)
}

// RoleActionHandler drops cached roles
func (h *AdminHandlers) RoleActionHandler(w http.ResponseWriter, r *http.Request) {
	inst, ok := instanceOrFail(w, r)
	if !ok {
		return
	}

	switch r.PostFormValue("action") {
	case "invalidate":
		email := emailutil.Normalize(r.PostFormValue("email"))
		if email == "" {
			inst.Notifications().Notify(notify.LevelError, "Missing email")
			break
		}
		h.roles.Invalidate(email)
		inst.Notifications().Notify(notify.LevelSuccess, "Role for "+email+" will be looked up again")
		log.LogInfoWithFields("admin", "Role invalidated", map[string]any{
			"admin": adminEmail(inst.Session().CurrentIdentity()),
			"email": email,
		})
	case "invalidate_all":
		h.roles.InvalidateAll()
		inst.Notifications().Notify(notify.LevelSuccess, "All roles will be looked up again")
		log.LogInfoWithFields("admin", "All roles invalidated", map[string]any{
			"admin": adminEmail(inst.Session().CurrentIdentity()),
		})
	default:
		inst.Notifications().Notify(notify.LevelError, "Unknown action")
	}

	http.Redirect(w, r, adminDashboardPath, http.StatusSeeOther)
}

// LoggingActionHandler handles logging configuration changes
func (h *AdminHandlers) LoggingActionHandler(w http.ResponseWriter, r *http.Request) {
	inst, ok := instanceOrFail(w, r)
	if !ok {
		return
	}

	logLevel := strings.TrimSpace(r.PostFormValue("log_level"))
	if logLevel == "" {
		inst.Notifications().Notify(notify.LevelError, "Missing log level")
	} else if err := log.SetLogLevel(logLevel); err != nil {
		inst.Notifications().Notify(notify.LevelError, fmt.Sprintf("Failed to set log level: %v", err))
	} else {
		inst.Notifications().Notify(notify.LevelSuccess, fmt.Sprintf("Log level changed to %s", log.GetLogLevel()))
		log.LogInfoWithFields("admin", "Log level changed by admin", map[string]any{
			"new_level": log.GetLogLevel(),
			"admin":     adminEmail(inst.Session().CurrentIdentity()),
		})
	}

	http.Redirect(w, r, adminDashboardPath, http.StatusSeeOther)
}

func adminEmail(identity *idp.Identity) string {
	if identity == nil {
		return ""
	}
	return identity.Email
}
