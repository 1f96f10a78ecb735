package server

import (
	"context"
	"net/http"

	"github.com/aetherfit/aetherfit-front/internal/apperr"
	"github.com/aetherfit/aetherfit-front/internal/config"
	"github.com/aetherfit/aetherfit-front/internal/crypto"
	"github.com/aetherfit/aetherfit-front/internal/idp"
	jsonwriter "github.com/aetherfit/aetherfit-front/internal/json"
	"github.com/aetherfit/aetherfit-front/internal/log"
	"github.com/aetherfit/aetherfit-front/internal/notify"
	"github.com/aetherfit/aetherfit-front/internal/role"
)

// SessionRoles resolves the role shown for the current session
type SessionRoles interface {
	Resolve(ctx context.Context, email string) (role.Role, error)
	Refresh(ctx context.Context, email string) (role.Role, error)
}

// SessionHandlers expose the client's session to scripts
type SessionHandlers struct {
	routes config.Routes
	csrf   crypto.CSRFProtection
	roles  SessionRoles
}

// NewSessionHandlers creates the session handlers
func NewSessionHandlers(routes config.Routes, csrf crypto.CSRFProtection, roles SessionRoles) *SessionHandlers {
	return &SessionHandlers{routes: routes, csrf: csrf, roles: roles}
}

type sessionResponse struct {
	SignedIn      bool                  `json:"signedIn"`
	Loading       bool                  `json:"loading"`
	Identity      *idp.Identity         `json:"identity,omitempty"`
	Role          role.Role             `json:"role,omitempty"`
	RoleError     string                `json:"roleError,omitempty"`
	CSRFToken     string                `json:"csrfToken"`
	Redirect      string                `json:"redirect,omitempty"`
	Notifications []notify.Notification `json:"notifications"`
}

// SessionHandler reports the identity and role of the calling client
func (h *SessionHandlers) SessionHandler(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.roles.Resolve)
}

// RefreshRoleHandler drops the cached role and looks it up again
func (h *SessionHandlers) RefreshRoleHandler(w http.ResponseWriter, r *http.Request) {
	inst, ok := instanceOrFail(w, r)
	if !ok {
		return
	}
	if inst.Session().CurrentIdentity() == nil {
		jsonwriter.WriteErrorWithRedirect(w, http.StatusUnauthorized, "unauthorized", "Please sign in to continue.", h.routes.SignIn)
		return
	}
	h.respond(w, r, h.roles.Refresh)
}

func (h *SessionHandlers) respond(w http.ResponseWriter, r *http.Request, lookup func(context.Context, string) (role.Role, error)) {
	ctx := r.Context()
	inst, ok := instanceOrFail(w, r)
	if !ok {
		return
	}
	store := inst.Session()

	resp := sessionResponse{Loading: store.Loading()}
	if identity := store.CurrentIdentity(); identity != nil {
		got, err := lookup(ctx, identity.Email)
		switch {
		case err == nil:
			resp.Role = got
		case ctx.Err() != nil:
			return
		default:
			log.LogWarnWithFields("session", "Role lookup failed", map[string]any{
				"client": inst.ID(),
				"error":  err.Error(),
			})
			resp.Role = role.Unknown
			if !apperr.IsAuthorizationFailure(err) {
				resp.RoleError = "We could not load your role. Please try again."
			}
		}
	}

	// the lookup may have ended the session
	if identity := store.CurrentIdentity(); identity != nil {
		resp.SignedIn = true
		resp.Identity = identity
	} else {
		resp.Role = ""
	}
	if rec, ok := recorderFromContext(ctx); ok {
		resp.Redirect, _ = rec.Target()
	}

	token, err := h.csrf.Generate(inst.ID())
	if err != nil {
		jsonwriter.WriteInternalServerError(w, "Internal server error")
		return
	}
	resp.CSRFToken = token
	resp.Notifications = inst.Notifications().Drain()
	if resp.Notifications == nil {
		resp.Notifications = []notify.Notification{}
	}
	_ = jsonwriter.Write(w, resp)
}
