// Package proxy forwards browser API calls to the AetherFit backend on the
// calling client's session.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/aetherfit/aetherfit-front/internal/apperr"
	jsonwriter "github.com/aetherfit/aetherfit-front/internal/json"
	"github.com/aetherfit/aetherfit-front/internal/log"
	"github.com/aetherfit/aetherfit-front/internal/navigate"
)

// Forwarder sends a browser request to the backend. Non-2xx responses come
// back as apperr errors.
type Forwarder interface {
	Forward(ctx context.Context, method, path string, query url.Values, body io.Reader, header http.Header) (*http.Response, error)
}

// ForwarderLookup returns the forwarder of the client making a request.
type ForwarderLookup func(ctx context.Context) (Forwarder, bool)

// RoleInvalidator drops cached roles after a mutation that may change them.
type RoleInvalidator interface {
	InvalidateAll()
}

// Config configures the API pass-through
type Config struct {
	// Prefix is stripped from the request path, e.g. "/api".
	Prefix       string
	Resources    []string
	InvalidateOn []string
	MaxBodyBytes int64
	SignInRoute  string
	HomeRoute    string
}

// APIProxy handles /api/{resource}/... requests
type APIProxy struct {
	cfg     Config
	matcher *PathMatcher
	lookup  ForwarderLookup
	roles   RoleInvalidator
}

// NewAPIProxy creates a new API proxy. roles may be nil.
func NewAPIProxy(cfg Config, lookup ForwarderLookup, roles RoleInvalidator) *APIProxy {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &APIProxy{
		cfg:     cfg,
		matcher: NewPathMatcher(cfg.Resources),
		lookup:  lookup,
		roles:   roles,
	}
}

const defaultMaxBodyBytes = 10 << 20

var allowedMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost,
	http.MethodPut, http.MethodPatch, http.MethodDelete,
}

// ServeHTTP handles proxy requests
// URL format: {prefix}/{resource}/{path}
// Example: /api/classes/42/slots
func (p *APIProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	if !slices.Contains(allowedMethods, r.Method) {
		w.Header().Set("Allow", strings.Join(allowedMethods, ", "))
		jsonwriter.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}

	targetPath := strings.TrimPrefix(r.URL.Path, p.cfg.Prefix)
	resource, ok := p.matcher.Match(targetPath)
	if !ok {
		log.LogDebugWithFields("api_proxy", "Path not allowed", map[string]any{
			"path": r.URL.Path,
		})
		jsonwriter.WriteNotFound(w, "Unknown API resource")
		return
	}

	forwarder, ok := p.lookup(ctx)
	if !ok {
		jsonwriter.WriteInternalServerError(w, "client session unavailable")
		return
	}

	var body io.Reader
	if r.Body != nil && r.ContentLength != 0 {
		body = http.MaxBytesReader(w, r.Body, p.cfg.MaxBodyBytes)
	}

	resp, err := forwarder.Forward(ctx, r.Method, normalizePath(targetPath), r.URL.Query(), body, r.Header)
	if err != nil {
		p.writeError(w, r, err)
		return
	}
	defer resp.Body.Close()

	if isMutation(r.Method) && slices.Contains(p.cfg.InvalidateOn, resource) && p.roles != nil {
		p.roles.InvalidateAll()
		log.LogInfoWithFields("api_proxy", "Role cache invalidated after mutation", map[string]any{
			"resource": resource,
			"method":   r.Method,
		})
	}

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	written, err := io.Copy(w, resp.Body)
	if err != nil {
		log.LogWarnWithFields("api_proxy", "Failed to copy response body", map[string]any{
			"path":  r.URL.Path,
			"error": err.Error(),
		})
		return
	}

	log.LogDebugWithFields("api_proxy", "Request proxied", map[string]any{
		"method":      r.Method,
		"resource":    resource,
		"status":      resp.StatusCode,
		"bytes":       written,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

func (p *APIProxy) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		unauthorized *apperr.UnauthorizedError
		forbidden    *apperr.ForbiddenError
		reqErr       *apperr.RequestError
		netErr       *apperr.NetworkError
		tooLarge     *http.MaxBytesError
	)

	switch {
	case errors.As(err, &unauthorized):
		jsonwriter.WriteErrorWithRedirect(w, http.StatusUnauthorized, "session_expired",
			"Your session has expired. Please sign in again.", p.redirectTarget(r, p.cfg.SignInRoute))
	case errors.As(err, &forbidden):
		jsonwriter.WriteErrorWithRedirect(w, http.StatusForbidden, "forbidden",
			"You do not have permission to do that.", p.redirectTarget(r, p.cfg.HomeRoute))
	case errors.As(err, &reqErr):
		writeBackendError(w, reqErr)
	case errors.As(err, &tooLarge):
		jsonwriter.WriteError(w, http.StatusRequestEntityTooLarge, "request_too_large", "Request body too large")
	case errors.As(err, &netErr):
		if r.Context().Err() != nil {
			return
		}
		jsonwriter.WriteBadGateway(w, "The AetherFit service is unavailable")
	default:
		log.LogErrorWithFields("api_proxy", "Proxy request failed", map[string]any{
			"method": r.Method,
			"path":   r.URL.Path,
			"error":  err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Internal server error")
	}
}

// redirectTarget is the first navigation requested while handling r.
func (p *APIProxy) redirectTarget(r *http.Request, fallback string) string {
	if rec, ok := navigate.FromContext(r.Context(), nil).(*navigate.Recorder); ok {
		if target, ok := rec.Target(); ok {
			return target
		}
	}
	return fallback
}

// writeBackendError passes the backend's status through. JSON bodies are
// relayed as is so the browser sees the backend's validation errors.
func writeBackendError(w http.ResponseWriter, err *apperr.RequestError) {
	body := strings.TrimSpace(err.Body)
	if body != "" && json.Valid([]byte(body)) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(err.Status)
		_, _ = io.WriteString(w, body)
		return
	}
	jsonwriter.WriteError(w, err.Status, "request_failed", body)
}

func isMutation(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// copyResponseHeaders copies backend response headers, dropping hop-by-hop
// headers and backend cookies
func copyResponseHeaders(dst, src http.Header) {
	for key, values := range src {
		switch http.CanonicalHeaderKey(key) {
		case "Connection", "Keep-Alive", "Proxy-Authenticate", "Te", "Trailer",
			"Transfer-Encoding", "Upgrade", "Set-Cookie", "Content-Length":
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}
