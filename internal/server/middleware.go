package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aetherfit/aetherfit-front/internal/client"
	"github.com/aetherfit/aetherfit-front/internal/cookie"
	"github.com/aetherfit/aetherfit-front/internal/crypto"
	jsonwriter "github.com/aetherfit/aetherfit-front/internal/json"
	"github.com/aetherfit/aetherfit-front/internal/log"
	"github.com/aetherfit/aetherfit-front/internal/navigate"
	"github.com/aetherfit/aetherfit-front/internal/notify"
	"github.com/aetherfit/aetherfit-front/internal/role"
	"github.com/google/uuid"
)

// MiddlewareFunc is a function that wraps an http.Handler
type MiddlewareFunc func(http.Handler) http.Handler

// ChainMiddleware chains multiple middleware functions
func ChainMiddleware(h http.Handler, middlewares ...MiddlewareFunc) http.Handler {
	for _, mw := range middlewares {
		h = mw(h)
	}
	return h
}

// NewCORSMiddleware adds CORS headers to responses
func NewCORSMiddleware(allowedOrigins []string) MiddlewareFunc {
	allowedMap := make(map[string]bool)
	for _, origin := range allowedOrigins {
		allowedMap[origin] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			// credentials are cookies, so a wildcard origin never gets them
			if origin != "" && allowedMap[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			} else if len(allowedOrigins) == 0 {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, "+csrfHeader)
			w.Header().Set("Access-Control-Max-Age", "3600")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// responseWriterDelegator wraps http.ResponseWriter to capture status and bytes written
// while properly delegating all optional interfaces through Unwrap
type responseWriterDelegator struct {
	http.ResponseWriter
	status      int
	written     int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriterDelegator {
	return &responseWriterDelegator{
		ResponseWriter: w,
		status:         http.StatusOK,
	}
}

func (r *responseWriterDelegator) Status() int {
	return r.status
}

func (r *responseWriterDelegator) BytesWritten() int {
	return r.written
}

func (r *responseWriterDelegator) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.status = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseWriterDelegator) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(b)
	r.written += n
	return n, err
}

// Unwrap returns the underlying ResponseWriter for http.ResponseController
func (r *responseWriterDelegator) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Flush implements http.Flusher
func (r *responseWriterDelegator) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

var _ http.ResponseWriter = (*responseWriterDelegator)(nil)
var _ http.Flusher = (*responseWriterDelegator)(nil)

// NewLoggerMiddleware logs every request with its response status
func NewLoggerMiddleware(prefix string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			fields := map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      wrapped.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
				"bytes":       wrapped.BytesWritten(),
				"remote_addr": r.RemoteAddr,
			}
			if inst, ok := InstanceFromContext(r.Context()); ok {
				fields["client"] = inst.ID()
			}

			log.LogInfoWithFields(prefix, "request", fields)
		})
	}
}

// NewRecoverMiddleware recovers from panics
func NewRecoverMiddleware(prefix string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					log.LogErrorWithFields(prefix, "Recovered from panic", map[string]any{
						"path":  r.URL.Path,
						"panic": err,
					})
					jsonwriter.WriteInternalServerError(w, "Internal Server Error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Instances hands out the client instance for a browser.
type Instances interface {
	GetOrCreate(ctx context.Context, id string) (*client.Instance, error)
}

type instanceKey struct{}

// clientCookie is the signed payload of the client cookie
type clientCookie struct {
	ID string `json:"id"`
}

// InstanceFromContext returns the client instance bound to the request.
func InstanceFromContext(ctx context.Context) (*client.Instance, bool) {
	inst, ok := ctx.Value(instanceKey{}).(*client.Instance)
	return inst, ok && inst != nil
}

// WithInstance binds inst to ctx. The API client of inst becomes the role
// lookup backend and its queue the notifier for work done under ctx.
func WithInstance(ctx context.Context, inst *client.Instance) context.Context {
	ctx = context.WithValue(ctx, instanceKey{}, inst)
	ctx = notify.WithNotifier(ctx, inst.Notifications())
	return role.WithGetter(ctx, inst.ID(), inst.API())
}

// recorderFromContext returns the per-request redirect recorder.
func recorderFromContext(ctx context.Context) (*navigate.Recorder, bool) {
	rec, ok := navigate.FromContext(ctx, nil).(*navigate.Recorder)
	return rec, ok
}

// NewClientMiddleware binds every request to the browser's client instance.
// Browsers without a valid client cookie get a fresh id.
func NewClientMiddleware(instances Instances, signer crypto.TokenSigner, maxAge time.Duration) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			id, ok := clientIDFromCookie(r, &signer)
			if !ok {
				id = uuid.NewString()
				value, err := signer.Sign(clientCookie{ID: id})
				if err != nil {
					log.LogErrorWithFields("client", "Failed to sign client cookie", map[string]any{
						"error": err.Error(),
					})
					jsonwriter.WriteInternalServerError(w, "Internal server error")
					return
				}
				cookie.SetClient(w, value, maxAge)
				log.LogDebugWithFields("client", "Issued new client id", map[string]any{
					"client": id,
				})
			}

			inst, err := instances.GetOrCreate(ctx, id)
			if err != nil {
				log.LogErrorWithFields("client", "Failed to get client instance", map[string]any{
					"client": id,
					"error":  err.Error(),
				})
				if errors.Is(err, client.ErrTooManyInstances) || errors.Is(err, client.ErrShutdown) {
					w.Header().Set("Retry-After", "30")
					jsonwriter.WriteServiceUnavailable(w, "Too many active clients, try again later")
					return
				}
				jsonwriter.WriteInternalServerError(w, "Internal server error")
				return
			}

			if err := inst.Session().RefreshToken(ctx); err != nil {
				log.LogWarnWithFields("client", "Token refresh failed", map[string]any{
					"client": id,
					"error":  err.Error(),
				})
			}

			ctx = WithInstance(ctx, inst)
			ctx = navigate.WithNavigator(ctx, navigate.NewRecorder())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIDFromCookie(r *http.Request, signer *crypto.TokenSigner) (string, bool) {
	value, err := cookie.Get(r, cookie.ClientCookie)
	if err != nil || value == "" {
		return "", false
	}
	var payload clientCookie
	if err := signer.Verify(value, &payload); err != nil {
		log.LogDebugWithFields("client", "Ignoring invalid client cookie", map[string]any{
			"error": err.Error(),
		})
		return "", false
	}
	if _, err := uuid.Parse(payload.ID); err != nil {
		return "", false
	}
	return payload.ID, true
}

// wantsJSON reports whether the caller expects a JSON body.
func wantsJSON(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/") ||
		strings.Contains(r.Header.Get("Accept"), "application/json")
}
