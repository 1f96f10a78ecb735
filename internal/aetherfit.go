package internal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aetherfit/aetherfit-front/internal/apiclient"
	"github.com/aetherfit/aetherfit-front/internal/client"
	"github.com/aetherfit/aetherfit-front/internal/config"
	"github.com/aetherfit/aetherfit-front/internal/crypto"
	"github.com/aetherfit/aetherfit-front/internal/guard"
	"github.com/aetherfit/aetherfit-front/internal/idp"
	"github.com/aetherfit/aetherfit-front/internal/log"
	"github.com/aetherfit/aetherfit-front/internal/metrics"
	"github.com/aetherfit/aetherfit-front/internal/proxy"
	"github.com/aetherfit/aetherfit-front/internal/role"
	"github.com/aetherfit/aetherfit-front/internal/server"
	"github.com/aetherfit/aetherfit-front/internal/tokenstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// signInPath is where the sign-in form posts, whatever the configured
// sign-in route is.
const signInPath = "/auth/login"

// AetherFront represents the complete AetherFit web front
type AetherFront struct {
	config     config.Config
	httpServer *server.HTTPServer
	clients    *client.Manager
	storage    tokenstore.Storage
	cleanup    *tokenstore.CleanupManager
}

// components are the long-lived pieces the HTTP handler is built from
type components struct {
	authenticators *idp.Authenticators
	clients        *client.Manager
	resolver       *role.Resolver
	limiter        *server.SignInLimiter
	metrics        *metrics.Collector
	gatherer       prometheus.Gatherer
}

// NewAetherFront creates the application with all dependencies built
func NewAetherFront(ctx context.Context, cfg config.Config) (*AetherFront, error) {
	log.LogInfoWithFields("aetherfront", "Building AetherFit front", map[string]any{
		"baseURL":    cfg.Front.BaseURL,
		"apiBaseURL": cfg.API.BaseURL,
	})

	if _, err := url.Parse(cfg.Front.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	store, err := setupStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	authenticators, err := idp.NewAuthenticators(ctx, cfg.Identity)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to setup identity providers: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	resolver, err := role.NewResolver(
		role.NewBackendFetcher(nil),
		cfg.Roles.CacheTTL,
		role.WithCacheSize(cfg.Roles.CacheSize),
		role.WithMetrics(collector),
	)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create role resolver: %w", err)
	}

	limiter, err := server.NewSignInLimiter(cfg.Front.SignInRateLimit)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create sign-in limiter: %w", err)
	}

	clients := client.NewManager(
		client.Dependencies{
			Authenticators: authenticators,
			Storage:        store,
			API:            apiclient.NewConfig(cfg.API, cfg.Front.Routes),
			HTTPClient:     apiclient.NewHTTPClient(cfg.API.Timeout),
			Metrics:        collector,
		},
		client.WithIdleTimeout(cfg.Front.ClientIdleTimeout),
		client.WithMaxInstances(cfg.Front.MaxClients),
		client.WithCleanupInterval(cfg.Front.CleanupInterval),
	)

	handler := buildHTTPHandler(cfg, components{
		authenticators: authenticators,
		clients:        clients,
		resolver:       resolver,
		limiter:        limiter,
		metrics:        collector,
		gatherer:       registry,
	})

	return &AetherFront{
		config:     cfg,
		httpServer: server.NewHTTPServer(handler, cfg.Front.Addr),
		clients:    clients,
		storage:    store,
		cleanup:    tokenstore.NewCleanupManager(store, clients, cfg.Front.CleanupInterval, cfg.Front.ClientIdleTimeout),
	}, nil
}

// Run starts the front and blocks until a signal or a server error stops it
func (a *AetherFront) Run() error {
	log.LogInfoWithFields("aetherfront", "Starting AetherFit front", map[string]any{
		"addr": a.config.Front.Addr,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		if err := a.httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	a.cleanup.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var shutdownReason string
	var runErr error
	select {
	case sig := <-sigChan:
		shutdownReason = fmt.Sprintf("signal %v", sig)
		log.LogInfoWithFields("aetherfront", "Received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
	case err := <-errChan:
		shutdownReason = fmt.Sprintf("error: %v", err)
		runErr = err
		log.LogErrorWithFields("aetherfront", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("aetherfront", "Starting graceful shutdown", map[string]any{
		"reason":  shutdownReason,
		"timeout": "30s",
	})
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		log.LogErrorWithFields("aetherfront", "HTTP server shutdown error", map[string]any{
			"error": err.Error(),
		})
		runErr = err
	}

	a.clients.Shutdown()
	a.cleanup.Stop()
	if err := a.storage.Close(); err != nil {
		log.LogWarnWithFields("aetherfront", "Failed to close token storage", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("aetherfront", "Application shutdown complete", map[string]any{
		"reason": shutdownReason,
	})
	return runErr
}

// setupStorage creates the token storage named in the configuration
func setupStorage(ctx context.Context, cfg config.Config) (tokenstore.Storage, error) {
	ts := cfg.TokenStorage
	switch ts.Kind {
	case config.TokenStorageFirestore, config.TokenStorageFile:
		encryptor, err := crypto.NewEncryptor([]byte(cfg.Front.SessionKey))
		if err != nil {
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		if ts.Kind == config.TokenStorageFile {
			log.LogInfoWithFields("storage", "Using file token storage", map[string]any{
				"path": ts.Path,
			})
			return tokenstore.NewFileStorage(ts.Path, encryptor)
		}

		log.LogInfoWithFields("storage", "Using Firestore token storage", map[string]any{
			"project":    ts.GCPProject,
			"database":   ts.FirestoreDatabase,
			"collection": ts.FirestoreCollection,
		})
		return tokenstore.NewFirestoreStorage(ctx, tokenstore.FirestoreConfig{
			ProjectID:       ts.GCPProject,
			Database:        ts.FirestoreDatabase,
			Collection:      ts.FirestoreCollection,
			CredentialsFile: ts.CredentialsFile,
		}, encryptor)
	}

	log.LogInfoWithFields("storage", "Using in-memory token storage", nil)
	return tokenstore.NewMemoryStorage(), nil
}

// buildHTTPHandler creates the complete HTTP handler with all routing and middleware
func buildHTTPHandler(cfg config.Config, c components) http.Handler {
	key := []byte(cfg.Front.SessionKey)
	routes := cfg.Front.Routes

	// a form stays valid as long as the client instance behind it
	csrf := crypto.NewCSRFProtection(key, cfg.Front.ClientIdleTimeout)
	clientSigner := crypto.NewTokenSigner(key, 0)

	authHandlers := server.NewAuthHandlers(c.authenticators, routes, csrf, key, c.limiter, c.metrics)
	pageHandlers := server.NewPageHandlers(routes, csrf)
	sessionHandlers := server.NewSessionHandlers(routes, csrf, c.resolver)
	adminHandlers := server.NewAdminHandlers(routes, csrf, c.clients, c.resolver)

	g := guard.New(c.resolver, guard.Routes{SignIn: routes.SignIn, Unauthorized: routes.Unauthorized})
	guarded := func(required guard.RequiredRole, h http.Handler) http.Handler {
		return g.Middleware(required, server.SessionFromRequest)(h)
	}

	app := http.NewServeMux()

	app.HandleFunc("GET "+signInPath, authHandlers.LoginPageHandler)
	app.HandleFunc("POST "+signInPath, authHandlers.LoginHandler)
	if routes.SignIn != signInPath {
		app.HandleFunc("GET "+routes.SignIn, authHandlers.LoginPageHandler)
	}
	app.HandleFunc("GET /auth/federated/{provider}", authHandlers.FederatedStartHandler)
	app.HandleFunc("GET /auth/callback/{provider}", authHandlers.FederatedCallbackHandler)
	app.HandleFunc("POST /auth/logout", authHandlers.LogoutHandler)

	app.HandleFunc("GET "+routes.Unauthorized, pageHandlers.UnauthorizedHandler)
	app.HandleFunc("/", pageHandlers.HomeHandler)

	app.Handle("GET /dashboard/admin", guarded(guard.RequireAdmin, http.HandlerFunc(adminHandlers.DashboardHandler)))
	app.Handle("POST /dashboard/admin/clients", guarded(guard.RequireAdmin, http.HandlerFunc(adminHandlers.ClientActionHandler)))
	app.Handle("POST /dashboard/admin/roles", guarded(guard.RequireAdmin, http.HandlerFunc(adminHandlers.RoleActionHandler)))
	app.Handle("POST /dashboard/admin/logging", guarded(guard.RequireAdmin, http.HandlerFunc(adminHandlers.LoggingActionHandler)))
	app.Handle("GET /dashboard/trainer", guarded(guard.RequireTrainer, pageHandlers.DashboardHandler("Trainer dashboard")))
	app.Handle("GET /dashboard/member", guarded(guard.RequireMember, pageHandlers.DashboardHandler("Member dashboard")))
	app.Handle("GET /dashboard/profile", guarded(guard.RequireAnyAuthenticated, pageHandlers.DashboardHandler("Profile")))

	app.HandleFunc("GET /api/session", sessionHandlers.SessionHandler)
	app.HandleFunc("POST /api/session/role", sessionHandlers.RefreshRoleHandler)
	app.Handle("/api/", proxy.NewAPIProxy(proxy.Config{
		Prefix:       "/api",
		Resources:    cfg.API.Resources,
		InvalidateOn: cfg.Roles.InvalidateOn,
		MaxBodyBytes: cfg.API.MaxRequestBody,
		SignInRoute:  routes.SignIn,
		HomeRoute:    routes.Home,
	}, func(ctx context.Context) (proxy.Forwarder, bool) {
		inst, ok := server.InstanceFromContext(ctx)
		if !ok {
			return nil, false
		}
		return inst.API(), true
	}, c.resolver))

	mux := http.NewServeMux()
	mux.Handle("GET /health", server.NewHealthHandler(c.clients.Count))
	mux.Handle("GET /metrics", metrics.Handler(c.gatherer))
	mux.Handle("/", server.ChainMiddleware(app,
		server.NewCSRFMiddleware(csrf),
		server.NewLoggerMiddleware("http"),
		server.NewClientMiddleware(c.clients, clientSigner, cfg.Front.ClientIdleTimeout),
		server.NewRecoverMiddleware("front"),
		server.NewCORSMiddleware(cfg.Front.AllowedOrigins),
	))

	log.LogInfoWithFields("server", "AetherFit front initialized", map[string]any{
		"resources": len(cfg.API.Resources),
		"federated": c.authenticators.FederatedKinds(),
	})
	return mux
}
