package config

import (
	"encoding/json"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// TokenStorageKind selects the durable storage holding bearer tokens
type TokenStorageKind string

const (
	TokenStorageMemory    TokenStorageKind = "memory"
	TokenStorageFile      TokenStorageKind = "file"
	TokenStorageFirestore TokenStorageKind = "firestore"
)

// FederatedProvider names a supported federated identity provider
type FederatedProvider string

const (
	FederatedGoogle FederatedProvider = "google"
	FederatedGitHub FederatedProvider = "github"
	FederatedOIDC   FederatedProvider = "oidc"
)

// Routes are the navigation targets used by redirects.
type Routes struct {
	SignIn       string `json:"signIn"`
	Unauthorized string `json:"unauthorized"`
	Home         string `json:"home"`
}

// RateLimitConfig limits sign-in attempts per browser client.
type RateLimitConfig struct {
	PerMinute float64 `json:"perMinute"`
	Burst     int     `json:"burst"`
}

// FrontConfig configures the HTTP front itself
type FrontConfig struct {
	BaseURL           string          `json:"baseURL"`
	Addr              string          `json:"addr"`
	Name              string          `json:"name"`
	AllowedOrigins    []string        `json:"allowedOrigins"`
	SessionKey        Secret          `json:"sessionKey"`
	ClientIdleTimeout time.Duration   `json:"clientIdleTimeout"`
	CleanupInterval   time.Duration   `json:"cleanupInterval"`
	MaxClients        int             `json:"maxClients"`
	Routes            Routes          `json:"routes"`
	SignInRateLimit   RateLimitConfig `json:"signInRateLimit"`
}

// APIConfig configures the outbound client for the AetherFit backend
type APIConfig struct {
	BaseURL string `json:"baseURL"`
	// Timeout bounds each backend request. Zero leaves it to the transport.
	Timeout      time.Duration `json:"timeout"`
	MaxErrorBody int64         `json:"maxErrorBody"`
	UserAgent    string        `json:"userAgent"`
	// Resources are the backend collections reachable through /api/.
	Resources      []string `json:"resources"`
	MaxRequestBody int64    `json:"maxRequestBody"`
}

// PasswordIdentityConfig configures the email/password sign-in endpoint
type PasswordIdentityConfig struct {
	Endpoint string `json:"endpoint"`
	APIKey   Secret `json:"apiKey"`
	// RefreshEndpoint exchanges refresh tokens. Sessions do not refresh when unset.
	RefreshEndpoint string `json:"refreshEndpoint,omitempty"`
}

// FederatedIdentityConfig configures one OAuth-based identity provider
type FederatedIdentityConfig struct {
	Provider         FederatedProvider `json:"provider"`
	ClientID         string            `json:"clientId"`
	ClientSecret     Secret            `json:"clientSecret"`
	RedirectURI      string            `json:"redirectUri"`
	DiscoveryURL     string            `json:"discoveryUrl,omitempty"`
	AuthorizationURL string            `json:"authorizationUrl,omitempty"`
	TokenURL         string            `json:"tokenUrl,omitempty"`
	UserInfoURL      string            `json:"userInfoUrl,omitempty"`
	Scopes           []string          `json:"scopes,omitempty"`
	AllowedDomains   []string          `json:"allowedDomains,omitempty"`
	AllowedOrgs      []string          `json:"allowedOrgs,omitempty"`
}

// IdentityConfig lists the enabled sign-in methods
type IdentityConfig struct {
	Password  *PasswordIdentityConfig   `json:"password,omitempty"`
	Federated []FederatedIdentityConfig `json:"federated,omitempty"`
}

// TokenStorageConfig configures durable token storage
type TokenStorageConfig struct {
	Kind                TokenStorageKind `json:"kind"`
	Path                string           `json:"path,omitempty"`
	GCPProject          string           `json:"gcpProject,omitempty"`
	FirestoreDatabase   string           `json:"firestoreDatabase,omitempty"`
	FirestoreCollection string           `json:"firestoreCollection,omitempty"`
	CredentialsFile     string           `json:"credentialsFile,omitempty"`
}

// RoleConfig configures the role resolver cache
type RoleConfig struct {
	CacheTTL  time.Duration `json:"cacheTtl"`
	CacheSize int           `json:"cacheSize"`
	// InvalidateOn lists API resources whose successful mutations may change roles.
	InvalidateOn []string `json:"invalidateOn"`
}

// Config represents the config structure with resolved values
type Config struct {
	Front        FrontConfig        `json:"front"`
	API          APIConfig          `json:"api"`
	Identity     IdentityConfig     `json:"identity"`
	TokenStorage TokenStorageConfig `json:"tokenStorage"`
	Roles        RoleConfig         `json:"roles"`
}

const (
	DefaultRoleCacheTTL      = 5 * time.Minute
	DefaultRoleCacheSize     = 4096
	DefaultClientIdleTimeout = 24 * time.Hour
	DefaultCleanupInterval   = 5 * time.Minute
	DefaultMaxClients        = 10000
	DefaultMaxErrorBody      = 64 << 10
	DefaultTokenCollection   = "aetherfit_client_tokens"
	DefaultMaxRequestBody    = 10 << 20
)

// DefaultResources are the backend collections the web client uses.
func DefaultResources() []string {
	return []string{"classes", "forums", "trainers", "bookings", "payments", "users", "slots", "reviews", "newsletter"}
}

// DefaultRoutes mirrors the paths the web client has always used.
func DefaultRoutes() Routes {
	return Routes{
		SignIn:       "/auth/login",
		Unauthorized: "/unauthorizedaccess",
		Home:         "/",
	}
}

// ApplyDefaults fills unset optional values
func (c *Config) ApplyDefaults() {
	if c.Front.Name == "" {
		c.Front.Name = "aetherfit-front"
	}
	if c.Front.ClientIdleTimeout == 0 {
		c.Front.ClientIdleTimeout = DefaultClientIdleTimeout
	}
	if c.Front.CleanupInterval == 0 {
		c.Front.CleanupInterval = DefaultCleanupInterval
	}
	if c.Front.MaxClients == 0 {
		c.Front.MaxClients = DefaultMaxClients
	}
	defaults := DefaultRoutes()
	if c.Front.Routes.SignIn == "" {
		c.Front.Routes.SignIn = defaults.SignIn
	}
	if c.Front.Routes.Unauthorized == "" {
		c.Front.Routes.Unauthorized = defaults.Unauthorized
	}
	if c.Front.Routes.Home == "" {
		c.Front.Routes.Home = defaults.Home
	}
	if c.Front.SignInRateLimit.PerMinute == 0 {
		c.Front.SignInRateLimit.PerMinute = 10
	}
	if c.Front.SignInRateLimit.Burst == 0 {
		c.Front.SignInRateLimit.Burst = 5
	}
	if c.API.MaxErrorBody == 0 {
		c.API.MaxErrorBody = DefaultMaxErrorBody
	}
	if c.API.MaxRequestBody == 0 {
		c.API.MaxRequestBody = DefaultMaxRequestBody
	}
	if c.API.Resources == nil {
		c.API.Resources = DefaultResources()
	}
	if c.API.UserAgent == "" {
		c.API.UserAgent = c.Front.Name
	}
	if c.TokenStorage.Kind == "" {
		c.TokenStorage.Kind = TokenStorageMemory
	}
	if c.TokenStorage.FirestoreCollection == "" {
		c.TokenStorage.FirestoreCollection = DefaultTokenCollection
	}
	if c.Roles.CacheTTL == 0 {
		c.Roles.CacheTTL = DefaultRoleCacheTTL
	}
	if c.Roles.CacheSize == 0 {
		c.Roles.CacheSize = DefaultRoleCacheSize
	}
	if c.Roles.InvalidateOn == nil {
		c.Roles.InvalidateOn = []string{"users", "trainers"}
	}
}
