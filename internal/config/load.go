package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/aetherfit/aetherfit-front/internal/log"
)

// SupportedVersion is the config schema version understood by this build
const SupportedVersion = "v1"

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses config JSON, resolves env references and validates the result
func Parse(data []byte) (Config, error) {
	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if version != SupportedVersion {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	config.ApplyDefaults()

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// secretPaths lists values that must never be written inline in a config file
var secretPaths = [][]string{
	{"front", "sessionKey"},
	{"identity", "password", "apiKey"},
}

// validateRawConfig rejects inline secrets before environment resolution
func validateRawConfig(rawConfig map[string]any) error {
	for _, path := range secretPaths {
		if value, ok := lookup(rawConfig, path); ok {
			if err := requireEnvRef(strings.Join(path, "."), value); err != nil {
				return err
			}
		}
	}

	identity, _ := rawConfig["identity"].(map[string]any)
	federated, _ := identity["federated"].([]any)
	for i, entry := range federated {
		provider, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if value, ok := provider["clientSecret"]; ok {
			if err := requireEnvRef(fmt.Sprintf("identity.federated[%d].clientSecret", i), value); err != nil {
				return err
			}
		}
	}
	return nil
}

func lookup(m map[string]any, path []string) (any, bool) {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func requireEnvRef(path string, value any) error {
	if _, isString := value.(string); isString {
		return fmt.Errorf("%s must use environment variable reference for security", path)
	}
	if refMap, isMap := value.(map[string]any); isMap {
		if _, hasEnv := refMap["$env"]; !hasEnv {
			return fmt.Errorf("%s must use {\"$env\": \"VAR_NAME\"} format", path)
		}
	}
	return nil
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	if config.Front.BaseURL == "" {
		return fmt.Errorf("front.baseURL is required")
	}
	if config.Front.Addr == "" {
		return fmt.Errorf("front.addr is required")
	}
	if len(config.Front.SessionKey) != 32 {
		return fmt.Errorf("front.sessionKey must be exactly 32 characters (got %d). Generate with: openssl rand -base64 32 | head -c 32", len(config.Front.SessionKey))
	}
	if err := validateRoutes(config.Front.Routes); err != nil {
		return err
	}
	if config.Front.ClientIdleTimeout < 0 || config.Front.CleanupInterval < 0 {
		return fmt.Errorf("front.clientIdleTimeout and front.cleanupInterval cannot be negative")
	}
	if config.Front.CleanupInterval > config.Front.ClientIdleTimeout {
		log.LogWarn("Client cleanup interval is greater than client idle timeout")
	}

	if config.API.BaseURL == "" {
		return fmt.Errorf("api.baseURL is required")
	}
	if u, err := url.Parse(config.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.baseURL must be an absolute URL")
	}
	if config.API.Timeout < 0 {
		return fmt.Errorf("api.timeout cannot be negative")
	}

	if err := validateIdentity(config.Identity); err != nil {
		return fmt.Errorf("identity config: %w", err)
	}

	switch config.TokenStorage.Kind {
	case TokenStorageMemory:
	case TokenStorageFile:
		if config.TokenStorage.Path == "" {
			return fmt.Errorf("tokenStorage.path is required when using file storage")
		}
	case TokenStorageFirestore:
		if config.TokenStorage.GCPProject == "" {
			return fmt.Errorf("tokenStorage.gcpProject is required when using firestore storage")
		}
	default:
		return fmt.Errorf("tokenStorage.kind must be one of memory, file, firestore (got %q)", config.TokenStorage.Kind)
	}

	if config.Roles.CacheTTL < 0 {
		return fmt.Errorf("roles.cacheTtl cannot be negative")
	}
	if config.Roles.CacheSize < 0 {
		return fmt.Errorf("roles.cacheSize cannot be negative")
	}
	return nil
}

func validateRoutes(r Routes) error {
	for name, p := range map[string]string{"signIn": r.SignIn, "unauthorized": r.Unauthorized, "home": r.Home} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("front.routes.%s must be an absolute path", name)
		}
	}
	return nil
}

func validateIdentity(id IdentityConfig) error {
	if id.Password == nil && len(id.Federated) == 0 {
		return fmt.Errorf("at least one sign-in method (password or federated) is required")
	}
	if p := id.Password; p != nil {
		if p.Endpoint == "" {
			return fmt.Errorf("password.endpoint is required")
		}
		if p.APIKey == "" {
			return fmt.Errorf("password.apiKey is required")
		}
	}

	seen := make(map[FederatedProvider]bool)
	for i, f := range id.Federated {
		if seen[f.Provider] {
			return fmt.Errorf("federated[%d]: duplicate provider %s", i, f.Provider)
		}
		seen[f.Provider] = true

		if f.ClientID == "" || f.ClientSecret == "" || f.RedirectURI == "" {
			return fmt.Errorf("federated[%d]: clientId, clientSecret and redirectUri are required", i)
		}
		switch f.Provider {
		case FederatedGoogle, FederatedGitHub:
		case FederatedOIDC:
			if f.DiscoveryURL == "" && (f.AuthorizationURL == "" || f.TokenURL == "" || f.UserInfoURL == "") {
				return fmt.Errorf("federated[%d]: oidc requires discoveryUrl or all of authorizationUrl, tokenUrl, userInfoUrl", i)
			}
		default:
			return fmt.Errorf("federated[%d]: unknown provider %q", i, f.Provider)
		}
	}
	return nil
}
