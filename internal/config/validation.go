package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) addWarning(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// ValidateFile validates a config file structure without requiring env vars
func ValidateFile(path string) (*ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ValidateBytes(data), nil
}

// ValidateBytes validates raw config JSON without resolving env references
func ValidateBytes(data []byte) *ValidationResult {
	result := &ValidationResult{}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.addError("", "invalid JSON: %v", err)
		return result
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.addError("version", "version field is required. Hint: Add \"version\": %q", SupportedVersion)
	} else if version != SupportedVersion {
		result.addError("version", "unsupported version '%s' - use '%s'", version, SupportedVersion)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		result.addError("", "%v", err)
	}

	validateFrontStructure(rawConfig, result)
	validateAPIStructure(rawConfig, result)
	validateIdentityStructure(rawConfig, result)
	validateTokenStorageStructure(rawConfig, result)
	validateRolesStructure(rawConfig, result)

	return result
}

func validateFrontStructure(rawConfig map[string]any, result *ValidationResult) {
	front, ok := rawConfig["front"].(map[string]any)
	if !ok {
		result.addError("front", "front field is required and must be an object")
		return
	}

	if _, ok := front["baseURL"]; !ok {
		result.addError("front.baseURL", "baseURL is required. Example: \"https://app.aetherfit.example\"")
	}
	if _, ok := front["addr"]; !ok {
		result.addError("front.addr", "addr is required. Example: \":8080\" or \"0.0.0.0:8080\"")
	}
	if _, ok := front["sessionKey"]; !ok {
		result.addError("front.sessionKey", "sessionKey is required. Hint: Must be exactly 32 bytes")
	}

	for _, field := range []string{"clientIdleTimeout", "cleanupInterval"} {
		validateDurationField(front, field, "front."+field, result)
	}

	if routes, ok := front["routes"].(map[string]any); ok {
		for name, value := range routes {
			p, ok := value.(string)
			if !ok || !strings.HasPrefix(p, "/") {
				result.addError("front.routes."+name, "route must be an absolute path like \"/auth/login\"")
			}
		}
	}

	if origins, ok := front["allowedOrigins"]; ok {
		if _, isList := origins.([]any); !isList {
			result.addError("front.allowedOrigins", "allowedOrigins must be a list of origins")
		}
	}
}

func validateAPIStructure(rawConfig map[string]any, result *ValidationResult) {
	api, ok := rawConfig["api"].(map[string]any)
	if !ok {
		result.addError("api", "api field is required and must be an object")
		return
	}
	if _, ok := api["baseURL"]; !ok {
		result.addError("api.baseURL", "baseURL of the AetherFit backend is required")
	}
	validateDurationField(api, "timeout", "api.timeout", result)
	if _, ok := api["timeout"]; !ok {
		result.addWarning("api.timeout", "no request timeout set - backend requests rely on transport defaults")
	}
}

func validateIdentityStructure(rawConfig map[string]any, result *ValidationResult) {
	identity, ok := rawConfig["identity"].(map[string]any)
	if !ok {
		result.addError("identity", "identity field is required and must be an object")
		return
	}

	password, hasPassword := identity["password"].(map[string]any)
	federated, _ := identity["federated"].([]any)
	if !hasPassword && len(federated) == 0 {
		result.addError("identity", "at least one sign-in method is required. Configure identity.password or identity.federated")
	}

	if hasPassword {
		if _, ok := password["endpoint"]; !ok {
			result.addError("identity.password.endpoint", "endpoint is required for password sign-in")
		}
		if _, ok := password["apiKey"]; !ok {
			result.addError("identity.password.apiKey", "apiKey is required for password sign-in")
		}
	}

	for i, entry := range federated {
		path := fmt.Sprintf("identity.federated[%d]", i)
		idp, ok := entry.(map[string]any)
		if !ok {
			result.addError(path, "federated provider must be an object")
			continue
		}
		validateFederatedStructure(idp, path, result)
	}
}

func validateFederatedStructure(idp map[string]any, path string, result *ValidationResult) {
	provider, ok := idp["provider"].(string)
	if !ok {
		result.addError(path+".provider", "provider is required. Options: google, github, oidc")
		return
	}

	for _, field := range []string{"clientId", "clientSecret", "redirectUri"} {
		if _, ok := idp[field]; !ok {
			result.addError(path+"."+field, "%s is required for federated sign-in", field)
		}
	}

	switch FederatedProvider(provider) {
	case FederatedGoogle, FederatedGitHub:
	case FederatedOIDC:
		if _, ok := idp["discoveryUrl"]; !ok {
			for _, endpoint := range []string{"authorizationUrl", "tokenUrl", "userInfoUrl"} {
				if _, ok := idp[endpoint]; !ok {
					result.addError(path+"."+endpoint, "%s is required for OIDC provider when discoveryUrl is not provided", endpoint)
				}
			}
		}
	default:
		result.addError(path+".provider", "unknown provider '%s' - supported providers: google, github, oidc", provider)
	}
}

func validateTokenStorageStructure(rawConfig map[string]any, result *ValidationResult) {
	storage, ok := rawConfig["tokenStorage"].(map[string]any)
	if !ok {
		result.addWarning("tokenStorage", "tokenStorage not set - bearer tokens are kept in memory and lost on restart")
		return
	}

	kind, _ := storage["kind"].(string)
	switch TokenStorageKind(kind) {
	case "", TokenStorageMemory:
		result.addWarning("tokenStorage.kind", "memory token storage loses sessions on restart")
	case TokenStorageFile:
		if _, ok := storage["path"]; !ok {
			result.addError("tokenStorage.path", "path is required for file token storage")
		}
	case TokenStorageFirestore:
		if _, ok := storage["gcpProject"]; !ok {
			result.addError("tokenStorage.gcpProject", "gcpProject is required for firestore token storage")
		}
	default:
		result.addError("tokenStorage.kind", "unknown token storage '%s' - options: memory, file, firestore", kind)
	}
}

func validateRolesStructure(rawConfig map[string]any, result *ValidationResult) {
	roles, ok := rawConfig["roles"].(map[string]any)
	if !ok {
		return
	}
	validateDurationField(roles, "cacheTtl", "roles.cacheTtl", result)
	if list, ok := roles["invalidateOn"]; ok {
		items, isList := list.([]any)
		if !isList {
			result.addError("roles.invalidateOn", "invalidateOn must be a list of API resource names")
			return
		}
		for i, item := range items {
			if _, ok := item.(string); !ok {
				result.addError(fmt.Sprintf("roles.invalidateOn[%d]", i), "resource name must be a string, got %T", item)
			}
		}
	}
}

func validateDurationField(obj map[string]any, field, path string, result *ValidationResult) {
	value, ok := obj[field]
	if !ok {
		return
	}
	s, ok := value.(string)
	if !ok {
		result.addError(path, "duration must be a string like \"5m\" or \"30s\"")
		return
	}
	if _, err := time.ParseDuration(s); err != nil {
		result.addError(path, "invalid duration %q: %v", s, err)
	}
}

// checkBashStyleSyntax recursively checks for bash-style env var syntax
func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	bashStyleRegex := regexp.MustCompile(`\$\{?[A-Z_][A-Z0-9_]*\}?`)

	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.addWarning(path, "found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead. Hint: JSON syntax prevents accidental shell expansion in scripts/CI", match, varName)
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; hasEnv {
			return
		}
		for key, val := range v {
			newPath := key
			if path != "" {
				newPath = path + "." + key
			}
			checkBashStyleSyntax(val, newPath, result)
		}
	case []any:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}
