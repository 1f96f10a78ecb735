package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFile(t *testing.T) {
	tests := []struct {
		name          string
		config        string
		wantErrors    []string
		wantWarnings  []string
		wantErrCount  int
		wantWarnCount int
	}{
		{
			name: "valid_password_config",
			config: `{
				"version": "v1",
				"front": {
					"baseURL": "https://app.example.com",
					"addr": ":8080",
					"sessionKey": {"$env": "SESSION_KEY"}
				},
				"api": {"baseURL": "https://api.example.com", "timeout": "15s"},
				"identity": {
					"password": {"endpoint": "https://id.example.com", "apiKey": {"$env": "API_KEY"}}
				},
				"tokenStorage": {"kind": "file", "path": "/var/lib/aetherfit/tokens"}
			}`,
		},
		{
			name: "valid_federated_config",
			config: `{
				"version": "v1",
				"front": {
					"baseURL": "https://app.example.com",
					"addr": ":8080",
					"sessionKey": {"$env": "SESSION_KEY"}
				},
				"api": {"baseURL": "https://api.example.com", "timeout": "15s"},
				"identity": {
					"federated": [{
						"provider": "oidc",
						"clientId": {"$env": "CLIENT_ID"},
						"clientSecret": {"$env": "CLIENT_SECRET"},
						"redirectUri": "https://app.example.com/auth/callback/oidc",
						"discoveryUrl": "https://id.example.com/.well-known/openid-configuration"
					}]
				},
				"tokenStorage": {"kind": "firestore", "gcpProject": "aetherfit-prod"}
			}`,
		},
		{
			name:         "missing_version",
			config:       `{"front": {"baseURL": "a", "addr": ":1", "sessionKey": {"$env": "K"}}, "api": {"baseURL": "b", "timeout": "1s"}, "identity": {"password": {"endpoint": "e", "apiKey": {"$env": "A"}}}}`,
			wantErrors:   []string{"version field is required"},
			wantErrCount: 1,
			// memory storage warning
			wantWarnCount: 1,
		},
		{
			name: "bash_style_and_bad_duration",
			config: `{
				"version": "v1",
				"front": {
					"baseURL": "$FRONT_URL",
					"addr": ":8080",
					"sessionKey": {"$env": "SESSION_KEY"},
					"clientIdleTimeout": "forever"
				},
				"api": {"baseURL": "https://api.example.com", "timeout": "15s"},
				"identity": {"password": {"endpoint": "https://id", "apiKey": {"$env": "API_KEY"}}},
				"tokenStorage": {"kind": "file", "path": "/tmp/t"}
			}`,
			wantErrors:    []string{"invalid duration"},
			wantWarnings:  []string{"found bash-style syntax '$FRONT_URL'"},
			wantErrCount:  1,
			wantWarnCount: 1,
		},
		{
			name: "unknown_provider_and_storage",
			config: `{
				"version": "v1",
				"front": {"baseURL": "a", "addr": ":1", "sessionKey": {"$env": "K"}},
				"api": {"baseURL": "b", "timeout": "1s"},
				"identity": {"federated": [{"provider": "azure", "clientId": "x", "clientSecret": {"$env": "S"}, "redirectUri": "r"}]},
				"tokenStorage": {"kind": "redis"}
			}`,
			wantErrors:   []string{"unknown provider 'azure'", "unknown token storage 'redis'"},
			wantErrCount: 2,
		},
		{
			name: "inline_api_key",
			config: `{
				"version": "v1",
				"front": {"baseURL": "a", "addr": ":1", "sessionKey": {"$env": "K"}},
				"api": {"baseURL": "b", "timeout": "1s"},
				"identity": {"password": {"endpoint": "e", "apiKey": "plain"}},
				"tokenStorage": {"kind": "file", "path": "/tmp/t"}
			}`,
			wantErrors:   []string{"identity.password.apiKey must use environment variable reference"},
			wantErrCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.config), 0o600))

			result, err := ValidateFile(path)
			require.NoError(t, err)

			assert.Len(t, result.Errors, tt.wantErrCount, "errors: %+v", result.Errors)
			assert.Len(t, result.Warnings, tt.wantWarnCount, "warnings: %+v", result.Warnings)
			for _, want := range tt.wantErrors {
				assert.True(t, containsMessage(result.Errors, want), "expected error containing %q in %+v", want, result.Errors)
			}
			for _, want := range tt.wantWarnings {
				assert.True(t, containsMessage(result.Warnings, want), "expected warning containing %q in %+v", want, result.Warnings)
			}
			assert.Equal(t, tt.wantErrCount == 0, result.IsValid())
		})
	}
}

func TestValidateFileInvalidJSON(t *testing.T) {
	result := ValidateBytes([]byte(`{"version": `))
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "invalid JSON")
}

func containsMessage(errs []ValidationError, want string) bool {
	for _, e := range errs {
		if strings.Contains(e.Message, want) {
			return true
		}
	}
	return false
}
