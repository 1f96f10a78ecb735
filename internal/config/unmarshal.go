package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ParseConfigValue parses a JSON value that is either a plain string or an
// environment reference of the form {"$env": "VAR_NAME"}.
//
// The explicit JSON syntax is used instead of $VAR expansion so that config
// files passed through shells and CI pipelines are never expanded early.
func ParseConfigValue(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type in config value")
	}
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", field, err)
	}
	return d, nil
}

// UnmarshalJSON resolves env references for secrets
func (s *Secret) UnmarshalJSON(data []byte) error {
	value, err := ParseConfigValue(data)
	if err != nil {
		return err
	}
	*s = Secret(value)
	return nil
}

// UnmarshalJSON implements custom unmarshaling for FrontConfig
func (f *FrontConfig) UnmarshalJSON(data []byte) error {
	type alias FrontConfig
	aux := struct {
		*alias
		BaseURL           json.RawMessage `json:"baseURL"`
		ClientIdleTimeout string          `json:"clientIdleTimeout"`
		CleanupInterval   string          `json:"cleanupInterval"`
	}{alias: (*alias)(f)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	if f.BaseURL, err = ParseConfigValue(aux.BaseURL); err != nil {
		return fmt.Errorf("parsing baseURL: %w", err)
	}
	if f.ClientIdleTimeout, err = parseDuration("clientIdleTimeout", aux.ClientIdleTimeout); err != nil {
		return err
	}
	if f.CleanupInterval, err = parseDuration("cleanupInterval", aux.CleanupInterval); err != nil {
		return err
	}
	return nil
}

// UnmarshalJSON implements custom unmarshaling for APIConfig
func (a *APIConfig) UnmarshalJSON(data []byte) error {
	type alias APIConfig
	aux := struct {
		*alias
		BaseURL json.RawMessage `json:"baseURL"`
		Timeout string          `json:"timeout"`
	}{alias: (*alias)(a)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	if a.BaseURL, err = ParseConfigValue(aux.BaseURL); err != nil {
		return fmt.Errorf("parsing baseURL: %w", err)
	}
	if a.Timeout, err = parseDuration("timeout", aux.Timeout); err != nil {
		return err
	}
	return nil
}

// UnmarshalJSON implements custom unmarshaling for FederatedIdentityConfig
func (c *FederatedIdentityConfig) UnmarshalJSON(data []byte) error {
	type alias FederatedIdentityConfig
	aux := struct {
		*alias
		ClientID json.RawMessage `json:"clientId"`
	}{alias: (*alias)(c)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	clientID, err := ParseConfigValue(aux.ClientID)
	if err != nil {
		return fmt.Errorf("parsing clientId: %w", err)
	}
	c.ClientID = clientID
	return nil
}

// UnmarshalJSON implements custom unmarshaling for TokenStorageConfig
func (t *TokenStorageConfig) UnmarshalJSON(data []byte) error {
	type alias TokenStorageConfig
	aux := struct {
		*alias
		GCPProject json.RawMessage `json:"gcpProject"`
	}{alias: (*alias)(t)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	project, err := ParseConfigValue(aux.GCPProject)
	if err != nil {
		return fmt.Errorf("parsing gcpProject: %w", err)
	}
	t.GCPProject = project
	return nil
}

// UnmarshalJSON implements custom unmarshaling for RoleConfig
func (r *RoleConfig) UnmarshalJSON(data []byte) error {
	type alias RoleConfig
	aux := struct {
		*alias
		CacheTTL string `json:"cacheTtl"`
	}{alias: (*alias)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	ttl, err := parseDuration("cacheTtl", aux.CacheTTL)
	if err != nil {
		return err
	}
	r.CacheTTL = ttl
	return nil
}
