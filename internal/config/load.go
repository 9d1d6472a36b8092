package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgellow/forgegate/internal/autherr"
)

// secretFields must be given as {"$env": "VAR"} references, never literals
var secretFields = []string{"clientSecret", "encryptionKey", "cookieSigningKey"}

// Load loads and processes the config with immediate env var resolution.
// Every failure is a *autherr.ConfigError.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &autherr.ConfigError{Reason: fmt.Sprintf("reading config file: %v", err)}
	}
	return Parse(data)
}

// Parse is Load for a config document already in memory
func Parse(data []byte) (Config, error) {
	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, &autherr.ConfigError{Reason: fmt.Sprintf("parsing config JSON: %v", err)}
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, &autherr.ConfigError{Field: "version", Reason: "is required"}
	}
	if version != Version {
		return Config{}, &autherr.ConfigError{Field: "version", Reason: fmt.Sprintf("unsupported config version %q", version)}
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, err
	}

	// The custom UnmarshalJSON methods resolve env vars immediately
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		var cfgErr *autherr.ConfigError
		if errors.As(err, &cfgErr) {
			return Config{}, cfgErr
		}
		return Config{}, &autherr.ConfigError{Reason: fmt.Sprintf("parsing config: %v", err)}
	}

	if err := ValidateConfig(&config); err != nil {
		return Config{}, err
	}
	return config, nil
}

// validateRawConfig checks secret fields before environment resolution
func validateRawConfig(rawConfig map[string]any) error {
	auth, ok := rawConfig["auth"].(map[string]any)
	if !ok {
		return &autherr.ConfigError{Field: "auth", Reason: "is required and must be an object"}
	}

	for _, name := range secretFields {
		value, exists := auth[name]
		if !exists {
			continue
		}
		if issue := validateEnvVarReference(value, name, "auth."+name); issue != nil {
			return &autherr.ConfigError{Field: issue.Path, Reason: issue.Message}
		}
	}
	return nil
}
