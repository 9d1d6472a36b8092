package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/dgellow/forgegate/internal/autherr"
	"github.com/dgellow/forgegate/internal/log"
)

// Minimum key sizes, in bytes
const (
	EncryptionKeySize   = 32
	MinCookieSigningKey = 32
)

var bashStyleRegex = regexp.MustCompile(`\$\{?([A-Z_][A-Z0-9_]*)\}?`)

// ValidateConfig validates the resolved configuration and returns the first
// problem as a *autherr.ConfigError.
func ValidateConfig(config *Config) error {
	if config.Server.BaseURL == "" {
		return &autherr.ConfigError{Field: "server.baseURL", Reason: "is required"}
	}
	if err := validateAbsoluteURL("server.baseURL", config.Server.BaseURL); err != nil {
		return err
	}
	if config.Server.Addr == "" {
		return &autherr.ConfigError{Field: "server.addr", Reason: "is required"}
	}
	return validateAuthConfig(&config.Auth)
}

func validateAuthConfig(a *AuthConfig) error {
	switch a.Provider {
	case ProviderGitHub:
		if a.EnterpriseURL != "" {
			if err := validateAbsoluteURL("auth.enterpriseUrl", a.EnterpriseURL); err != nil {
				return err
			}
		}
	case ProviderOIDC, ProviderGitLab, ProviderGitea:
		if a.IssuerURL == "" {
			return &autherr.ConfigError{Field: "auth.issuerUrl", Reason: fmt.Sprintf("is required for provider %q", a.Provider)}
		}
		if err := validateAbsoluteURL("auth.issuerUrl", a.IssuerURL); err != nil {
			return err
		}
	case "":
		return &autherr.ConfigError{Field: "auth.provider", Reason: "is required"}
	default:
		return &autherr.ConfigError{Field: "auth.provider", Reason: fmt.Sprintf("unknown provider %q, use github, oidc, gitlab or gitea", a.Provider)}
	}

	if a.ClientID == "" {
		return &autherr.ConfigError{Field: "auth.clientId", Reason: "is required"}
	}
	if a.ClientSecret == "" {
		return &autherr.ConfigError{Field: "auth.clientSecret", Reason: "is required"}
	}
	if a.RedirectURL == "" {
		return &autherr.ConfigError{Field: "auth.redirectUrl", Reason: "is required"}
	}
	if err := validateAbsoluteURL("auth.redirectUrl", a.RedirectURL); err != nil {
		return err
	}

	switch a.EmptyDomainsPolicy {
	case EmptyDomainsDeny, EmptyDomainsAllow:
	default:
		return &autherr.ConfigError{Field: "auth.emptyDomainsPolicy", Reason: fmt.Sprintf("unknown policy %q, use deny or allow", a.EmptyDomainsPolicy)}
	}
	if len(a.AllowedDomains) == 0 {
		if a.EmptyDomainsPolicy == EmptyDomainsAllow {
			log.LogWarn("No allowed domains configured and emptyDomainsPolicy is 'allow': every identity will be admitted")
		} else {
			log.LogWarn("No allowed domains configured and emptyDomainsPolicy is 'deny': every login will be rejected")
		}
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"auth.stateTtl", a.StateTTL},
		{"auth.providerTimeout", a.ProviderTimeout},
		{"auth.sessionTtl", a.SessionTTL},
		{"auth.sweepInterval", a.SweepInterval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return &autherr.ConfigError{Field: d.name, Reason: "must be positive"}
		}
	}

	if len(a.CookieSigningKey) < MinCookieSigningKey {
		return &autherr.ConfigError{
			Field:  "auth.cookieSigningKey",
			Reason: fmt.Sprintf("must be at least %d bytes (got %d). Generate with: openssl rand -base64 32", MinCookieSigningKey, len(a.CookieSigningKey)),
		}
	}

	switch a.Storage {
	case StorageMemory:
	case StorageRedis:
		if a.RedisURL == "" {
			return &autherr.ConfigError{Field: "auth.redisUrl", Reason: "is required when using redis storage"}
		}
	case StorageFirestore:
		if a.GCPProject == "" {
			return &autherr.ConfigError{Field: "auth.gcpProject", Reason: "is required when using firestore storage"}
		}
	default:
		return &autherr.ConfigError{Field: "auth.storage", Reason: fmt.Sprintf("unknown storage %q, use memory, redis or firestore", a.Storage)}
	}

	if a.Storage != StorageMemory && a.EncryptionKey == "" {
		return &autherr.ConfigError{Field: "auth.encryptionKey", Reason: fmt.Sprintf("is required when using %s storage", a.Storage)}
	}
	if a.EncryptionKey != "" && len(a.EncryptionKey) != EncryptionKeySize {
		return &autherr.ConfigError{
			Field:  "auth.encryptionKey",
			Reason: fmt.Sprintf("must be exactly %d bytes (got %d). Generate with: openssl rand -base64 32 | head -c 32", EncryptionKeySize, len(a.EncryptionKey)),
		}
	}
	return nil
}

func validateAbsoluteURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &autherr.ConfigError{Field: field, Reason: "is not a valid URL"}
	}
	if u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return &autherr.ConfigError{Field: field, Reason: "must be an absolute http(s) URL"}
	}
	return nil
}

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

// ValidateFile validates a config file structure without requiring env vars
func ValidateFile(path string) (*ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ValidateDocument(data), nil
}

// ValidateDocument is ValidateFile for a document already in memory
func ValidateDocument(data []byte) *ValidationResult {
	result := &ValidationResult{}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Message: fmt.Sprintf("invalid JSON: %v", err),
		})
		return result
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.Errors = append(result.Errors, ValidationError{
			Path:    "version",
			Message: fmt.Sprintf("version field is required. Hint: Add \"version\": %q", Version),
		})
	} else if version != Version {
		result.Errors = append(result.Errors, ValidationError{
			Path:    "version",
			Message: fmt.Sprintf("unsupported version '%s' - use '%s'", version, Version),
		})
	}

	if server, ok := rawConfig["server"].(map[string]any); !ok {
		result.Errors = append(result.Errors, ValidationError{
			Path:    "server",
			Message: "server field is required and must be an object",
		})
	} else if _, ok := server["baseURL"]; !ok {
		result.Errors = append(result.Errors, ValidationError{
			Path:    "server.baseURL",
			Message: "baseURL is required. Example: \"https://app.example.com\"",
		})
	}

	auth, ok := rawConfig["auth"].(map[string]any)
	if !ok {
		result.Errors = append(result.Errors, ValidationError{
			Path:    "auth",
			Message: "auth field is required and must be an object",
		})
		return result
	}
	validateAuthStructure(auth, result)
	return result
}

func validateAuthStructure(auth map[string]any, result *ValidationResult) {
	provider, _ := auth["provider"].(string)
	switch strings.ToLower(provider) {
	case ProviderGitHub:
	case ProviderOIDC, ProviderGitLab, ProviderGitea:
		if _, ok := auth["issuerUrl"]; !ok {
			result.Errors = append(result.Errors, ValidationError{
				Path:    "auth.issuerUrl",
				Message: fmt.Sprintf("issuerUrl is required for provider '%s'", provider),
			})
		}
	case "":
		result.Errors = append(result.Errors, ValidationError{
			Path:    "auth.provider",
			Message: "provider is required. Use \"github\" or \"oidc\"",
		})
	default:
		result.Errors = append(result.Errors, ValidationError{
			Path:    "auth.provider",
			Message: fmt.Sprintf("unknown provider '%s' - use github, oidc, gitlab or gitea", provider),
		})
	}

	for _, name := range []string{"clientId", "clientSecret", "redirectUrl", "cookieSigningKey"} {
		if _, ok := auth[name]; !ok {
			result.Errors = append(result.Errors, ValidationError{
				Path:    "auth." + name,
				Message: name + " is required",
			})
		}
	}
	for _, name := range secretFields {
		if value, ok := auth[name]; ok {
			if issue := validateEnvVarReference(value, name, "auth."+name); issue != nil {
				result.Errors = append(result.Errors, *issue)
			}
		}
	}

	if _, ok := auth["allowedDomains"]; !ok {
		policy, _ := auth["emptyDomainsPolicy"].(string)
		if policy == EmptyDomainsAllow {
			result.Warnings = append(result.Warnings, ValidationError{
				Path:    "auth.allowedDomains",
				Message: "no allowed domains and emptyDomainsPolicy 'allow' admits every identity",
			})
		} else {
			result.Warnings = append(result.Warnings, ValidationError{
				Path:    "auth.allowedDomains",
				Message: "no allowed domains: every login will be rejected. Set emptyDomainsPolicy to 'allow' to admit everyone",
			})
		}
	}

	storage, _ := auth["storage"].(string)
	if storage != "" && storage != StorageMemory {
		if _, ok := auth["encryptionKey"]; !ok {
			result.Errors = append(result.Errors, ValidationError{
				Path:    "auth.encryptionKey",
				Message: fmt.Sprintf("encryptionKey is required when using %s storage", storage),
			})
		}
	}
}

func validateEnvVarReference(value any, fieldName, path string) *ValidationError {
	switch v := value.(type) {
	case string:
		if matches := bashStyleRegex.FindStringSubmatch(v); len(matches) > 1 {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", v, matches[1]),
			}
		}
		// never echo the literal, it is a secret
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must use environment variable reference {\"$env\": \"YOUR_ENV_VAR\"} instead of plain text", fieldName),
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; !hasEnv {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("%s must use {\"$env\": \"YOUR_ENV_VAR\"} format", fieldName),
			}
		}
		return nil
	default:
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must be an environment variable reference {\"$env\": \"YOUR_ENV_VAR\"}, not %T", fieldName, value),
		}
	}
}

// checkBashStyleSyntax recursively checks for bash-style env var syntax
func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.Warnings = append(result.Warnings, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", match, varName),
			})
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
