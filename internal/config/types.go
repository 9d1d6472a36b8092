package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Version is the only supported config version
const Version = "v1"

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// GoString redacts %#v as well
func (s Secret) GoString() string {
	return `config.Secret("` + s.String() + `")`
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// Provider kinds
const (
	ProviderGitHub = "github"
	ProviderOIDC   = "oidc"
	ProviderGitLab = "gitlab"
	ProviderGitea  = "gitea"
)

// Storage backends
const (
	StorageMemory    = "memory"
	StorageRedis     = "redis"
	StorageFirestore = "firestore"
)

// Empty allow-list policies
const (
	EmptyDomainsDeny  = "deny"
	EmptyDomainsAllow = "allow"
)

// Defaults applied when a field is absent
const (
	DefaultAddr                    = ":8080"
	DefaultMissingEmailPlaceholder = "<N/D for this profile>"
	DefaultStateTTL                = 10 * time.Minute
	DefaultProviderTimeout         = 10 * time.Second
	DefaultSessionTTL              = 24 * time.Hour
	DefaultSweepInterval           = time.Minute
	DefaultFirestoreDatabase       = "(default)"
	DefaultFirestoreCollection     = "forgegate"
)

// Config is the whole configuration file
type Config struct {
	Version string       `json:"version"`
	Server  ServerConfig `json:"server"`
	Auth    AuthConfig   `json:"auth"`
}

// ServerConfig configures the reference HTTP host
type ServerConfig struct {
	Addr    string `json:"addr"`
	BaseURL string `json:"baseURL"`
}

// AuthConfig configures the identity provider, admission and storage
type AuthConfig struct {
	Provider      string   `json:"provider"`
	IssuerURL     string   `json:"issuerUrl,omitempty"`
	EnterpriseURL string   `json:"enterpriseUrl,omitempty"`
	Scopes        []string `json:"scopes,omitempty"`

	ClientID     string `json:"clientId"`
	ClientSecret Secret `json:"clientSecret"`
	RedirectURL  string `json:"redirectUrl"`

	AllowedDomains          []string `json:"allowedDomains"`
	EmptyDomainsPolicy      string   `json:"emptyDomainsPolicy"`
	MissingEmailPlaceholder string   `json:"missingEmailPlaceholder"`

	StateTTL        time.Duration `json:"stateTtl"`
	ProviderTimeout time.Duration `json:"providerTimeout"`
	SessionTTL      time.Duration `json:"sessionTtl"`
	SweepInterval   time.Duration `json:"sweepInterval"`

	Storage             string `json:"storage"`
	RedisURL            Secret `json:"redisUrl,omitempty"`
	GCPProject          string `json:"gcpProject,omitempty"`
	FirestoreDatabase   string `json:"firestoreDatabase,omitempty"`
	FirestoreCollection string `json:"firestoreCollection,omitempty"`

	EncryptionKey    Secret `json:"encryptionKey,omitempty"`
	CookieSigningKey Secret `json:"cookieSigningKey"`
}

// RawConfigValue is a value that may come from an environment reference
type RawConfigValue struct {
	value string
	isRef bool
}

// ParseConfigValue parses a JSON value that is either a string or an
// {"$env": "VAR"} reference. An unset variable is an error.
func ParseConfigValue(raw json.RawMessage) (*RawConfigValue, error) {
	return parseConfigValue(raw, false)
}

func parseConfigValue(raw json.RawMessage, allowUnset bool) (*RawConfigValue, error) {
	// Try plain string first
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return &RawConfigValue{value: str}, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return nil, fmt.Errorf("unknown reference type in config value")
	}
	value, set := os.LookupEnv(envVar)
	if !set && !allowUnset {
		return nil, fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return &RawConfigValue{value: value, isRef: true}, nil
}
