package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// UnmarshalJSON implements custom unmarshaling for ServerConfig
func (s *ServerConfig) UnmarshalJSON(data []byte) error {
	type rawServer struct {
		Addr    json.RawMessage `json:"addr"`
		BaseURL json.RawMessage `json:"baseURL"`
	}

	var raw rawServer
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if err := resolveString(raw.Addr, "addr", &s.Addr); err != nil {
		return err
	}
	if err := resolveString(raw.BaseURL, "baseURL", &s.BaseURL); err != nil {
		return err
	}
	if s.Addr == "" {
		s.Addr = DefaultAddr
	}
	return nil
}

// UnmarshalJSON implements custom unmarshaling for AuthConfig. References
// are resolved immediately and defaults applied.
func (a *AuthConfig) UnmarshalJSON(data []byte) error {
	type rawAuth struct {
		Provider                string          `json:"provider"`
		IssuerURL               json.RawMessage `json:"issuerUrl"`
		EnterpriseURL           json.RawMessage `json:"enterpriseUrl"`
		Scopes                  []string        `json:"scopes"`
		ClientID                json.RawMessage `json:"clientId"`
		ClientSecret            json.RawMessage `json:"clientSecret"`
		RedirectURL             json.RawMessage `json:"redirectUrl"`
		AllowedDomains          json.RawMessage `json:"allowedDomains"`
		EmptyDomainsPolicy      string          `json:"emptyDomainsPolicy"`
		MissingEmailPlaceholder *string         `json:"missingEmailPlaceholder"`
		StateTTL                string          `json:"stateTtl"`
		ProviderTimeout         string          `json:"providerTimeout"`
		SessionTTL              string          `json:"sessionTtl"`
		SweepInterval           string          `json:"sweepInterval"`
		Storage                 string          `json:"storage"`
		RedisURL                json.RawMessage `json:"redisUrl"`
		GCPProject              json.RawMessage `json:"gcpProject"`
		FirestoreDatabase       string          `json:"firestoreDatabase"`
		FirestoreCollection     string          `json:"firestoreCollection"`
		EncryptionKey           json.RawMessage `json:"encryptionKey"`
		CookieSigningKey        json.RawMessage `json:"cookieSigningKey"`
	}

	var raw rawAuth
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	a.Provider = strings.ToLower(raw.Provider)
	a.Scopes = raw.Scopes
	a.EmptyDomainsPolicy = strings.ToLower(raw.EmptyDomainsPolicy)
	a.Storage = strings.ToLower(raw.Storage)
	a.FirestoreDatabase = raw.FirestoreDatabase
	a.FirestoreCollection = raw.FirestoreCollection

	plain := []struct {
		raw  json.RawMessage
		name string
		dst  *string
	}{
		{raw.IssuerURL, "issuerUrl", &a.IssuerURL},
		{raw.EnterpriseURL, "enterpriseUrl", &a.EnterpriseURL},
		{raw.ClientID, "clientId", &a.ClientID},
		{raw.RedirectURL, "redirectUrl", &a.RedirectURL},
		{raw.GCPProject, "gcpProject", &a.GCPProject},
	}
	for _, f := range plain {
		if err := resolveString(f.raw, f.name, f.dst); err != nil {
			return err
		}
	}

	secrets := []struct {
		raw  json.RawMessage
		name string
		dst  *Secret
	}{
		{raw.ClientSecret, "clientSecret", &a.ClientSecret},
		{raw.RedisURL, "redisUrl", &a.RedisURL},
		{raw.EncryptionKey, "encryptionKey", &a.EncryptionKey},
		{raw.CookieSigningKey, "cookieSigningKey", &a.CookieSigningKey},
	}
	for _, f := range secrets {
		var value string
		if err := resolveString(f.raw, f.name, &value); err != nil {
			return err
		}
		*f.dst = Secret(value)
	}

	domains, err := parseDomains(raw.AllowedDomains)
	if err != nil {
		return fmt.Errorf("parsing allowedDomains: %w", err)
	}
	a.AllowedDomains = domains

	durations := []struct {
		raw  string
		name string
		dst  *time.Duration
		def  time.Duration
	}{
		{raw.StateTTL, "stateTtl", &a.StateTTL, DefaultStateTTL},
		{raw.ProviderTimeout, "providerTimeout", &a.ProviderTimeout, DefaultProviderTimeout},
		{raw.SessionTTL, "sessionTtl", &a.SessionTTL, DefaultSessionTTL},
		{raw.SweepInterval, "sweepInterval", &a.SweepInterval, DefaultSweepInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			*d.dst = d.def
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	if raw.MissingEmailPlaceholder != nil {
		a.MissingEmailPlaceholder = *raw.MissingEmailPlaceholder
	} else {
		a.MissingEmailPlaceholder = DefaultMissingEmailPlaceholder
	}
	if a.EmptyDomainsPolicy == "" {
		a.EmptyDomainsPolicy = EmptyDomainsDeny
	}
	if a.Storage == "" {
		a.Storage = StorageMemory
	}
	if a.Storage == StorageFirestore {
		if a.FirestoreDatabase == "" {
			a.FirestoreDatabase = DefaultFirestoreDatabase
		}
		if a.FirestoreCollection == "" {
			a.FirestoreCollection = DefaultFirestoreCollection
		}
	}
	return nil
}

func resolveString(raw json.RawMessage, name string, dst *string) error {
	if raw == nil {
		return nil
	}
	parsed, err := ParseConfigValue(raw)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	*dst = parsed.value
	return nil
}

// parseDomains accepts a JSON list, a string, or an $env reference. Strings
// are split on whitespace. An unset variable yields an empty list, which the
// empty domains policy then decides on.
func parseDomains(raw json.RawMessage) ([]string, error) {
	if raw == nil {
		return nil, nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return normalizeDomains(list), nil
	}

	parsed, err := parseConfigValue(raw, true)
	if err != nil {
		return nil, err
	}
	return normalizeDomains(strings.Fields(parsed.value)), nil
}

func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, d := range in {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}
