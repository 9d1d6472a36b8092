package idp

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/dgellow/forgegate/internal/autherr"
	"golang.org/x/oauth2"
)

// Provider abstracts identity provider operations.
type Provider interface {
	// Type returns the provider type identifier (e.g., "github", "oidc").
	Type() string

	// AuthURL generates the authorization URL for the OAuth flow.
	AuthURL(state string) string

	// ExchangeCode exchanges an authorization code for tokens.
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)

	// UserInfo fetches the profile of the token's owner as raw claims.
	// The returned claims always carry a non-empty subject.
	UserInfo(ctx context.Context, token *oauth2.Token) (Claims, error)
}

// ProviderConfig identifies this application to the identity provider.
// It is immutable once built and never prints the client secret.
type ProviderConfig struct {
	clientID     string
	clientSecret string
	redirectURL  string
}

// NewProviderConfig validates and builds a ProviderConfig. Failures are
// *autherr.ConfigError.
func NewProviderConfig(clientID, clientSecret, redirectURL string) (ProviderConfig, error) {
	if strings.TrimSpace(clientID) == "" {
		return ProviderConfig{}, &autherr.ConfigError{Field: "clientId", Reason: "is required"}
	}
	if clientSecret == "" {
		return ProviderConfig{}, &autherr.ConfigError{Field: "clientSecret", Reason: "is required"}
	}
	if redirectURL == "" {
		return ProviderConfig{}, &autherr.ConfigError{Field: "redirectUrl", Reason: "is required"}
	}
	u, err := url.Parse(redirectURL)
	if err != nil {
		return ProviderConfig{}, &autherr.ConfigError{Field: "redirectUrl", Reason: "is not a valid URL"}
	}
	if !u.IsAbs() || u.Host == "" {
		return ProviderConfig{}, &autherr.ConfigError{Field: "redirectUrl", Reason: "must be an absolute URL"}
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return ProviderConfig{}, &autherr.ConfigError{Field: "redirectUrl", Reason: "must use http or https"}
	}
	if u.Fragment != "" {
		return ProviderConfig{}, &autherr.ConfigError{Field: "redirectUrl", Reason: "must not contain a fragment"}
	}

	return ProviderConfig{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURL:  u.String(),
	}, nil
}

// ClientID returns the OAuth client id.
func (c ProviderConfig) ClientID() string { return c.clientID }

// RedirectURL returns the registered callback URL.
func (c ProviderConfig) RedirectURL() string { return c.redirectURL }

// CallbackPath returns the path component of the redirect URL, which the
// host routes to the callback handler.
func (c ProviderConfig) CallbackPath() string {
	u, err := url.Parse(c.redirectURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

// String implements fmt.Stringer without the secret.
func (c ProviderConfig) String() string {
	return "ProviderConfig{clientId=" + c.clientID + ", redirectUrl=" + c.redirectURL + ", clientSecret=***}"
}

// GoString keeps %#v from printing the secret.
func (c ProviderConfig) GoString() string { return c.String() }

func (c ProviderConfig) oauth2Config(endpoint oauth2.Endpoint, scopes []string) oauth2.Config {
	return oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		RedirectURL:  c.redirectURL,
		Scopes:       scopes,
		Endpoint:     endpoint,
	}
}

// redact scrubs the client secret, raw or query-escaped, from err's message.
// The result keeps errors.Is matching (deadline, cancellation) but does not
// expose the original chain, which may still contain the secret.
func (c ProviderConfig) redact(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, s := range []string{c.clientSecret, url.QueryEscape(c.clientSecret)} {
		if s != "" {
			msg = strings.ReplaceAll(msg, s, "***")
		}
	}
	return &redactedError{msg: msg, cause: err}
}

type redactedError struct {
	msg   string
	cause error
}

func (e *redactedError) Error() string { return e.msg }

func (e *redactedError) Is(target error) bool { return errors.Is(e.cause, target) }
