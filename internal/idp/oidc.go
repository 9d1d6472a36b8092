package idp

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCProvider implements the Provider interface for OIDC-compliant identity
// providers such as GitLab or Gitea. Endpoints come from discovery; an
// id_token returned with the access token is verified before the profile is
// trusted.
type OIDCProvider struct {
	providerType string
	descriptor   ProviderConfig
	config       oauth2.Config
	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	httpClient   *http.Client
}

// NewOIDCProvider runs discovery against issuerURL. Discovery and every later
// call use an HTTP client bounded by timeout.
func NewOIDCProvider(ctx context.Context, providerType string, cfg ProviderConfig, issuerURL string, scopes []string, timeout time.Duration) (*OIDCProvider, error) {
	if issuerURL == "" {
		return nil, fmt.Errorf("issuerUrl is required for OIDC providers")
	}
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}
	if providerType == "" {
		providerType = "oidc"
	}

	httpClient := &http.Client{Timeout: timeout}

	// the provider keeps this context for JWKS refreshes, so it must outlive ctx
	discoveryCtx := oidc.ClientContext(context.WithoutCancel(ctx), httpClient)
	provider, err := oidc.NewProvider(discoveryCtx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch OIDC discovery: %w", err)
	}

	endpoint := provider.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInHeader

	return &OIDCProvider{
		providerType: providerType,
		descriptor:   cfg,
		config:       cfg.oauth2Config(endpoint, scopes),
		provider:     provider,
		verifier:     provider.Verifier(&oidc.Config{ClientID: cfg.ClientID()}),
		httpClient:   httpClient,
	}, nil
}

// Type returns the provider type.
func (p *OIDCProvider) Type() string {
	return p.providerType
}

// AuthURL generates the authorization URL.
func (p *OIDCProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// ExchangeCode exchanges an authorization code for tokens.
func (p *OIDCProvider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, p.descriptor.redact(err)
	}
	return token, nil
}

// UserInfo fetches claims from the userinfo endpoint. String, boolean and
// numeric claims are kept, nulls stay null, anything else is dropped.
func (p *OIDCProvider) UserInfo(ctx context.Context, token *oauth2.Token) (Claims, error) {
	ctx = oidc.ClientContext(ctx, p.httpClient)

	var idTokenSubject string
	if rawIDToken, ok := token.Extra("id_token").(string); ok && rawIDToken != "" {
		idToken, err := p.verifier.Verify(ctx, rawIDToken)
		if err != nil {
			return nil, fmt.Errorf("failed to verify id_token: %w", err)
		}
		idTokenSubject = idToken.Subject
	}

	info, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", p.descriptor.redact(err))
	}

	var raw map[string]any
	if err := info.Claims(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}

	claims := make(Claims, len(raw))
	for name, value := range raw {
		switch v := value.(type) {
		case nil:
			claims.SetNull(name)
		case string:
			claims.Set(name, v)
		case bool:
			claims.Set(name, strconv.FormatBool(v))
		case float64:
			claims.Set(name, strconv.FormatFloat(v, 'f', -1, 64))
		}
	}

	if claims.Subject() == "" {
		return nil, fmt.Errorf("user info has no subject")
	}
	if idTokenSubject != "" && idTokenSubject != claims.Subject() {
		return nil, fmt.Errorf("user info subject does not match id_token subject")
	}
	if _, ok := claims[ClaimEmail]; !ok {
		claims.SetNull(ClaimEmail)
	}
	return claims, nil
}
