package idp

import (
	"context"
	"fmt"

	"github.com/dgellow/forgegate/internal/config"
)

// NewProvider creates a Provider based on the AuthConfig.
func NewProvider(ctx context.Context, cfg config.AuthConfig) (Provider, error) {
	descriptor, err := NewProviderConfig(cfg.ClientID, string(cfg.ClientSecret), cfg.RedirectURL)
	if err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case "github":
		return NewGitHubProvider(descriptor, cfg.EnterpriseURL, cfg.ProviderTimeout)

	case "oidc", "gitlab", "gitea":
		return NewOIDCProvider(ctx, cfg.Provider, descriptor, cfg.IssuerURL, cfg.Scopes, cfg.ProviderTimeout)

	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Provider)
	}
}
