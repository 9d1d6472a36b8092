package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dgellow/forgegate/internal/log"
	"github.com/dgellow/forgegate/internal/urlutil"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const defaultGitHubAPIBaseURL = "https://api.github.com"

// GitHubProvider implements the Provider interface for GitHub OAuth.
// GitHub uses OAuth 2.0 (not OIDC) and has its own API for user info.
type GitHubProvider struct {
	descriptor ProviderConfig
	config     oauth2.Config
	apiBaseURL string
	httpClient *http.Client
}

// githubUserResponse represents GitHub's user API response. Nullable fields
// are pointers so an explicit null survives into the claims.
type githubUserResponse struct {
	ID        int64   `json:"id"`
	Login     string  `json:"login"`
	Email     *string `json:"email"`
	Name      *string `json:"name"`
	AvatarURL string  `json:"avatar_url"`
	HTMLURL   string  `json:"html_url"`
}

// githubEmailResponse represents an email from GitHub's emails API.
type githubEmailResponse struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// NewGitHubProvider creates a GitHub OAuth provider. enterpriseURL selects a
// GitHub Enterprise Server host (https://git.example.com); empty means
// github.com. Every HTTP call is bounded by timeout.
func NewGitHubProvider(cfg ProviderConfig, enterpriseURL string, timeout time.Duration) (*GitHubProvider, error) {
	endpoint := github.Endpoint
	apiBaseURL := defaultGitHubAPIBaseURL

	if enterpriseURL != "" {
		base := strings.TrimRight(enterpriseURL, "/")
		u, err := url.Parse(base)
		if err != nil || !u.IsAbs() {
			return nil, fmt.Errorf("invalid enterprise URL %q", enterpriseURL)
		}
		endpoint = oauth2.Endpoint{
			AuthURL:  base + "/login/oauth/authorize",
			TokenURL: base + "/login/oauth/access_token",
		}
		apiBaseURL = base + "/api/v3"
	}
	// a single token request per exchange, no header/params probing
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	return &GitHubProvider{
		descriptor: cfg,
		config:     cfg.oauth2Config(endpoint, []string{"read:user", "user:email"}),
		apiBaseURL: apiBaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Type returns the provider type.
func (p *GitHubProvider) Type() string {
	return "github"
}

// AuthURL generates the authorization URL.
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.SetAuthURLParam("allow_signup", "false"))
}

// ExchangeCode exchanges an authorization code for tokens.
func (p *GitHubProvider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, p.descriptor.redact(err)
	}
	return token, nil
}

// UserInfo fetches the profile from GitHub's API. A null email is kept null
// unless /user/emails yields a verified address.
func (p *GitHubProvider) UserInfo(ctx context.Context, token *oauth2.Token) (Claims, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	client := p.config.Client(ctx, token)

	var user githubUserResponse
	if err := p.getJSON(ctx, client, "user", &user); err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("github profile has no id")
	}

	claims := Claims{}
	claims.Set(ClaimSubject, strconv.FormatInt(user.ID, 10))
	claims.Set(ClaimLogin, user.Login)
	setNullable(claims, ClaimName, user.Name)
	claims.Set(ClaimPicture, user.AvatarURL)
	claims.Set(ClaimProfile, user.HTMLURL)

	// GitHub only shows verified emails in the user profile
	if user.Email != nil && *user.Email != "" {
		claims.Set(ClaimEmail, *user.Email)
		claims.Set(ClaimEmailVerified, "true")
		return claims, nil
	}

	email, err := p.fetchPrimaryEmail(ctx, client)
	if err != nil {
		log.LogDebugWithFields("idp", "No email available for GitHub profile", map[string]any{
			"sub":   claims.Subject(),
			"error": err.Error(),
		})
		claims.SetNull(ClaimEmail)
		return claims, nil
	}
	claims.Set(ClaimEmail, email)
	claims.Set(ClaimEmailVerified, "true")
	return claims, nil
}

func (p *GitHubProvider) fetchPrimaryEmail(ctx context.Context, client *http.Client) (string, error) {
	var emails []githubEmailResponse
	if err := p.getJSON(ctx, client, "user/emails", &emails); err != nil {
		return "", fmt.Errorf("failed to get emails: %w", err)
	}

	for _, email := range emails {
		if email.Primary && email.Verified {
			return email.Email, nil
		}
	}

	// Fallback to first verified email
	for _, email := range emails {
		if email.Verified {
			return email.Email, nil
		}
	}

	return "", fmt.Errorf("no verified email found")
}

func (p *GitHubProvider) getJSON(ctx context.Context, client *http.Client, path string, v any) error {
	endpoint, err := urlutil.JoinPath(p.apiBaseURL, path)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return p.descriptor.redact(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return p.descriptor.redact(fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func setNullable(c Claims, name string, v *string) {
	if v == nil {
		c.SetNull(name)
		return
	}
	c.Set(name, *v)
}
