package idp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newFakeOIDCServer(t *testing.T, userInfo map[string]any) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/.well-known/openid-configuration":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"issuer":                                server.URL,
				"authorization_endpoint":                server.URL + "/authorize",
				"token_endpoint":                        server.URL + "/token",
				"userinfo_endpoint":                     server.URL + "/userinfo",
				"jwks_uri":                              server.URL + "/keys",
				"id_token_signing_alg_values_supported": []string{"RS256"},
			})
		case "/token":
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "client-id", user)
			assert.Equal(t, "oidc-secret", pass)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "oidc-access",
				"token_type":   "Bearer",
			})
		case "/userinfo":
			assert.Equal(t, "Bearer oidc-access", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(userInfo)
		case "/keys":
			_ = json.NewEncoder(w).Encode(map[string]any{"keys": []any{}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestOIDCProvider(t *testing.T, issuer string) *OIDCProvider {
	t.Helper()
	cfg, err := NewProviderConfig("client-id", "oidc-secret", "https://app.example.com/auth/callback")
	require.NoError(t, err)
	provider, err := NewOIDCProvider(context.Background(), "gitlab", cfg, issuer, nil, 5*time.Second)
	require.NoError(t, err)
	return provider
}

func TestNewOIDCProvider_Discovery(t *testing.T) {
	server := newFakeOIDCServer(t, nil)
	provider := newTestOIDCProvider(t, server.URL)

	assert.Equal(t, "gitlab", provider.Type())
	authURL := provider.AuthURL("test-state")
	assert.Contains(t, authURL, server.URL+"/authorize")
	assert.Contains(t, authURL, "state=test-state")
	assert.Contains(t, authURL, "scope=openid+email+profile")
}

func TestNewOIDCProvider_Errors(t *testing.T) {
	cfg, err := NewProviderConfig("client-id", "oidc-secret", "https://app.example.com/auth/callback")
	require.NoError(t, err)

	_, err = NewOIDCProvider(context.Background(), "oidc", cfg, "", nil, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "issuerUrl is required")

	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()
	_, err = NewOIDCProvider(context.Background(), "oidc", cfg, server.URL, nil, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discovery")
}

func TestOIDCProvider_ExchangeAndUserInfo(t *testing.T) {
	server := newFakeOIDCServer(t, map[string]any{
		"sub":            "abc-123",
		"email":          "dev@company.com",
		"email_verified": true,
		"name":           "Dev",
		"nickname":       nil,
		"updated_at":     1700000000,
		"groups":         []string{"eng"},
	})
	provider := newTestOIDCProvider(t, server.URL)

	token, err := provider.ExchangeCode(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, "oidc-access", token.AccessToken)

	claims, err := provider.UserInfo(context.Background(), token)
	require.NoError(t, err)

	assert.Equal(t, "abc-123", claims.Subject())
	email, _ := claims.Get(ClaimEmail)
	assert.Equal(t, "dev@company.com", email)
	verified, _ := claims.Get(ClaimEmailVerified)
	assert.Equal(t, "true", verified)
	updated, _ := claims.Get("updated_at")
	assert.Equal(t, "1700000000", updated)
	assert.Contains(t, claims, "nickname")
	assert.True(t, claims.IsNull("nickname"))
	assert.NotContains(t, claims, "groups")
}

func TestOIDCProvider_UserInfo_MissingEmailIsNull(t *testing.T) {
	server := newFakeOIDCServer(t, map[string]any{"sub": "abc-123"})
	provider := newTestOIDCProvider(t, server.URL)

	claims, err := provider.UserInfo(context.Background(), &oauth2.Token{AccessToken: "oidc-access"})
	require.NoError(t, err)
	assert.Contains(t, claims, ClaimEmail)
	assert.True(t, claims.IsNull(ClaimEmail))
}

func TestOIDCProvider_UserInfo_MissingSubject(t *testing.T) {
	server := newFakeOIDCServer(t, map[string]any{"sub": "", "email": "dev@company.com"})
	provider := newTestOIDCProvider(t, server.URL)

	_, err := provider.UserInfo(context.Background(), &oauth2.Token{AccessToken: "oidc-access"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no subject")
}

func TestOIDCProvider_UserInfo_RejectsBadIDToken(t *testing.T) {
	server := newFakeOIDCServer(t, map[string]any{"sub": "abc-123"})
	provider := newTestOIDCProvider(t, server.URL)

	token := (&oauth2.Token{AccessToken: "oidc-access"}).WithExtra(map[string]any{"id_token": "not-a-jwt"})
	_, err := provider.UserInfo(context.Background(), token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id_token")
}
