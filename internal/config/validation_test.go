package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paths(issues []ValidationError) []string {
	out := make([]string, len(issues))
	for i, issue := range issues {
		out[i] = issue.Path
	}
	return out
}

func TestValidateFile_Valid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(validDocument), 0o600))

	// env vars are not needed to validate structure
	result, err := ValidateFile(path)
	require.NoError(t, err)
	assert.True(t, result.IsValid(), "errors: %v", result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name         string
		doc          string
		wantErrors   []string
		wantWarnings []string
	}{
		{
			name:       "invalid json",
			doc:        `{`,
			wantErrors: []string{""},
		},
		{
			name: "plain text secret and bash syntax",
			doc: `{"version": "v1", "server": {"baseURL": "https://app.example.com"},
				"auth": {"provider": "github", "clientId": "${CLIENT_ID}", "clientSecret": "hunter2",
				"redirectUrl": "https://app.example.com/cb", "cookieSigningKey": {"$env": "K"},
				"allowedDomains": ["example.com"]}}`,
			wantErrors:   []string{"auth.clientSecret"},
			wantWarnings: []string{"auth.clientId"},
		},
		{
			name: "missing required fields",
			doc:  `{"version": "v2", "server": {}, "auth": {"provider": "gitea", "storage": "redis"}}`,
			wantErrors: []string{
				"version", "server.baseURL", "auth.issuerUrl",
				"auth.clientId", "auth.clientSecret", "auth.redirectUrl", "auth.cookieSigningKey",
				"auth.encryptionKey",
			},
			wantWarnings: []string{"auth.allowedDomains"},
		},
		{
			name:       "missing auth",
			doc:        `{"version": "v1", "server": {"baseURL": "https://app.example.com"}}`,
			wantErrors: []string{"auth"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateDocument([]byte(tt.doc))
			assert.ElementsMatch(t, tt.wantErrors, paths(result.Errors))
			assert.ElementsMatch(t, tt.wantWarnings, paths(result.Warnings))
			for _, issue := range result.Errors {
				assert.NotContains(t, issue.Message, "hunter2")
			}
		})
	}
}
