package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// tokenBytes is the entropy of every opaque token we mint.
const tokenBytes = 32

// GenerateSecureToken creates a cryptographically secure random token.
// Returns an unpadded base64 URL-encoded string suitable for anti-forgery
// state parameters and session identifiers.
func GenerateSecureToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
