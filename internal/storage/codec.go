package storage

import (
	"encoding/json"
	"fmt"

	"github.com/dgellow/forgegate/internal/crypto"
	"github.com/dgellow/forgegate/internal/idp"
)

// sealClaims encodes claims as JSON and encrypts the result. Null claims
// survive the round trip.
func sealClaims(enc crypto.Encryptor, claims idp.Claims) (string, error) {
	data, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to marshal claims: %w", err)
	}
	sealed, err := enc.Encrypt(string(data))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt claims: %w", err)
	}
	return sealed, nil
}

func openClaims(enc crypto.Encryptor, sealed string) (idp.Claims, error) {
	data, err := enc.Decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt claims: %w", err)
	}
	var claims idp.Claims
	if err := json.Unmarshal([]byte(data), &claims); err != nil {
		return nil, fmt.Errorf("failed to unmarshal claims: %w", err)
	}
	if claims == nil {
		claims = idp.Claims{}
	}
	return claims, nil
}
