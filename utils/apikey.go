package utils

import (
	"crypto/rand"
	"encoding/hex"
)

// GenerateAPIKey returns a 32-character random hex token.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
