package util

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	tokenBytes = 32
	// TokenPrefix marks tenant API tokens so leaked ones are easy to grep for.
	TokenPrefix = "odk_"
)

func GenerateToken() (string, error) {
	bytes := make([]byte, tokenBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return TokenPrefix + hex.EncodeToString(bytes), nil
}

func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// MaskToken keeps the prefix and the first characters of a token for logs.
func MaskToken(token string) string {
	rest := strings.TrimPrefix(token, TokenPrefix)
	if len(rest) <= 6 {
		return "****"
	}
	return token[:len(token)-len(rest)] + rest[:6] + "****"
}
