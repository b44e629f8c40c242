package accounts

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// TokenSize is the number of random bytes behind a token, 256 bits.
const TokenSize = 32

// GenerateTokenID returns a URL safe random token usable as a path segment.
func GenerateTokenID() (string, error) {
	buffer := make([]byte, TokenSize)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

// DigestToken returns the storage key for a token value.
func DigestToken(tokenID string) string {
	sum := sha256.Sum256([]byte(tokenID))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// wellFormedTokenID rejects values that could never have been issued so they
// do not reach the store.
func wellFormedTokenID(tokenID string) bool {
	if len(tokenID) != base64.RawURLEncoding.EncodedLen(TokenSize) {
		return false
	}
	return strings.Trim(tokenID, "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_") == ""
}

// NormalizeEmail lower cases and trims an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
