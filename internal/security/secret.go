package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// NewRawSecret returns 64 random bytes hex-encoded. This is the unrecorded
// half of a composite refresh token; only its hash is ever persisted.
func NewRawSecret() (string, error) {
	b := make([]byte, 64)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate refresh secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashSecret returns the SHA-256 hex digest of a raw secret. One-way: the
// stored digest cannot be turned back into a usable composite token.
func HashSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// SecretHashEquals compares two hash strings in constant time.
func SecretHashEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
