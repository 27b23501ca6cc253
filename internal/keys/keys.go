// Package keys issues and hashes the opaque guest API keys. Keys are only
// ever persisted as salted SHA-256 digests.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Prefix marks every guest key so the middleware can reject foreign
// credentials before touching the store.
const Prefix = "guest_"

const rawKeyBytes = 24

// Hasher computes salted one-way digests of guest keys.
type Hasher struct {
	salt string
}

// NewHasher creates a Hasher with the configured salt.
func NewHasher(salt string) *Hasher {
	return &Hasher{salt: salt}
}

// Hash returns the hex digest of key+salt.
func (h *Hasher) Hash(key string) string {
	sum := sha256.Sum256([]byte(key + h.salt))
	return hex.EncodeToString(sum[:])
}

// Generate mints a fresh opaque guest key.
func Generate() (string, error) {
	buf := make([]byte, rawKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate guest key: %w", err)
	}
	return Prefix + hex.EncodeToString(buf), nil
}

// IsGuestKey reports whether the raw credential carries the guest prefix.
func IsGuestKey(key string) bool {
	return strings.HasPrefix(key, Prefix)
}
