// Package crypto covers API key generation and hashing. Tenant keys are
// random, tagged with a stable prefix, and only ever persisted as hashes.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// KeyPrefix tags every tenant-issued API key.
const KeyPrefix = "fra_"

// GenerateAPIKey returns a new tenant key: the prefix plus 32 random bytes
// hex-encoded. The plaintext is shown to the caller exactly once and never
// stored.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return KeyPrefix + hex.EncodeToString(buf), nil
}

// HashAPIKey returns the deterministic digest stored and used for lookups.
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}
