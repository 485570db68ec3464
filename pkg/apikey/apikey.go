// Package apikey generates, hashes and formats opaque bearer credentials.
//
// A raw key looks like "sk-stellar-" followed by 32 lowercase hex characters.
// Only its SHA-256 hash and a short display prefix are ever persisted.
package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// Scheme is the literal prefix of every raw key.
	Scheme = "sk-stellar-"

	// Length is the total length of a raw key.
	Length = len(Scheme) + 2*randomBytes

	// DisplayLength is how many leading characters survive in the display prefix.
	DisplayLength = 16

	randomBytes = 16
)

// Generate returns a fresh raw key backed by crypto/rand.
func Generate() (string, error) {
	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return Scheme + hex.EncodeToString(buf), nil
}

// Hash returns the lowercase hex SHA-256 of raw.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Prefix returns the display form: the first 16 characters followed by "...".
func Prefix(raw string) string {
	if len(raw) <= DisplayLength {
		return raw + "..."
	}
	return raw[:DisplayLength] + "..."
}

// Valid reports whether raw has the wire format of a key this package generates.
func Valid(raw string) bool {
	if len(raw) != Length || !strings.HasPrefix(raw, Scheme) {
		return false
	}
	for _, c := range raw[len(Scheme):] {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
