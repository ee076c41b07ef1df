// Package token issues URL-safe random tokens and their storage digests.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

const defaultBytes = 32

// New returns a URL-safe random token carrying 256 bits of entropy.
func New() (string, error) {
	return NewWithBytes(defaultBytes)
}

// NewWithBytes returns a URL-safe random token built from n random bytes.
func NewWithBytes(n int) (string, error) {
	if n <= 0 {
		n = defaultBytes
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash returns the hex SHA-256 digest stored in place of a raw token.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

// Generator issues tokens; it exists so callers can substitute deterministic
// tokens in tests.
type Generator interface {
	New() (string, error)
}

type randomGenerator struct{}

func NewGenerator() Generator {
	return randomGenerator{}
}

func (randomGenerator) New() (string, error) {
	return New()
}
