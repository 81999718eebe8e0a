package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

// DefaultTokenBytes is the entropy of an ephemeral capability token.
const DefaultTokenBytes = 32

// NewToken returns n cryptographically random bytes, hex encoded.
func NewToken(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("token size must be > 0")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// HashToken returns the hex sha256 digest under which a token is stored.
// Plaintext tokens never reach the record store.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// TokensEqual compares two token strings in constant time.
func TokensEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
