package internal

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

// MinTokenBytes is the smallest random token accepted: 256 bits.
const MinTokenBytes = 32

// NewHexToken returns n random bytes from crypto/rand, hex encoded.
func NewHexToken(n int) (string, error) {
	if n < MinTokenBytes {
		return "", errors.New("token must carry at least 256 bits")
	}
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// EqualSecret compares two secrets in constant time. Empty values never
// match.
func EqualSecret(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
