package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// HashToken returns the hex SHA-256 of a raw token. Only this hash is ever
// persisted; raw access, refresh and reset tokens are not.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// RandomHex returns n random bytes, hex-encoded (2n characters).
func RandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HashPrefix returns the first 8 characters of a stored hash followed by "...",
// the only form in which token hashes leave the service.
func HashPrefix(hash string) string {
	if len(hash) > 8 {
		hash = hash[:8]
	}
	return hash + "..."
}
