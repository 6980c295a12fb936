// Package otp generates, hashes and compares numeric one-time codes and normalizes phone numbers.
package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
)

const (
	minPhoneDigits = 8
	maxPhoneDigits = 10
)

// ErrInvalidPhone is returned when a phone number does not normalize to 8–10 digits.
var ErrInvalidPhone = errors.New("phone must contain between 8 and 10 digits")

// GenerateCode returns a numeric code of the given length, each digit drawn
// uniformly from crypto/rand.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("otp: length must be positive")
	}
	ten := big.NewInt(10)
	s := make([]byte, length)
	for i := range s {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		s[i] = '0' + byte(n.Int64())
	}
	return string(s), nil
}

// HashCode returns a SHA-256 hash of the code, hex-encoded.
func HashCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// CodeEqual performs constant-time comparison of the provided code's hash with the stored hash.
func CodeEqual(providedCode, storedHash string) bool {
	if providedCode == "" {
		return false
	}
	providedHash := HashCode(providedCode)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}

// NormalizePhone strips everything but digits and checks the 8–10 digit range.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	phone := b.String()
	if len(phone) < minPhoneDigits || len(phone) > maxPhoneDigits {
		return "", ErrInvalidPhone
	}
	return phone, nil
}

// MaskPhone keeps the first and last two digits: "0701020304" → "07******04".
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return phone[:2] + strings.Repeat("*", len(phone)-4) + phone[len(phone)-2:]
}
