package security

import "time"

const testSecret = "test-secret-0123456789-abcdefghijklmnop"

// NewTestTokenService returns a TokenService with a fixed test secret and issuer.
// For unit tests only.
func NewTestTokenService() *TokenService {
	s, err := NewTokenService(testSecret, "test-issuer")
	if err != nil {
		panic(err)
	}
	return s
}

// WithClock returns a copy of s that reads the current time from now. For tests.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	cp := *s
	cp.now = now
	return &cp
}
