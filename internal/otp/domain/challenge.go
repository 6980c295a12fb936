package domain

import "time"

// Challenge is an OTP challenge (otp_challenges table). Only the code hash is stored.
type Challenge struct {
	ID       string
	Phone    string
	CodeHash string
	Attempts int
	Consumed bool
	// VerifiedAt is set when the challenge was consumed by a correct code. Challenges
	// consumed by supersession, delivery failure or too many attempts leave it nil.
	VerifiedAt *time.Time
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// IsExpired reports whether the challenge has expired at now.
func (c *Challenge) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// IsLive reports whether the challenge is unconsumed and unexpired at now.
func (c *Challenge) IsLive(now time.Time) bool {
	return !c.Consumed && !c.IsExpired(now)
}
