package repository

import (
	"context"
	"time"

	"medconnect/backend/internal/otp/domain"
)

// Repository defines persistence for OTP challenges. Every method is a single
// atomic unit against the store.
type Repository interface {
	// Issue inserts c unless a challenge for c.Phone was created less than cooldown
	// before c.CreatedAt; in that case nothing is written and the remaining wait is
	// returned. On insert, all prior unconsumed challenges for the phone are consumed.
	Issue(ctx context.Context, c *domain.Challenge, cooldown time.Duration) (retryAfter time.Duration, err error)
	// Latest returns the newest challenge for phone regardless of state, or nil.
	Latest(ctx context.Context, phone string) (*domain.Challenge, error)
	// RecordFailure increments attempts on an unconsumed challenge and consumes it once
	// attempts reaches maxAttempts. ok is false if the challenge was already consumed.
	RecordFailure(ctx context.Context, id string, maxAttempts int) (attempts int, consumed bool, ok bool, err error)
	// MarkVerified consumes an unconsumed challenge and stamps VerifiedAt. Returns false
	// if another request consumed it first.
	MarkVerified(ctx context.Context, id string, at time.Time) (bool, error)
	// Invalidate consumes the challenge without verifying it.
	Invalidate(ctx context.Context, id string) error
	// VerifiedSince reports whether a challenge for phone was verified at or after since.
	VerifiedSince(ctx context.Context, phone string, since time.Time) (bool, error)
}
