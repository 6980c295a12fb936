package repository

import (
	"context"
	"time"

	"medconnect/backend/internal/session/domain"
)

// Repository defines persistence for token records. Methods documented as atomic
// run as one transaction or one conditional statement.
type Repository interface {
	// Create inserts all records atomically.
	Create(ctx context.Context, recs ...*domain.TokenRecord) error
	// GetByHash returns the record with the given token hash in any state, or nil.
	GetByHash(ctx context.Context, tokenHash string) (*domain.TokenRecord, error)
	// Rotate atomically marks the old record used (only if still unused and unexpired at now)
	// and inserts newRecs. Returns false, with nothing written, if the old record was already used.
	Rotate(ctx context.Context, oldID string, now time.Time, newRecs ...*domain.TokenRecord) (bool, error)
	// RevokeSession marks the access record with accessHash used, together with the unused
	// refresh record of the same session. Returns the number of records revoked.
	RevokeSession(ctx context.Context, userID, accessHash string, now time.Time) (int64, error)
	// RevokeAll marks every unused, unexpired record of the given kinds for the user used.
	RevokeAll(ctx context.Context, userID string, kinds []domain.Kind, now time.Time) (int64, error)
	// ListActive returns the user's unused, unexpired ACCESS and REFRESH records, newest first.
	ListActive(ctx context.Context, userID string, now time.Time) ([]*domain.TokenRecord, error)
	// ReplaceReset atomically deletes the user's unused PASSWORD_RESET records and inserts rec.
	ReplaceReset(ctx context.Context, rec *domain.TokenRecord) error
	// CompleteReset atomically consumes the reset record (CAS on used), stores the new password
	// hash and revokes all of the user's active ACCESS and REFRESH records. Returns false, with
	// nothing written, if the reset record was no longer usable.
	CompleteReset(ctx context.Context, resetID, userID, passwordHash string, now time.Time) (bool, error)
}
