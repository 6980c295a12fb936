package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"medconnect/backend/internal/db"
	"medconnect/backend/internal/otp/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an OTP challenge repository that uses the given db.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

const challengeColumns = `id, phone, code_hash, attempts, consumed, verified_at, created_at, expires_at`

// Issue serializes on the phone with a transaction-scoped advisory lock so two
// concurrent sends cannot both pass the cooldown check.
func (r *PostgresRepository) Issue(ctx context.Context, c *domain.Challenge, cooldown time.Duration) (time.Duration, error) {
	var retryAfter time.Duration
	err := db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, c.Phone); err != nil {
			return err
		}
		var last sql.NullTime
		if err := tx.QueryRowContext(ctx,
			`SELECT max(created_at) FROM otp_challenges WHERE phone = $1`, c.Phone,
		).Scan(&last); err != nil {
			return err
		}
		if last.Valid {
			if wait := last.Time.Add(cooldown).Sub(c.CreatedAt); wait > 0 {
				retryAfter = wait
				return nil
			}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE otp_challenges SET consumed = true WHERE phone = $1 AND consumed = false`, c.Phone,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO otp_challenges (id, phone, code_hash, attempts, consumed, created_at, expires_at)
			 VALUES ($1, $2, $3, 0, false, $4, $5)`,
			c.ID, c.Phone, c.CodeHash, c.CreatedAt, c.ExpiresAt,
		)
		return err
	})
	if err != nil {
		return 0, err
	}
	return retryAfter, nil
}

// Latest returns the newest challenge for phone, or nil if none exists.
func (r *PostgresRepository) Latest(ctx context.Context, phone string) (*domain.Challenge, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+challengeColumns+` FROM otp_challenges WHERE phone = $1 ORDER BY created_at DESC LIMIT 1`, phone)
	c, err := scanChallenge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// RecordFailure increments in a single statement so concurrent wrong guesses cannot lose updates.
func (r *PostgresRepository) RecordFailure(ctx context.Context, id string, maxAttempts int) (int, bool, bool, error) {
	var attempts int
	var consumed bool
	err := r.db.QueryRowContext(ctx,
		`UPDATE otp_challenges
		 SET attempts = attempts + 1, consumed = (attempts + 1 >= $2)
		 WHERE id = $1 AND consumed = false
		 RETURNING attempts, consumed`,
		id, maxAttempts,
	).Scan(&attempts, &consumed)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, err
	}
	return attempts, consumed, true, nil
}

// MarkVerified is a compare-and-swap on consumed.
func (r *PostgresRepository) MarkVerified(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE otp_challenges SET consumed = true, verified_at = $2 WHERE id = $1 AND consumed = false`, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Invalidate consumes the challenge without marking it verified.
func (r *PostgresRepository) Invalidate(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE otp_challenges SET consumed = true WHERE id = $1`, id)
	return err
}

// VerifiedSince reports whether phone has a challenge verified at or after since.
func (r *PostgresRepository) VerifiedSince(ctx context.Context, phone string, since time.Time) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM otp_challenges WHERE phone = $1 AND verified_at IS NOT NULL AND verified_at >= $2)`,
		phone, since,
	).Scan(&ok)
	return ok, err
}

func scanChallenge(row *sql.Row) (*domain.Challenge, error) {
	var c domain.Challenge
	var verified sql.NullTime
	if err := row.Scan(&c.ID, &c.Phone, &c.CodeHash, &c.Attempts, &c.Consumed, &verified, &c.CreatedAt, &c.ExpiresAt); err != nil {
		return nil, err
	}
	if verified.Valid {
		t := verified.Time
		c.VerifiedAt = &t
	}
	return &c, nil
}
