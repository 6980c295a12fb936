package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"medconnect/backend/internal/db"
	"medconnect/backend/internal/session/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a token record repository that uses the given db for persistence.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

const recordColumns = `id, user_id, session_id, kind, token_hash, payload, used, created_at, expires_at, used_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRecords(ctx context.Context, ex execer, recs []*domain.TokenRecord) error {
	for _, r := range recs {
		var payload any
		if len(r.Payload) > 0 {
			payload = []byte(r.Payload)
		}
		_, err := ex.ExecContext(ctx,
			`INSERT INTO token_records (id, user_id, session_id, kind, token_hash, payload, used, created_at, expires_at)
			 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, false, $7, $8)`,
			r.ID, r.UserID, r.SessionID, string(r.Kind), r.TokenHash, payload, r.CreatedAt, r.ExpiresAt,
		)
		if err != nil {
			return db.MapConflict(err)
		}
	}
	return nil
}

// Create inserts all records in one transaction.
func (r *PostgresRepository) Create(ctx context.Context, recs ...*domain.TokenRecord) error {
	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		return insertRecords(ctx, tx, recs)
	})
}

// GetByHash returns the record for tokenHash, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByHash(ctx context.Context, tokenHash string) (*domain.TokenRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM token_records WHERE token_hash = $1`, tokenHash)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// Rotate is the replay-prevention boundary: the conditional UPDATE lets exactly one
// concurrent caller flip used for a given record.
func (r *PostgresRepository) Rotate(ctx context.Context, oldID string, now time.Time, newRecs ...*domain.TokenRecord) (bool, error) {
	rotated := false
	err := db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE token_records SET used = true, used_at = $2
			 WHERE id = $1 AND kind = 'REFRESH' AND used = false AND expires_at > $2`,
			oldID, now,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			return errStale
		}
		if err := insertRecords(ctx, tx, newRecs); err != nil {
			return err
		}
		rotated = true
		return nil
	})
	if errors.Is(err, errStale) {
		return false, nil
	}
	return rotated, err
}

var errStale = errors.New("record already used or expired")

// RevokeSession marks the current access record and the refresh record minted with it used.
// Other sessions of the user are untouched, however close in time they were issued.
func (r *PostgresRepository) RevokeSession(ctx context.Context, userID, accessHash string, now time.Time) (int64, error) {
	var total int64
	err := db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var sessionID sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT session_id FROM token_records WHERE token_hash = $1 AND user_id = $2 AND kind = 'ACCESS'`,
			accessHash, userID,
		).Scan(&sessionID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE token_records SET used = true, used_at = $3
			 WHERE user_id = $1 AND used = false
			   AND (token_hash = $2 OR (kind = 'REFRESH' AND session_id = $4))`,
			userID, accessHash, now, sessionID,
		)
		if err != nil {
			return err
		}
		total, err = res.RowsAffected()
		return err
	})
	return total, err
}

// RevokeAll marks every unused, unexpired record of the given kinds used.
func (r *PostgresRepository) RevokeAll(ctx context.Context, userID string, kinds []domain.Kind, now time.Time) (int64, error) {
	return revokeAll(ctx, r.db, userID, kinds, now)
}

func revokeAll(ctx context.Context, ex execer, userID string, kinds []domain.Kind, now time.Time) (int64, error) {
	ks := make([]string, len(kinds))
	for i, k := range kinds {
		ks[i] = string(k)
	}
	res, err := ex.ExecContext(ctx,
		`UPDATE token_records SET used = true, used_at = $3
		 WHERE user_id = $1 AND kind = ANY($2) AND used = false AND expires_at > $3`,
		userID, ks, now,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListActive returns active ACCESS and REFRESH records, newest first.
func (r *PostgresRepository) ListActive(ctx context.Context, userID string, now time.Time) ([]*domain.TokenRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM token_records
		 WHERE user_id = $1 AND kind IN ('ACCESS', 'REFRESH') AND used = false AND expires_at > $2
		 ORDER BY created_at DESC`,
		userID, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.TokenRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ReplaceReset keeps at most one reset in flight per user.
func (r *PostgresRepository) ReplaceReset(ctx context.Context, rec *domain.TokenRecord) error {
	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM token_records WHERE user_id = $1 AND kind = 'PASSWORD_RESET' AND used = false`, rec.UserID,
		); err != nil {
			return err
		}
		return insertRecords(ctx, tx, []*domain.TokenRecord{rec})
	})
}

// CompleteReset consumes the reset record, updates the password and logs out every session.
func (r *PostgresRepository) CompleteReset(ctx context.Context, resetID, userID, passwordHash string, now time.Time) (bool, error) {
	done := false
	err := db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE token_records SET used = true, used_at = $3
			 WHERE id = $1 AND user_id = $2 AND kind = 'PASSWORD_RESET' AND used = false AND expires_at > $3`,
			resetID, userID, now,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n != 1 {
			return errStale
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`, userID, passwordHash, now,
		); err != nil {
			return err
		}
		if _, err := revokeAll(ctx, tx, userID, []domain.Kind{domain.KindAccess, domain.KindRefresh}, now); err != nil {
			return err
		}
		done = true
		return nil
	})
	if errors.Is(err, errStale) {
		return false, nil
	}
	return done, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*domain.TokenRecord, error) {
	var rec domain.TokenRecord
	var kind string
	var payload []byte
	var sessionID sql.NullString
	var usedAt sql.NullTime
	if err := s.Scan(&rec.ID, &rec.UserID, &sessionID, &kind, &rec.TokenHash, &payload, &rec.Used, &rec.CreatedAt, &rec.ExpiresAt, &usedAt); err != nil {
		return nil, err
	}
	rec.SessionID = sessionID.String
	rec.Kind = domain.Kind(kind)
	if len(payload) > 0 {
		rec.Payload = payload
	}
	if usedAt.Valid {
		t := usedAt.Time
		rec.UsedAt = &t
	}
	return &rec, nil
}
